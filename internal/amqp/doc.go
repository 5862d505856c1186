// Package amqp is the bridge's delivery transport: outbound envelopes
// are published to the broker with publisher confirms, and inbound
// broker messages are consumed and handed to the router.
//
// The reserved identity fields travel on the protocol's native
// message-id and correlation-id fields, never as custom headers; all
// other envelope properties become application headers.
package amqp
