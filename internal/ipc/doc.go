// Package ipc provides the local inter-process channels of the bridge:
// the Unix datagram ingress socket clients submit messages to, the
// per-sender FIFO side-channel message bodies arrive on, and the named
// datagram sockets inbound messages are routed out to.
//
// Datagram sockets give the same discrete-message semantics the routing
// protocol needs: one send is one message, never split, never coalesced.
package ipc
