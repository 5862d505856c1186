// Package messaging implements the core of the bridge:
//   - Assembler: turns a property header plus a fetched body into an
//     outbound Envelope with a guaranteed message id
//   - DeliveryTracker: hands envelopes to the delivery transport and
//     keeps the attempted/succeeded/failed counters as confirmations
//     arrive asynchronously
//   - InboundRouter: forwards broker messages to named local services
//   - IngressLoop: the single control loop draining the ingress queue
//
// The loop processes one message to completion before dequeuing the
// next; the only concurrent entry points are the transport's
// confirmation callback (DeliveryTracker.OnOutcome) and the inbound
// delivery path (InboundRouter.Route), both of which are safe to call
// from the transport's own goroutines.
//
// Every per-message failure is logged and dropped. Nothing a client or
// the broker sends can terminate the loop or the process.
package messaging
