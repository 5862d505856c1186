package messaging

import (
	"context"

	"github.com/edgewire/bridgemq-go/contracts"
)

// DeliveryTransport is the external delivery capability. Deliver hands an
// envelope to the transport and returns an opaque token used only for
// diagnostic correlation; the transport reports the eventual outcome
// through the tracker's OnOutcome, from its own goroutine.
type DeliveryTransport interface {
	Deliver(ctx context.Context, env *contracts.Envelope) (string, error)
}

// BodyFetcher retrieves the out-of-band body for a message, keyed by the
// sender's process id.
type BodyFetcher interface {
	Fetch(ctx context.Context, senderID uint32) ([]byte, error)
}

// IngressQueue is the channel locally-submitted raw messages arrive on.
// Receive may return a slice that aliases an internal buffer; it is only
// valid until the next call.
type IngressQueue interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// ServiceChannel is a resolved route to one local service, good for a
// single write.
type ServiceChannel interface {
	MaxMessageSize() int
	Write(p []byte) error
	Close() error
}

// ServiceResolver resolves a service name to a channel. Implementations
// must resolve fresh on every call; routed services may come and go
// between messages.
type ServiceResolver interface {
	Resolve(name string) (ServiceChannel, error)
}

// ServiceResolverFunc is a function adapter for ServiceResolver.
type ServiceResolverFunc func(name string) (ServiceChannel, error)

// Resolve implements ServiceResolver.
func (f ServiceResolverFunc) Resolve(name string) (ServiceChannel, error) {
	return f(name)
}
