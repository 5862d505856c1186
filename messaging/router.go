package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgewire/bridgemq-go/codec"
	"github.com/edgewire/bridgemq-go/contracts"
)

// InboundRouter forwards inbound envelopes to the local service named by
// their "service" property. It runs synchronously in whatever goroutine
// the transport delivers on, so every operation it performs is bounded:
// a missing, slow, or undersized service rejects the one message and
// nothing else.
type InboundRouter struct {
	resolver ServiceResolver
	logger   *slog.Logger
}

// RouterOption configures the InboundRouter.
type RouterOption func(*InboundRouter)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *InboundRouter) {
		r.logger = logger
	}
}

// NewInboundRouter creates a router over the given resolver.
func NewInboundRouter(resolver ServiceResolver, options ...RouterOption) *InboundRouter {
	r := &InboundRouter{
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Route delivers one envelope to its target service. A nil return means
// the message was written; any error is a rejection of this message
// only. The route is resolved fresh and the channel closed again within
// this single call.
func (r *InboundRouter) Route(env *contracts.Envelope) error {
	if env == nil {
		return &contracts.RouteError{Op: "route", Err: fmt.Errorf("envelope cannot be nil")}
	}

	service, ok := env.Properties.Get(contracts.ServiceKey)
	if !ok {
		return &contracts.RouteError{
			Op:  "lookup",
			Err: fmt.Errorf("no %s property: %w", contracts.ServiceKey, contracts.ErrNotFound),
		}
	}

	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		r.dumpProperties(env, service)
	}

	ch, err := r.resolver.Resolve(service)
	if err != nil {
		return &contracts.RouteError{Service: service, Op: "resolve", Err: err}
	}
	defer ch.Close()

	data, err := codec.SerializeEnvelope(env, ch.MaxMessageSize())
	if err != nil {
		return &contracts.RouteError{Service: service, Op: "serialize", Err: err}
	}

	if err := ch.Write(data); err != nil {
		return &contracts.RouteError{Service: service, Op: "write", Err: err}
	}

	r.logger.Debug("routed inbound message",
		"service", service,
		"messageId", env.MessageID,
		"bytes", len(data))

	return nil
}

func (r *InboundRouter) dumpProperties(env *contracts.Envelope, service string) {
	attrs := []any{
		"service", service,
		"messageId", env.MessageID,
		"correlationId", env.CorrelationID,
	}
	for i := 0; i < env.Properties.Len(); i++ {
		p := env.Properties.At(i)
		attrs = append(attrs, "p:"+p.Key, p.Value)
	}
	r.logger.Debug("inbound message properties", attrs...)
}
