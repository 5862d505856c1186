package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgewire/bridgemq-go/contracts"
)

// DeliveryRecord is the bookkeeping kept for one in-flight envelope. It
// exists from Submit until the transport reports an outcome and is never
// persisted.
type DeliveryRecord struct {
	MessageID   string
	SubmittedAt time.Time
}

// Counters is a snapshot of the process-wide transmission counters. They
// only ever grow for the life of the process.
type Counters struct {
	Attempted uint64
	Succeeded uint64
	Failed    uint64
}

// DeliveryTracker hands outbound envelopes to the delivery transport and
// records the outcome the transport reports asynchronously. It performs
// no retries; retry policy, if any, belongs to the transport.
type DeliveryTracker struct {
	transport DeliveryTransport
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*DeliveryRecord

	attempted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

// TrackerOption configures the DeliveryTracker.
type TrackerOption func(*DeliveryTracker)

// WithTrackerLogger sets the logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *DeliveryTracker) {
		t.logger = logger
	}
}

// NewDeliveryTracker creates a tracker in front of the given transport.
func NewDeliveryTracker(transport DeliveryTransport, options ...TrackerOption) *DeliveryTracker {
	t := &DeliveryTracker{
		transport: transport,
		pending:   make(map[string]*DeliveryRecord),
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Submit hands the envelope to the transport and registers a pending
// record under the returned token. Attempted is counted whether or not
// the transport accepts the envelope; a transport refusal is returned to
// the caller and nothing stays pending.
func (t *DeliveryTracker) Submit(ctx context.Context, env *contracts.Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("envelope cannot be nil")
	}

	t.attempted.Add(1)

	token, err := t.transport.Deliver(ctx, env)
	if err != nil {
		return "", fmt.Errorf("delivering message %s: %w", env.MessageID, err)
	}

	t.mu.Lock()
	t.pending[token] = &DeliveryRecord{
		MessageID:   env.MessageID,
		SubmittedAt: time.Now(),
	}
	t.mu.Unlock()

	t.logger.Debug("message submitted",
		"messageId", env.MessageID, "token", token)

	return token, nil
}

// OnOutcome records the transport's verdict for one in-flight envelope
// and destroys its record. Safe to call from the transport's own
// goroutine, concurrently with Submit. An unknown token still counts:
// the confirmation may race the registration of a just-submitted record,
// and the counters must not miss it.
func (t *DeliveryTracker) OnOutcome(token string, ok bool) {
	t.mu.Lock()
	rec, known := t.pending[token]
	if known {
		delete(t.pending, token)
	}
	t.mu.Unlock()

	if ok {
		t.succeeded.Add(1)
	} else {
		t.failed.Add(1)
	}

	if !known {
		t.logger.Warn("outcome for unknown token", "token", token, "ok", ok)
		return
	}

	t.logger.Debug("delivery outcome",
		"messageId", rec.MessageID,
		"token", token,
		"ok", ok,
		"inFlight", time.Since(rec.SubmittedAt))
}

// Snapshot returns the current counter values. Safe to call from a
// diagnostics path at any time.
func (t *DeliveryTracker) Snapshot() Counters {
	return Counters{
		Attempted: t.attempted.Load(),
		Succeeded: t.succeeded.Load(),
		Failed:    t.failed.Load(),
	}
}

// PendingCount returns the number of envelopes awaiting an outcome.
func (t *DeliveryTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
