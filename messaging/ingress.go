package messaging

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/edgewire/bridgemq-go/contracts"
)

// Preamble is the fixed 4-byte marker every ingress message must begin
// with. It is followed by the 4-byte native-endian sender process id and
// the NUL-terminated property header text.
const Preamble = "BMQ1"

// ingressHeaderSize is the preamble plus the sender id.
const ingressHeaderSize = 8

// IngressLoop drains the ingress queue one message at a time: validate
// the preamble, fetch the out-of-band body, assemble an envelope, submit
// it for delivery. Each message runs to completion before the next is
// dequeued. A bad message of any kind is logged and dropped; the loop
// itself only stops on context cancellation or when the ingress queue
// fails underneath it.
type IngressLoop struct {
	queue     IngressQueue
	bodies    BodyFetcher
	assembler *Assembler
	tracker   *DeliveryTracker
	logger    *slog.Logger
}

// IngressOption configures the IngressLoop.
type IngressOption func(*IngressLoop)

// WithIngressLogger sets the logger.
func WithIngressLogger(logger *slog.Logger) IngressOption {
	return func(l *IngressLoop) {
		l.logger = logger
	}
}

// NewIngressLoop wires the loop to its collaborators.
func NewIngressLoop(queue IngressQueue, bodies BodyFetcher, assembler *Assembler, tracker *DeliveryTracker, options ...IngressOption) *IngressLoop {
	l := &IngressLoop{
		queue:     queue,
		bodies:    bodies,
		assembler: assembler,
		tracker:   tracker,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Run blocks processing messages until ctx is cancelled. It returns
// ctx.Err on cancellation and the queue's error if the ingress channel
// itself dies; per-message failures never surface here.
func (l *IngressLoop) Run(ctx context.Context) error {
	l.logger.Info("ingress loop started")
	for {
		raw, err := l.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("ingress loop stopped")
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("ingress queue closed: %w", err)
			}
			return fmt.Errorf("ingress receive: %w", err)
		}

		l.process(ctx, raw)
	}
}

// process handles one raw ingress message. Every failure is local to the
// message: log, drop, return.
func (l *IngressLoop) process(ctx context.Context, raw []byte) {
	if len(raw) < ingressHeaderSize || string(raw[:len(Preamble)]) != Preamble {
		l.logger.Warn("discarding ingress message",
			"error", contracts.ErrMalformedInput, "bytes", len(raw))
		return
	}

	senderID := binary.NativeEndian.Uint32(raw[len(Preamble):ingressHeaderSize])

	header := raw[ingressHeaderSize:]
	if i := bytes.IndexByte(header, 0); i >= 0 {
		header = header[:i]
	}

	body, err := l.bodies.Fetch(ctx, senderID)
	if err != nil {
		l.logger.Warn("cannot fetch message body",
			"senderId", senderID, "error", err)
		return
	}

	env, err := l.assembler.Assemble(string(header), body)
	if err != nil {
		l.logger.Warn("cannot assemble message",
			"senderId", senderID, "error", err)
		return
	}

	token, err := l.tracker.Submit(ctx, env)
	if err != nil {
		l.logger.Warn("cannot submit message",
			"senderId", senderID, "messageId", env.MessageID, "error", err)
		return
	}

	l.logger.Debug("ingress message submitted",
		"senderId", senderID, "messageId", env.MessageID, "token", token)
}
