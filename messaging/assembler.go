package messaging

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/edgewire/bridgemq-go/codec"
	"github.com/edgewire/bridgemq-go/contracts"
)

// Assembler combines a parsed property header and a retrieved body into
// an outbound Envelope. Not safe for concurrent use: it keeps a scratch
// property list that is cleared, not reallocated, between messages,
// matching the one-message-at-a-time ingress loop that owns it.
type Assembler struct {
	scratch contracts.PropertyList
	logger  *slog.Logger
}

// AssemblerOption configures the Assembler.
type AssemblerOption func(*Assembler)

// WithAssemblerLogger sets the logger.
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// NewAssembler creates a new assembler.
func NewAssembler(options ...AssemblerOption) *Assembler {
	a := &Assembler{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Assemble builds an outbound envelope. The header may be empty. The
// reserved messageId and correlationId keys are extracted into the
// envelope's identity fields by exact, case-sensitive match; when the
// same reserved key appears twice, the first occurrence wins and the
// rest are dropped. A missing messageId is replaced with a fresh UUID,
// so an assembled envelope never leaves without one.
//
// The header scratch and the body are copied into the envelope: the
// envelope is handed to an asynchronous transport and outlives the loop
// iteration whose buffers produced it.
func (a *Assembler) Assemble(header string, body []byte) (*contracts.Envelope, error) {
	if err := codec.Parse(header, &a.scratch); err != nil {
		return nil, err
	}

	env := &contracts.Envelope{
		Direction: contracts.Outbound,
	}

	for i := 0; i < a.scratch.Len(); i++ {
		p := a.scratch.At(i)
		switch p.Key {
		case contracts.MessageIDKey:
			if env.MessageID == "" {
				env.MessageID = p.Value
			}
		case contracts.CorrelationIDKey:
			if env.CorrelationID == "" {
				env.CorrelationID = p.Value
			}
		default:
			env.Properties.Append(p.Key, p.Value)
		}
	}

	if env.MessageID == "" {
		env.MessageID = uuid.New().String()
		a.logger.Debug("generated message id", "messageId", env.MessageID)
	}

	if len(body) > 0 {
		env.Body = append([]byte(nil), body...)
	}

	return env, nil
}
