package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/edgewire/bridgemq-go/contracts"
)

const confirmBuffer = 64

// ConfirmFunc receives the asynchronous outcome for one delivered
// envelope, keyed by the token Deliver returned.
type ConfirmFunc func(token string, ok bool)

// channelState ties the in-flight token map to the one confirming
// channel whose delivery tags it was built from.
type channelState struct {
	ch     *amqp.Channel
	tokens map[uint64]string
}

// Publisher delivers outbound envelopes to the broker with publisher
// confirms. It implements the bridge's delivery capability: Deliver
// returns immediately with a token, and the registered ConfirmFunc is
// invoked later, from the confirm goroutine, with the outcome.
type Publisher struct {
	cm         *ConnectionManager
	exchange   string
	routingKey string
	confirm    ConfirmFunc
	logger     *slog.Logger

	mu     sync.Mutex
	state  *channelState
	closed bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher targeting the given exchange and
// routing key.
func NewPublisher(cm *ConnectionManager, exchange, routingKey string, options ...PublisherOption) *Publisher {
	p := &Publisher{
		cm:         cm,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// OnConfirmation registers the callback invoked with each delivery
// outcome. Must be set before the first Deliver.
func (p *Publisher) OnConfirmation(fn ConfirmFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirm = fn
}

// Deliver publishes one envelope and returns a token for diagnostic
// correlation. The identity fields ride the protocol's native
// message-id and correlation-id; everything else becomes a header.
func (p *Publisher) Deliver(ctx context.Context, env *contracts.Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("envelope cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", contracts.ErrTransportUnavailable
	}
	if err := p.ensureChannelLocked(); err != nil {
		return "", err
	}

	seq := p.state.ch.GetNextPublishSeqNo()
	if err := p.state.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, buildPublishing(env)); err != nil {
		// channel may be poisoned; drop it so the next attempt redials
		p.state.ch.Close()
		p.state = nil
		return "", fmt.Errorf("publishing message %s: %w", env.MessageID, err)
	}

	token := fmt.Sprintf("%s#%d", env.MessageID, seq)
	p.state.tokens[seq] = token
	return token, nil
}

// Close stops the publisher. Outstanding confirms are reported as
// failures by the confirm loop when the channel goes down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.state != nil {
		err := p.state.ch.Close()
		p.state = nil
		return err
	}
	return nil
}

func (p *Publisher) ensureChannelLocked() error {
	if p.state != nil && !p.state.ch.IsClosed() {
		return nil
	}

	ch, err := p.cm.Channel()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enabling publisher confirms: %w", err)
	}

	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))
	state := &channelState{ch: ch, tokens: make(map[uint64]string)}
	p.state = state
	go p.confirmLoop(state, confirms)
	return nil
}

// confirmLoop translates broker confirmations into outcome callbacks.
// When the channel dies, every still-outstanding delivery is reported
// as failed; the broker will never confirm it now.
func (p *Publisher) confirmLoop(state *channelState, confirms <-chan amqp.Confirmation) {
	for conf := range confirms {
		p.mu.Lock()
		token, ok := state.tokens[conf.DeliveryTag]
		delete(state.tokens, conf.DeliveryTag)
		p.mu.Unlock()

		if !ok {
			p.logger.Warn("confirm for unknown delivery tag", "tag", conf.DeliveryTag)
			continue
		}
		p.notify(token, conf.Ack)
	}

	p.mu.Lock()
	orphans := state.tokens
	state.tokens = make(map[uint64]string)
	p.mu.Unlock()

	for _, token := range orphans {
		p.notify(token, false)
	}
}

func (p *Publisher) notify(token string, ok bool) {
	if p.confirm == nil {
		p.logger.Warn("delivery outcome with no confirmation callback",
			"token", token, "ok", ok)
		return
	}
	p.confirm(token, ok)
}

func buildPublishing(env *contracts.Envelope) amqp.Publishing {
	headers := amqp.Table{}
	for i := 0; i < env.Properties.Len(); i++ {
		prop := env.Properties.At(i)
		headers[prop.Key] = prop.Value
	}

	return amqp.Publishing{
		MessageId:     env.MessageID,
		CorrelationId: env.CorrelationID,
		Headers:       headers,
		ContentType:   "application/octet-stream",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		Body:          env.Body,
	}
}
