package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/edgewire/bridgemq-go/contracts"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// ConnectionManager owns the broker connection. The connection string is
// the one startup secret the bridge requires; it is never logged in full.
type ConnectionManager struct {
	url            string
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	isConnected bool
	notifyClose chan *amqp.Error
	done        chan struct{}
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger.
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the delay between reconnection attempts.
func WithReconnectDelay(d time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = d
	}
}

// NewConnectionManager creates a manager for the given broker URL.
func NewConnectionManager(brokerURL string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            brokerURL,
		reconnectDelay: defaultReconnectDelay,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}
	for _, opt := range options {
		opt(cm)
	}
	return cm
}

// Connect establishes the initial connection and starts watching for
// broker-side closes.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	connCh := make(chan *amqp.Connection, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := amqp.Dial(cm.url)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- conn
	}()

	select {
	case conn := <-connCh:
		cm.conn = conn
		cm.isConnected = true
		cm.notifyClose = make(chan *amqp.Error, 1)
		conn.NotifyClose(cm.notifyClose)
		go cm.watch(cm.notifyClose)

		cm.logger.Info("connected to broker", "url", SanitizeURL(cm.url))
		return nil

	case err := <-errCh:
		return fmt.Errorf("connecting to %s: %w", SanitizeURL(cm.url), err)

	case <-connCtx.Done():
		// let the straggler dial clean up after itself
		go func() {
			select {
			case conn := <-connCh:
				conn.Close()
			case <-errCh:
			}
		}()
		return fmt.Errorf("connecting to %s: %w", SanitizeURL(cm.url), connCtx.Err())
	}
}

// watch reconnects whenever the broker drops the connection, until the
// manager is closed.
func (cm *ConnectionManager) watch(notify chan *amqp.Error) {
	select {
	case <-cm.done:
		return
	case amqpErr, ok := <-notify:
		if !ok {
			return
		}
		cm.logger.Warn("broker connection lost", "error", amqpErr)
	}

	cm.mu.Lock()
	cm.isConnected = false
	cm.conn = nil
	cm.mu.Unlock()

	for {
		select {
		case <-cm.done:
			return
		case <-time.After(cm.reconnectDelay):
		}

		conn, err := amqp.Dial(cm.url)
		if err != nil {
			cm.logger.Warn("reconnect failed",
				"url", SanitizeURL(cm.url), "error", err)
			continue
		}

		cm.mu.Lock()
		cm.conn = conn
		cm.isConnected = true
		cm.notifyClose = make(chan *amqp.Error, 1)
		conn.NotifyClose(cm.notifyClose)
		notify = cm.notifyClose
		cm.mu.Unlock()

		cm.logger.Info("reconnected to broker", "url", SanitizeURL(cm.url))
		go cm.watch(notify)
		return
	}
}

// GetConnection returns the live connection, or
// contracts.ErrTransportUnavailable when there is none.
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil || cm.conn.IsClosed() {
		return nil, contracts.ErrTransportUnavailable
	}
	return cm.conn, nil
}

// Channel opens a fresh channel on the live connection.
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	conn, err := cm.GetConnection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	return ch, nil
}

// IsConnected reports whether a live connection exists.
func (cm *ConnectionManager) IsConnected() bool {
	_, err := cm.GetConnection()
	return err == nil
}

// Close shuts the connection down and stops reconnecting.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	select {
	case <-cm.done:
	default:
		close(cm.done)
	}

	if cm.conn != nil && !cm.conn.IsClosed() {
		err := cm.conn.Close()
		cm.conn = nil
		cm.isConnected = false
		return err
	}
	cm.isConnected = false
	return nil
}

// SanitizeURL strips credentials from a broker URL for logging.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.String()
}
