package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
)

// how often a blocked Receive wakes up to check for cancellation
const receivePollInterval = 250 * time.Millisecond

// UnixgramQueue is the ingress channel local clients submit messages to.
// One datagram is one message.
type UnixgramQueue struct {
	path   string
	conn   *net.UnixConn
	buf    []byte
	logger *slog.Logger
}

// QueueOption configures the UnixgramQueue.
type QueueOption func(*UnixgramQueue)

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *UnixgramQueue) {
		q.logger = logger
	}
}

// NewUnixgramQueue binds the ingress socket and allocates the receive
// buffer. Failure here is fatal to startup: without the ingress channel
// the bridge has nothing to do.
func NewUnixgramQueue(path string, maxMessageSize int, options ...QueueOption) (*UnixgramQueue, error) {
	if maxMessageSize <= 0 {
		return nil, fmt.Errorf("max message size must be positive, got %d", maxMessageSize)
	}

	q := &UnixgramQueue{
		path:   path,
		buf:    make([]byte, maxMessageSize),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(q)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ingress socket directory: %w", err)
	}

	// a stale socket from a previous run blocks the bind
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale ingress socket %s: %w", path, err)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("opening ingress socket %s: %w", path, err)
	}
	q.conn = conn

	if err := conn.SetReadBuffer(maxMessageSize); err != nil {
		q.logger.Warn("could not size ingress receive buffer",
			"path", path, "error", err)
	}

	q.logger.Info("ingress socket ready", "path", path, "maxMessageSize", maxMessageSize)
	return q, nil
}

// MaxMessageSize returns the largest message Receive can return.
func (q *UnixgramQueue) MaxMessageSize() int {
	return len(q.buf)
}

// Receive blocks until one datagram arrives or ctx is cancelled. The
// returned slice aliases the queue's receive buffer and is only valid
// until the next call.
func (q *UnixgramQueue) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := q.conn.SetReadDeadline(time.Now().Add(receivePollInterval)); err != nil {
			return nil, fmt.Errorf("ingress socket: %w", err)
		}

		n, _, err := q.conn.ReadFromUnix(q.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, fmt.Errorf("ingress socket: %w", err)
		}
		return q.buf[:n], nil
	}
}

// Close shuts the socket down and unlinks it.
func (q *UnixgramQueue) Close() error {
	err := q.conn.Close()
	if rmErr := os.Remove(q.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
