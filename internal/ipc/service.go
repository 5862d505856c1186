package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/edgewire/bridgemq-go/contracts"
)

const defaultWriteTimeout = 2 * time.Second

// ServiceSocket is a single-use connection to a named local service. It
// carries exactly one routed message and is closed immediately after.
type ServiceSocket struct {
	name    string
	conn    *net.UnixConn
	maxSize int
	timeout time.Duration
}

// MaxMessageSize returns the service's advertised maximum message size.
func (s *ServiceSocket) MaxMessageSize() int {
	return s.maxSize
}

// Write sends one datagram. The write carries a deadline so a stalled
// service cannot block the caller, which runs in the broker's delivery
// context.
func (s *ServiceSocket) Write(p []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("service %q: %w", s.name, err)
	}
	if _, err := s.conn.Write(p); err != nil {
		return fmt.Errorf("writing to service %q: %w", s.name, err)
	}
	return nil
}

// Close releases the connection.
func (s *ServiceSocket) Close() error {
	return s.conn.Close()
}

// SocketResolver resolves service names to datagram sockets under a fixed
// directory. Resolution happens per message and handles are never cached;
// services come and go, and a stale handle must not outlive the message
// it was resolved for.
type SocketResolver struct {
	dir          string
	writeTimeout time.Duration
	logger       *slog.Logger
}

// ResolverOption configures the SocketResolver.
type ResolverOption func(*SocketResolver)

// WithWriteTimeout bounds each routed write.
func WithWriteTimeout(d time.Duration) ResolverOption {
	return func(r *SocketResolver) {
		r.writeTimeout = d
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *SocketResolver) {
		r.logger = logger
	}
}

// NewSocketResolver creates a resolver rooted at dir.
func NewSocketResolver(dir string, options ...ResolverOption) *SocketResolver {
	r := &SocketResolver{
		dir:          dir,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve opens a fresh connection to the named service and reads its
// advertised maximum message size. An absent or dead socket fails with
// contracts.ErrNotFound.
func (r *SocketResolver) Resolve(name string) (*ServiceSocket, error) {
	path := filepath.Join(r.dir, name+".sock")

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ECONNREFUSED) {
			return nil, fmt.Errorf("service %q at %s: %w", name, path, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("service %q at %s: %w", name, path, err)
	}

	maxSize, err := sendBufferSize(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("service %q: reading send buffer size: %w", name, err)
	}

	r.logger.Debug("resolved service route",
		"service", name, "path", path, "maxMessageSize", maxSize)

	return &ServiceSocket{
		name:    name,
		conn:    conn,
		maxSize: maxSize,
		timeout: r.writeTimeout,
	}, nil
}

// sendBufferSize reads SO_SNDBUF, the largest datagram the route accepts.
func sendBufferSize(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var (
		size    int
		sockErr error
	)
	if err := raw.Control(func(fd uintptr) {
		size, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF)
	}); err != nil {
		return 0, err
	}
	if sockErr != nil {
		return 0, sockErr
	}
	return size, nil
}
