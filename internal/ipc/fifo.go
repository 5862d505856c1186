package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edgewire/bridgemq-go/contracts"
)

const defaultFetchTimeout = 5 * time.Second

// FIFOBodySource retrieves message bodies from per-sender FIFOs. A client
// that has submitted a header to the ingress queue is expected to have a
// FIFO named after its process id open for writing; the bridge drains it
// to end-of-stream or to the negotiated maximum, whichever comes first.
type FIFOBodySource struct {
	dir     string
	maxSize int
	timeout time.Duration
	buf     []byte
	logger  *slog.Logger
}

// BodyOption configures the FIFOBodySource.
type BodyOption func(*FIFOBodySource)

// WithFetchTimeout bounds how long a single fetch may wait on the sender.
func WithFetchTimeout(d time.Duration) BodyOption {
	return func(s *FIFOBodySource) {
		s.timeout = d
	}
}

// WithBodyLogger sets the logger.
func WithBodyLogger(logger *slog.Logger) BodyOption {
	return func(s *FIFOBodySource) {
		s.logger = logger
	}
}

// NewFIFOBodySource allocates the body receive buffer up front; the buffer
// is reused across fetches, so failure to allocate it is a startup error,
// never a per-message one.
func NewFIFOBodySource(dir string, maxSize int, options ...BodyOption) (*FIFOBodySource, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max body size must be positive, got %d", maxSize)
	}

	s := &FIFOBodySource{
		dir:     dir,
		maxSize: maxSize,
		timeout: defaultFetchTimeout,
		buf:     make([]byte, maxSize),
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// MaxBodySize returns the largest body Fetch can return.
func (s *FIFOBodySource) MaxBodySize() int {
	return s.maxSize
}

// Fetch reads the body for one message from the sender's FIFO. A missing
// FIFO fails with contracts.ErrNotFound without blocking; a sender that
// never opens the write side or stops feeding it fails with
// contracts.ErrTimeout. Reading stops at end-of-stream or at an exact
// fill of the maximum, and both count as success.
//
// The returned slice aliases the source's receive buffer and is only
// valid until the next call.
func (s *FIFOBodySource) Fetch(ctx context.Context, senderID uint32) ([]byte, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("bridgemq_%d", senderID))

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("body channel %s: %w", path, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("body channel %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	f, err := openFIFO(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := f.SetReadDeadline(deadline); err != nil {
			s.logger.Warn("body channel does not support read deadlines",
				"path", path, "error", err)
		}
	}

	total := 0
	for total < s.maxSize {
		n, err := f.Read(s.buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				// writer closed, clean end of stream
				break
			}
			if os.IsTimeout(err) {
				return nil, fmt.Errorf("reading body channel %s: %w", path, contracts.ErrTimeout)
			}
			return nil, fmt.Errorf("reading body channel %s: %w", path, err)
		}
	}

	return s.buf[:total], nil
}

// openFIFO opens the read side of a FIFO. The open syscall blocks until a
// writer opens the other end, so it runs in its own goroutine bounded by
// ctx; on timeout the straggler closes the file whenever the open finally
// completes.
func openFIFO(ctx context.Context, path string) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		ch <- result{f: f, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("opening body channel %s: %w", path, r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.f != nil {
				r.f.Close()
			}
		}()
		return nil, fmt.Errorf("opening body channel %s: %w", path, contracts.ErrTimeout)
	}
}
