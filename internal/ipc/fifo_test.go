package ipc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/edgewire/bridgemq-go/contracts"
)

func mkfifo(t *testing.T, dir string, senderID uint32) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("bridgemq_%d", senderID))
	require.NoError(t, unix.Mkfifo(path, 0o600))
	return path
}

func TestNewFIFOBodySource(t *testing.T) {
	t.Run("rejects non-positive max size", func(t *testing.T) {
		_, err := NewFIFOBodySource(t.TempDir(), 0)
		assert.Error(t, err)

		_, err = NewFIFOBodySource(t.TempDir(), -1)
		assert.Error(t, err)
	})

	t.Run("reports max body size", func(t *testing.T) {
		src, err := NewFIFOBodySource(t.TempDir(), 64)
		require.NoError(t, err)
		assert.Equal(t, 64, src.MaxBodySize())
	})
}

func TestFIFOBodySourceFetch(t *testing.T) {
	t.Run("missing channel fails with not found", func(t *testing.T) {
		src, err := NewFIFOBodySource(t.TempDir(), 64)
		require.NoError(t, err)

		_, err = src.Fetch(context.Background(), 7)
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})

	t.Run("reads body to end of stream", func(t *testing.T) {
		dir := t.TempDir()
		path := mkfifo(t, dir, 1)

		go func() {
			f, err := os.OpenFile(path, os.O_WRONLY, 0)
			if err != nil {
				return
			}
			f.Write([]byte("hello body"))
			f.Close()
		}()

		src, err := NewFIFOBodySource(dir, 64)
		require.NoError(t, err)

		body, err := src.Fetch(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello body"), body)
	})

	t.Run("stops at an exact fill of the maximum", func(t *testing.T) {
		dir := t.TempDir()
		path := mkfifo(t, dir, 2)

		done := make(chan struct{})
		go func() {
			defer close(done)
			f, err := os.OpenFile(path, os.O_WRONLY, 0)
			if err != nil {
				return
			}
			defer f.Close()
			// more than the source's maximum, writer stays open
			f.Write(bytes.Repeat([]byte{0xAB}, 32))
		}()

		src, err := NewFIFOBodySource(dir, 16)
		require.NoError(t, err)

		body, err := src.Fetch(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{0xAB}, 16), body)

		<-done
	})

	t.Run("times out when no writer appears", func(t *testing.T) {
		dir := t.TempDir()
		mkfifo(t, dir, 3)

		src, err := NewFIFOBodySource(dir, 64, WithFetchTimeout(50*time.Millisecond))
		require.NoError(t, err)

		start := time.Now()
		_, err = src.Fetch(context.Background(), 3)
		assert.ErrorIs(t, err, contracts.ErrTimeout)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("times out when the writer stalls mid body", func(t *testing.T) {
		dir := t.TempDir()
		path := mkfifo(t, dir, 4)

		release := make(chan struct{})
		go func() {
			f, err := os.OpenFile(path, os.O_WRONLY, 0)
			if err != nil {
				return
			}
			defer f.Close()
			f.Write([]byte("partial"))
			<-release
		}()
		defer close(release)

		src, err := NewFIFOBodySource(dir, 64, WithFetchTimeout(50*time.Millisecond))
		require.NoError(t, err)

		_, err = src.Fetch(context.Background(), 4)
		assert.ErrorIs(t, err, contracts.ErrTimeout)
	})
}
