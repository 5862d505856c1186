package ipc

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewire/bridgemq-go/contracts"
)

func listenService(t *testing.T, dir, name string) *net.UnixConn {
	t.Helper()
	path := filepath.Join(dir, name+".sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSocketResolverResolve(t *testing.T) {
	t.Run("unknown service fails with not found", func(t *testing.T) {
		resolver := NewSocketResolver(t.TempDir())

		_, err := resolver.Resolve("nobody")
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})

	t.Run("resolves a listening service", func(t *testing.T) {
		dir := t.TempDir()
		listenService(t, dir, "telemetry")

		resolver := NewSocketResolver(dir)
		sock, err := resolver.Resolve("telemetry")
		require.NoError(t, err)
		defer sock.Close()

		assert.Positive(t, sock.MaxMessageSize())
	})
}

func TestServiceSocketWrite(t *testing.T) {
	t.Run("delivers one datagram to the service", func(t *testing.T) {
		dir := t.TempDir()
		listener := listenService(t, dir, "telemetry")

		resolver := NewSocketResolver(dir)
		sock, err := resolver.Resolve("telemetry")
		require.NoError(t, err)
		defer sock.Close()

		require.NoError(t, sock.Write([]byte("messageId:m-1\nservice:telemetry\n\npayload")))

		buf := make([]byte, 128)
		n, _, err := listener.ReadFromUnix(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte("messageId:m-1\nservice:telemetry\n\npayload"), buf[:n])
	})

	t.Run("write after the service goes away fails", func(t *testing.T) {
		dir := t.TempDir()
		listener := listenService(t, dir, "telemetry")

		resolver := NewSocketResolver(dir)
		sock, err := resolver.Resolve("telemetry")
		require.NoError(t, err)
		defer sock.Close()

		require.NoError(t, listener.Close())

		err = sock.Write([]byte("late"))
		assert.Error(t, err)
	})
}
