package health

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewire/bridgemq-go/contracts"
	"github.com/edgewire/bridgemq-go/messaging"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Name: c.name, Status: c.status}
}

func TestRunAll(t *testing.T) {
	t.Run("preserves checker order", func(t *testing.T) {
		results := RunAll(context.Background(),
			staticChecker{name: "one", status: StatusHealthy},
			staticChecker{name: "two", status: StatusUnhealthy},
		)

		require.Len(t, results, 2)
		assert.Equal(t, "one", results[0].Name)
		assert.Equal(t, StatusHealthy, results[0].Status)
		assert.Equal(t, "two", results[1].Name)
		assert.Equal(t, StatusUnhealthy, results[1].Status)
	})

	t.Run("no checkers yields empty slice", func(t *testing.T) {
		results := RunAll(context.Background())
		assert.Empty(t, results)
	})
}

func TestIngressChecker(t *testing.T) {
	t.Run("reports healthy for a live socket", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ingress.sock")
		addr, err := net.ResolveUnixAddr("unixgram", path)
		require.NoError(t, err)
		conn, err := net.ListenUnixgram("unixgram", addr)
		require.NoError(t, err)
		defer conn.Close()

		result := NewIngressChecker(path).Check(context.Background())

		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "ingress", result.Name)
		assert.Empty(t, result.Error)
	})

	t.Run("reports unhealthy when the socket is gone", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.sock")

		result := NewIngressChecker(path).Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("reports unhealthy for a regular file", func(t *testing.T) {
		dir := t.TempDir()

		result := NewIngressChecker(dir).Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "ingress path is not a socket", result.Message)
	})
}

type acceptingTransport struct{}

func (acceptingTransport) Deliver(ctx context.Context, env *contracts.Envelope) (string, error) {
	return env.MessageID, nil
}

func TestTrackerChecker(t *testing.T) {
	t.Run("healthy with mixed outcomes", func(t *testing.T) {
		tracker := messaging.NewDeliveryTracker(acceptingTransport{})
		token, err := tracker.Submit(context.Background(), &contracts.Envelope{MessageID: "m-1"})
		require.NoError(t, err)
		tracker.OnOutcome(token, true)

		result := NewTrackerChecker(tracker).Check(context.Background())

		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "attempted=1 succeeded=1 failed=0 pending=0", result.Message)
	})

	t.Run("degraded when every delivery has failed", func(t *testing.T) {
		tracker := messaging.NewDeliveryTracker(acceptingTransport{})
		token, err := tracker.Submit(context.Background(), &contracts.Envelope{MessageID: "m-1"})
		require.NoError(t, err)
		tracker.OnOutcome(token, false)

		result := NewTrackerChecker(tracker).Check(context.Background())

		assert.Equal(t, StatusDegraded, result.Status)
	})
}
