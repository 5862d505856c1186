package health

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/edgewire/bridgemq-go/internal/amqp"
	"github.com/edgewire/bridgemq-go/messaging"
)

// BrokerChecker probes the delivery transport's connection.
type BrokerChecker struct {
	cm *amqp.ConnectionManager
}

// NewBrokerChecker creates a checker over the given connection manager.
func NewBrokerChecker(cm *amqp.ConnectionManager) *BrokerChecker {
	return &BrokerChecker{cm: cm}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	conn, err := c.cm.GetConnection()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "no broker connection"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	// a channel open exercises the connection end to end
	ch, err := conn.Channel()
	if err != nil {
		result.Status = StatusDegraded
		result.Message = "cannot open channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	ch.Close()

	result.Status = StatusHealthy
	result.Message = "connected"
	result.Duration = time.Since(start)
	return result
}

// IngressChecker verifies the ingress socket still exists on disk.
type IngressChecker struct {
	path string
}

// NewIngressChecker creates a checker for the ingress socket path.
func NewIngressChecker(path string) *IngressChecker {
	return &IngressChecker{path: path}
}

func (c *IngressChecker) Name() string {
	return "ingress"
}

func (c *IngressChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	info, err := os.Stat(c.path)
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Message = "ingress socket missing"
		result.Error = err.Error()
	case info.Mode()&os.ModeSocket == 0:
		result.Status = StatusUnhealthy
		result.Message = "ingress path is not a socket"
	default:
		result.Status = StatusHealthy
		result.Message = "listening"
	}
	result.Duration = time.Since(start)
	return result
}

// TrackerChecker reports the delivery counters; it never fails, it just
// surfaces the numbers on a diagnostics path.
type TrackerChecker struct {
	tracker *messaging.DeliveryTracker
}

// NewTrackerChecker creates a checker over the delivery tracker.
func NewTrackerChecker(tracker *messaging.DeliveryTracker) *TrackerChecker {
	return &TrackerChecker{tracker: tracker}
}

func (c *TrackerChecker) Name() string {
	return "delivery"
}

func (c *TrackerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	counters := c.tracker.Snapshot()

	status := StatusHealthy
	if counters.Failed > 0 && counters.Succeeded == 0 {
		status = StatusDegraded
	}

	return CheckResult{
		Name:      c.Name(),
		Status:    status,
		Message:   formatCounters(counters, c.tracker.PendingCount()),
		Timestamp: start,
		Duration:  time.Since(start),
	}
}

func formatCounters(c messaging.Counters, pending int) string {
	return "attempted=" + itoa(c.Attempted) +
		" succeeded=" + itoa(c.Succeeded) +
		" failed=" + itoa(c.Failed) +
		" pending=" + itoa(uint64(pending))
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
