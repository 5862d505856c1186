// Package health provides liveness checks for the bridge's two
// long-lived resources: the broker connection and the ingress socket.
package health

import (
	"context"
	"time"
)

// Status is the verdict of one check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one checker run.
type CheckResult struct {
	Name      string
	Status    Status
	Message   string
	Error     string
	Timestamp time.Time
	Duration  time.Duration
}

// Checker is a single named health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// RunAll executes every checker and returns the results in order.
func RunAll(ctx context.Context, checkers ...Checker) []CheckResult {
	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		results = append(results, c.Check(ctx))
	}
	return results
}
