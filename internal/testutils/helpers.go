// Package testutils provides shared helpers for tests.
package testutils

import (
	"context"
	"testing"
	"time"
)

// TestContext returns a context with a sensible test timeout.
func TestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// AssertEventuallyTrue polls the condition until it holds or the timeout
// expires.
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never became true: %s", msg)
}
