package supervisor

import (
	"fmt"
	"strings"
	"time"
)

// StartError reports a service whose container could not be launched.
type StartError struct {
	Service string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start service %q: %v", e.Service, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// HealthCheckTimeout reports a service whose probe never passed within its
// retry budget during startup.
type HealthCheckTimeout struct {
	Service string
	Retries int
}

func (e *HealthCheckTimeout) Error() string {
	return fmt.Sprintf("service %q failed its health check %d times during startup", e.Service, e.Retries)
}

// DependencyError reports a service that was never started because one of
// its dependencies failed.
type DependencyError struct {
	Service    string
	Dependency string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("service %q not started: dependency %q failed", e.Service, e.Dependency)
}

// ShutdownTimeout reports a service that ignored its grace period and had
// to be killed.
type ShutdownTimeout struct {
	Service string
	Grace   time.Duration
}

func (e *ShutdownTimeout) Error() string {
	return fmt.Sprintf("service %q did not stop within its %s grace period, killed", e.Service, e.Grace)
}

// RunError aggregates the services that failed during an up or down pass.
type RunError struct {
	Services []string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%d service(s) failed: %s", len(e.Services), strings.Join(e.Services, ", "))
}
