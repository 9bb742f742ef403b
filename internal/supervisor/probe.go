package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flotilla-run/flotilla/internal/topology"
	"github.com/flotilla-run/flotilla/pkg/runtime"
)

// prober runs one service's declared health check on its interval and
// reports transitions to the supervisor through the event channel. It never
// touches the status table directly.
type prober struct {
	rt          runtime.Runtime
	service     string
	containerID string
	check       *topology.HealthcheckSpec
	emit        func(Event)
}

// run probes until the context is cancelled. The service enters the loop
// healthy (the startup wait already saw a passing probe); it flips to
// unhealthy after `retries` consecutive failures and back to healthy on the
// next success.
func (p *prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.check.Interval)
	defer ticker.Stop()

	healthy := true
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		code, output, err := p.probeOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil && code == 0 {
			failures = 0
			if !healthy {
				healthy = true
				p.emit(newEvent(EventHealthy, p.service))
			}
			continue
		}

		failures++
		log.Debug("Health probe failed", "service", p.service, "exit_code", code, "failures", failures, "error", err)
		if failures >= p.check.Retries && healthy {
			healthy = false
			ev := newEvent(EventUnhealthy, p.service)
			if err != nil {
				ev.Err = err
			} else {
				ev.Err = fmt.Errorf("health check exited with code %d: %s", code, output)
			}
			p.emit(ev)
		}
	}
}

// probeOnce runs a single probe attempt under the declared timeout.
func (p *prober) probeOnce(ctx context.Context) (int, string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.check.Timeout)
	defer cancel()
	return p.rt.ExecProbe(probeCtx, p.containerID, p.check.Test)
}

// awaitHealthy drives the startup probing for one service: it probes on the
// declared interval until the first success, tolerating failures inside the
// start period and giving up after `retries` consecutive failures beyond it.
func awaitHealthy(ctx context.Context, rt runtime.Runtime, service, containerID string, check *topology.HealthcheckSpec) error {
	started := time.Now()
	failures := 0

	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		code, output, err := rt.ExecProbe(probeCtx, containerID, check.Test)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil && code == 0 {
			return nil
		}

		// Failures within the start period don't count against the retry
		// budget; the service is still warming up.
		if time.Since(started) >= check.StartPeriod {
			failures++
			log.Debug("Startup probe failed", "service", service, "exit_code", code, "failures", failures, "output", output, "error", err)
			if failures >= check.Retries {
				return &HealthCheckTimeout{Service: service, Retries: check.Retries}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
