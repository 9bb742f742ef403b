// Package supervisor launches, monitors and stops the services of a
// topology in dependency order.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flotilla-run/flotilla/internal/config"
	"github.com/flotilla-run/flotilla/internal/sequencer"
	"github.com/flotilla-run/flotilla/internal/topology"
	"github.com/flotilla-run/flotilla/internal/volumes"
	"github.com/flotilla-run/flotilla/pkg/runtime"
)

const (
	// readyPollInterval paces the running-state poll for services without
	// a declared health check.
	readyPollInterval = 500 * time.Millisecond

	// stopPollInterval paces the exit poll while a grace period runs down.
	stopPollInterval = 250 * time.Millisecond
)

// Supervisor owns the runtime state of every service in one topology. All
// state transitions flow through its event loop; starters and probers only
// emit events.
type Supervisor struct {
	rt   runtime.Runtime
	cfg  *config.Config
	topo *topology.Topology
	vols *volumes.Manager

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	mu       sync.RWMutex
	statuses map[string]*Status

	probeWG   sync.WaitGroup
	closeOnce sync.Once
}

// DownOptions tunes the shutdown pass.
type DownOptions struct {
	// GraceOverride replaces every service's stop_grace_period when > 0.
	GraceOverride time.Duration
}

// New creates a supervisor for a topology and starts its event loop.
func New(rt runtime.Runtime, cfg *config.Config, topo *topology.Topology) *Supervisor {
	s := &Supervisor{
		rt:       rt,
		cfg:      cfg,
		topo:     topo,
		vols:     volumes.NewManager(rt, cfg),
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		statuses: make(map[string]*Status, len(topo.Services)),
	}
	for name := range topo.Services {
		s.statuses[name] = &Status{Service: name, State: StatePending}
	}

	go s.loop()
	return s
}

// Volumes exposes the project's volume manager, for the explicit removal
// path of down.
func (s *Supervisor) Volumes() *volumes.Manager {
	return s.vols
}

// Close stops the event loop and waits for any probers that are still
// winding down after their context was cancelled.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	s.probeWG.Wait()
}

// Up brings the whole topology up: volumes and network first, then each
// start batch in sequence, services within a batch concurrently. A failed
// service blocks everything depending on it but doesn't abort its siblings.
func (s *Supervisor) Up(ctx context.Context) error {
	batches, err := sequencer.Batches(s.topo)
	if err != nil {
		return err
	}

	if err := s.ensureNetwork(ctx); err != nil {
		return err
	}
	if err := s.vols.EnsureAll(ctx, s.topo); err != nil {
		return err
	}

	failed := make(map[string]error)

	for i, batch := range batches {
		log.Info("Starting batch", "batch", i+1, "services", batch)

		type result struct {
			service string
			err     error
		}
		results := make(chan result, len(batch))
		dispatched := 0

		for _, name := range batch {
			if depErr := blockedBy(s.topo.Services[name], failed); depErr != nil {
				failed[name] = depErr
				log.Warn("Skipping service", "service", name, "reason", depErr)
				s.fail(name, depErr)
				continue
			}

			dispatched++
			go func(name string) {
				results <- result{service: name, err: s.startService(ctx, name)}
			}(name)
		}

		for n := 0; n < dispatched; n++ {
			res := <-results
			if res.err != nil {
				failed[res.service] = res.err
				log.Error("Service failed to start", "service", res.service, "error", res.err)
			}
		}

		if ctx.Err() != nil {
			s.markCancelled()
			return ctx.Err()
		}
	}

	s.flush()

	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		return &RunError{Services: names}
	}

	return nil
}

// blockedBy returns a DependencyError when any of the service's
// dependencies has already failed or was itself blocked.
func blockedBy(svc *topology.ServiceSpec, failed map[string]error) error {
	for _, dep := range svc.DependsOn {
		if _, bad := failed[dep.Service]; bad {
			return &DependencyError{Service: svc.Name, Dependency: dep.Service}
		}
	}
	return nil
}

// startService runs the full launch path for one service: replace any stale
// container from a previous run, pull the image if absent, create and start
// the container, then wait for its ready condition. When the service
// declares a health check it is only ready after the first passing probe,
// and a periodic prober keeps watching it afterwards.
func (s *Supervisor) startService(ctx context.Context, name string) error {
	svc := s.topo.Services[name]
	s.emit(newEvent(EventStarting, name))

	if err := s.removeStale(ctx, name); err != nil {
		return s.abort(ctx, name, &StartError{Service: name, Err: err})
	}

	exists, err := s.rt.ImageExists(ctx, svc.Image)
	if err != nil {
		return s.abort(ctx, name, &StartError{Service: name, Err: err})
	}
	if !exists {
		if err := s.rt.PullImage(ctx, svc.Image); err != nil {
			return s.abort(ctx, name, &StartError{Service: name, Err: err})
		}
	}

	containerID, err := s.rt.CreateContainer(ctx, s.containerConfig(svc))
	if err != nil {
		return s.abort(ctx, name, &StartError{Service: name, Err: err})
	}
	s.setContainerID(name, containerID)

	if err := s.rt.StartContainer(ctx, containerID); err != nil {
		return s.abort(ctx, name, &StartError{Service: name, Err: err})
	}

	startCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	if err := s.awaitRunning(startCtx, name, containerID); err != nil {
		return s.abort(ctx, name, &StartError{Service: name, Err: err})
	}

	if svc.Healthcheck != nil {
		if err := awaitHealthy(startCtx, s.rt, name, containerID, svc.Healthcheck); err != nil {
			return s.abort(ctx, name, err)
		}
	}

	ev := newEvent(EventHealthy, name)
	ev.ContainerID = containerID
	s.emit(ev)

	if svc.Healthcheck != nil {
		p := &prober{
			rt:          s.rt,
			service:     name,
			containerID: containerID,
			check:       svc.Healthcheck,
			emit:        s.emit,
		}
		s.probeWG.Add(1)
		go func() {
			defer s.probeWG.Done()
			p.run(ctx)
		}()
	}

	return nil
}

// awaitRunning polls until the container reports running, or returns early
// when it exits instead of coming up.
func (s *Supervisor) awaitRunning(ctx context.Context, name, containerID string) error {
	for {
		c, err := s.rt.InspectContainer(ctx, containerID)
		if err != nil {
			return err
		}
		if c.Running {
			return nil
		}
		if c.Status == "exited" || c.Status == "dead" {
			return fmt.Errorf("container for service %q exited with code %d during startup", name, c.ExitCode)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for service %q to run: %w", name, ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}

// Down stops every service in reverse dependency order: dependents first,
// each with its own grace period, then removes the containers and the
// project network. Volumes are left alone.
func (s *Supervisor) Down(ctx context.Context, opts DownOptions) error {
	batches, err := sequencer.Batches(s.topo)
	if err != nil {
		return err
	}

	containers, err := s.discoverContainers(ctx)
	if err != nil {
		return err
	}

	var failures []string
	for _, batch := range sequencer.Reverse(batches) {
		var wg sync.WaitGroup
		errs := make(chan string, len(batch))

		for _, name := range batch {
			c, ok := containers[name]
			if !ok {
				continue
			}

			wg.Add(1)
			go func(name string, c *runtime.Container) {
				defer wg.Done()
				if err := s.stopService(ctx, name, c, opts); err != nil {
					log.Error("Failed to stop service", "service", name, "error", err)
					errs <- name
				}
			}(name, c)
		}

		wg.Wait()
		close(errs)
		for name := range errs {
			failures = append(failures, name)
		}
	}

	if err := s.rt.RemoveNetwork(ctx, s.cfg.NetworkName()); err != nil {
		log.Warn("Failed to remove network", "network", s.cfg.NetworkName(), "error", err)
	}
	s.flush()

	if len(failures) > 0 {
		sort.Strings(failures)
		return &RunError{Services: failures}
	}
	return nil
}

// stopService terminates one container: SIGTERM first, then SIGKILL once
// the grace period elapses. The container is removed either way, so the
// process table never ends up ambiguous.
func (s *Supervisor) stopService(ctx context.Context, name string, c *runtime.Container, opts DownOptions) error {
	grace := s.gracePeriod(s.topo.Services[name], opts)

	if c.Running {
		stopped, err := s.stopGracefully(ctx, c.ID, grace)
		if err != nil {
			log.Warn("Graceful stop failed", "service", name, "error", err)
		}
		if !stopped {
			timeout := &ShutdownTimeout{Service: name, Grace: grace}
			log.Warn(timeout.Error())
			if err := s.rt.SignalContainer(ctx, c.ID, "SIGKILL"); err != nil {
				return fmt.Errorf("failed to kill service %q: %w", name, err)
			}
		}
	}

	if err := s.rt.RemoveContainer(ctx, c.ID, true); err != nil {
		return err
	}

	ev := newEvent(EventStopped, name)
	ev.ContainerID = c.ID
	s.emit(ev)
	log.Info("Service stopped", "service", name, "grace", grace)
	return nil
}

// gracePeriod resolves the effective stop grace for one service: an
// explicit override wins, then the service's declared stop_grace_period,
// then the configured default.
func (s *Supervisor) gracePeriod(svc *topology.ServiceSpec, opts DownOptions) time.Duration {
	if opts.GraceOverride > 0 {
		return opts.GraceOverride
	}
	if svc.StopGracePeriod != nil {
		return *svc.StopGracePeriod
	}
	return s.cfg.DefaultGracePeriod
}

// stopGracefully sends SIGTERM and waits up to the grace period for the
// container to exit. Returns false when it is still running afterwards.
func (s *Supervisor) stopGracefully(ctx context.Context, containerID string, grace time.Duration) (bool, error) {
	if err := s.rt.SignalContainer(ctx, containerID, "SIGTERM"); err != nil {
		return false, err
	}
	if grace <= 0 {
		return false, nil
	}

	deadline := time.Now().Add(grace)
	for {
		c, err := s.rt.InspectContainer(ctx, containerID)
		if err != nil {
			return false, err
		}
		if !c.Running {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(stopPollInterval):
		}
	}
}

// removeStale replaces any container left over from a previous run of the
// same service.
func (s *Supervisor) removeStale(ctx context.Context, name string) error {
	stale, err := s.rt.ListContainers(ctx, s.cfg.ServiceLabels(name))
	if err != nil {
		return err
	}

	for _, c := range stale {
		log.Debug("Removing stale container", "service", name, "container", c.ID)
		if err := s.rt.RemoveContainer(ctx, c.ID, true); err != nil {
			return err
		}
	}
	return nil
}

// containerConfig resolves a service spec into a runtime container config.
func (s *Supervisor) containerConfig(svc *topology.ServiceSpec) *runtime.ContainerConfig {
	name := svc.ContainerName
	if name == "" {
		name = s.cfg.Project + "-" + svc.Name
	}

	labels := s.cfg.ServiceLabels(svc.Name)
	for k, v := range svc.Labels {
		labels[k] = v
	}

	hostname := svc.Hostname
	if hostname == "" {
		hostname = svc.Name
	}

	return &runtime.ContainerConfig{
		Name:          name,
		Image:         svc.Image,
		Hostname:      hostname,
		Cmd:           svc.Command,
		Env:           svc.Environment,
		Labels:        labels,
		Ports:         svc.Ports,
		Binds:         s.vols.ResolveBinds(svc),
		Network:       s.cfg.NetworkName(),
		Aliases:       []string{svc.Name},
		RestartPolicy: svc.Restart,
	}
}

// ensureNetwork creates the project bridge network if it doesn't exist yet.
func (s *Supervisor) ensureNetwork(ctx context.Context) error {
	name := s.cfg.NetworkName()
	exists, err := s.rt.NetworkExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Info("Creating network", "network", name)
	return s.rt.CreateNetwork(ctx, name, s.cfg.ProjectLabels())
}

// discoverContainers maps service names to their containers using the
// project labels, so down and ps also work from a fresh process.
func (s *Supervisor) discoverContainers(ctx context.Context) (map[string]*runtime.Container, error) {
	listed, err := s.rt.ListContainers(ctx, s.cfg.ProjectLabels())
	if err != nil {
		return nil, err
	}

	containers := make(map[string]*runtime.Container, len(listed))
	for _, c := range listed {
		service := c.Labels[config.LabelPrefix+".service"]
		if service == "" {
			continue
		}
		containers[service] = c
	}
	return containers, nil
}

// ServiceView is the cross-process view of one service, built from the
// labels on its container rather than in-memory state.
type ServiceView struct {
	Service     string
	ContainerID string
	Image       string
	Status      string
	Running     bool
}

// PS reports every service of the topology alongside whatever container
// currently backs it. Services without a container show up as "not created".
func (s *Supervisor) PS(ctx context.Context) ([]ServiceView, error) {
	containers, err := s.discoverContainers(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ServiceView, 0, len(s.topo.Services))
	for _, name := range s.topo.ServiceNames() {
		view := ServiceView{
			Service: name,
			Image:   s.topo.Services[name].Image,
			Status:  "not created",
		}
		if c, ok := containers[name]; ok {
			view.ContainerID = c.ID
			view.Image = c.Image
			view.Status = c.Status
			view.Running = c.Running
		}
		views = append(views, view)
	}
	return views, nil
}

// Logs streams the logs of one service's container.
func (s *Supervisor) Logs(ctx context.Context, service string, follow bool) (io.ReadCloser, error) {
	if _, ok := s.topo.Services[service]; !ok {
		return nil, fmt.Errorf("unknown service %q", service)
	}

	containers, err := s.discoverContainers(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := containers[service]
	if !ok {
		return nil, fmt.Errorf("service %q has no container", service)
	}

	return s.rt.ContainerLogs(ctx, c.ID, follow)
}

// setContainerID records the container backing a service as soon as it is
// created, so a failure later in the launch path still leaves the id
// visible in ps output.
func (s *Supervisor) setContainerID(name, containerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[name]; ok {
		status.ContainerID = containerID
	}
}

// abort ends one service's launch path. During a global shutdown the
// interruption is not a failure: the service winds down to Stopped instead
// of Failed.
func (s *Supervisor) abort(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		s.emit(newEvent(EventStopped, name))
		return ctx.Err()
	}
	return s.fail(name, err)
}

// fail records a terminal failure for a service and returns the error.
func (s *Supervisor) fail(name string, err error) error {
	ev := newEvent(EventFailed, name)
	ev.Err = err
	s.emit(ev)
	return err
}

// emit hands an event to the loop, giving up if the supervisor is closing.
func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// flush blocks until every event emitted before it has been applied.
func (s *Supervisor) flush() {
	ev := Event{Type: eventFlush, ack: make(chan struct{})}
	select {
	case s.events <- ev:
		<-ev.ack
	case <-s.stop:
	}
}

// loop is the single writer of the status table.
func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.apply(ev)
		case <-s.stop:
			return
		}
	}
}

func (s *Supervisor) apply(ev Event) {
	if ev.Type == eventFlush {
		close(ev.ack)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[ev.Service]
	if !ok {
		return
	}

	switch ev.Type {
	case EventStarting:
		status.State = StateStarting
		status.StartedAt = ev.At
	case EventHealthy:
		status.State = StateHealthy
		status.Err = nil
		status.LastProbe = ev.At
	case EventUnhealthy:
		status.State = StateUnhealthy
		status.Err = ev.Err
		status.Unhealthy++
		status.LastProbe = ev.At
	case EventStopped:
		status.State = StateStopped
	case EventFailed:
		status.State = StateFailed
		status.Err = ev.Err
	}
	if ev.ContainerID != "" {
		status.ContainerID = ev.ContainerID
	}

	log.Debug("State transition", "service", ev.Service, "state", status.State, "event", ev.ID)
}

// markCancelled transitions every non-terminal service to Stopped after a
// global shutdown request.
func (s *Supervisor) markCancelled() {
	s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, status := range s.statuses {
		if !status.State.Terminal() {
			status.State = StateStopped
		}
	}
}

// Status returns a copy of one service's status.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *status, true
}

// Statuses returns a copy of the status table, sorted by service name.
func (s *Supervisor) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.statuses))
	for _, status := range s.statuses {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
