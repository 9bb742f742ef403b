package testutils

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/flotilla-run/flotilla/pkg/runtime"
)

// FakeRuntime is an in-memory runtime.Runtime for tests. It records the
// order of lifecycle operations so callers can assert on sequencing, and
// exposes per-service hooks for injecting failures.
type FakeRuntime struct {
	mu sync.Mutex

	nextID     int
	containers map[string]*runtime.Container
	volumes    map[string]map[string]string
	networks   map[string]map[string]string
	images     map[string]bool

	// StartOrder and StopOrder list container names in the order they were
	// started and signalled with SIGTERM.
	StartOrder []string
	StopOrder  []string
	Pulled     []string

	// CreateErrs and StartErrs fail the operation for containers whose name
	// contains the key.
	CreateErrs map[string]error
	StartErrs  map[string]error

	// ProbeFunc handles ExecProbe when set; the default always passes.
	ProbeFunc func(containerID string, cmd []string) (int, string, error)

	// IgnoreSigterm keeps containers whose name contains one of these
	// substrings running after SIGTERM, forcing the kill escalation.
	IgnoreSigterm []string

	// PingErr makes Ping fail, simulating an unreachable daemon.
	PingErr error
}

var _ runtime.Runtime = (*FakeRuntime)(nil)

// NewFakeRuntime returns an empty fake with every image considered present.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*runtime.Container),
		volumes:    make(map[string]map[string]string),
		networks:   make(map[string]map[string]string),
		images:     make(map[string]bool),
		CreateErrs: make(map[string]error),
		StartErrs:  make(map[string]error),
	}
}

func (f *FakeRuntime) CreateContainer(ctx context.Context, config *runtime.ContainerConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, err := range f.CreateErrs {
		if strings.Contains(config.Name, key) {
			return "", err
		}
	}

	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	labels := make(map[string]string, len(config.Labels))
	for k, v := range config.Labels {
		labels[k] = v
	}
	f.containers[id] = &runtime.Container{
		ID:     id,
		Name:   config.Name,
		Image:  config.Image,
		Status: "created",
		Labels: labels,
	}
	return id, nil
}

func (f *FakeRuntime) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[containerID]
	if !ok {
		return fmt.Errorf("no such container: %s", containerID)
	}
	for key, err := range f.StartErrs {
		if strings.Contains(c.Name, key) {
			return err
		}
	}

	c.Running = true
	c.Status = "running"
	c.StartedAt = time.Now()
	f.StartOrder = append(f.StartOrder, c.Name)
	return nil
}

func (f *FakeRuntime) SignalContainer(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[containerID]
	if !ok {
		return fmt.Errorf("no such container: %s", containerID)
	}

	switch signal {
	case "SIGTERM":
		f.StopOrder = append(f.StopOrder, c.Name)
		if !f.ignoresSigterm(c.Name) {
			c.Running = false
			c.Status = "exited"
		}
	case "SIGKILL":
		c.Running = false
		c.Status = "exited"
		c.ExitCode = 137
	}
	return nil
}

func (f *FakeRuntime) ignoresSigterm(name string) bool {
	for _, key := range f.IgnoreSigterm {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

func (f *FakeRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
	return nil
}

func (f *FakeRuntime) InspectContainer(ctx context.Context, containerID string) (*runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("no such container: %s", containerID)
	}
	copied := *c
	return &copied, nil
}

func (f *FakeRuntime) ListContainers(ctx context.Context, labels map[string]string) ([]*runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*runtime.Container
	for _, c := range f.containers {
		if matchesLabels(c.Labels, labels) {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func (f *FakeRuntime) ContainerLogs(ctx context.Context, containerID string, follow bool) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.containers[containerID]; !ok {
		return nil, fmt.Errorf("no such container: %s", containerID)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *FakeRuntime) ExecProbe(ctx context.Context, containerID string, cmd []string) (int, string, error) {
	f.mu.Lock()
	probe := f.ProbeFunc
	f.mu.Unlock()

	if probe != nil {
		return probe(containerID, cmd)
	}
	return 0, "", nil
}

func (f *FakeRuntime) ImageExists(ctx context.Context, imageRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	absent, listed := f.images[imageRef]
	if listed && !absent {
		return false, nil
	}
	return true, nil
}

// MarkImageAbsent makes the image require a pull before use.
func (f *FakeRuntime) MarkImageAbsent(imageRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[imageRef] = false
}

func (f *FakeRuntime) PullImage(ctx context.Context, imageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[imageRef] = true
	f.Pulled = append(f.Pulled, imageRef)
	return nil
}

func (f *FakeRuntime) VolumeExists(ctx context.Context, volumeName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[volumeName]
	return ok, nil
}

func (f *FakeRuntime) CreateVolume(ctx context.Context, volumeName string, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.volumes[volumeName]; ok {
		return fmt.Errorf("volume %s already exists", volumeName)
	}
	f.volumes[volumeName] = labels
	return nil
}

func (f *FakeRuntime) RemoveVolume(ctx context.Context, volumeName string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, volumeName)
	return nil
}

func (f *FakeRuntime) NetworkExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.networks[name]
	return ok, nil
}

func (f *FakeRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = labels
	return nil
}

func (f *FakeRuntime) RemoveNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.networks, name)
	return nil
}

func (f *FakeRuntime) Ping(ctx context.Context) error {
	return f.PingErr
}

func (f *FakeRuntime) Version(ctx context.Context) (string, error) {
	return "fake-1.0", nil
}

// VolumeCount reports how many volumes exist.
func (f *FakeRuntime) VolumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.volumes)
}

// ContainerByName finds a container by its name.
func (f *FakeRuntime) ContainerByName(name string) (*runtime.Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Name == name {
			copied := *c
			return &copied, true
		}
	}
	return nil, false
}

// Snapshot returns copies of the current start and stop order slices.
func (f *FakeRuntime) Snapshot() (started, stopped []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.StartOrder...), append([]string(nil), f.StopOrder...)
}
