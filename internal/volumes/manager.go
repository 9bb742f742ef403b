// Package volumes ensures declared named volumes exist before services start.
package volumes

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/flotilla-run/flotilla/internal/config"
	"github.com/flotilla-run/flotilla/internal/topology"
	"github.com/flotilla-run/flotilla/pkg/runtime"
)

// Manager creates and resolves named volumes for one project. Volumes
// outlive the orchestration run: nothing here removes them unless asked
// to explicitly.
type Manager struct {
	rt  runtime.Runtime
	cfg *config.Config
}

// NewManager creates a volume manager for the given project.
func NewManager(rt runtime.Runtime, cfg *config.Config) *Manager {
	return &Manager{rt: rt, cfg: cfg}
}

// BackingName returns the runtime-level name for a logical volume.
func (m *Manager) BackingName(logical string) string {
	return m.cfg.Project + "_" + logical
}

// Ensure creates the backing storage for a volume if absent, otherwise
// reuses it. Idempotent: the second call for the same name performs no
// creation. Returns true when the volume was created by this call.
func (m *Manager) Ensure(ctx context.Context, spec *topology.VolumeSpec) (bool, error) {
	name := m.BackingName(spec.Name)

	exists, err := m.rt.VolumeExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("checking volume %s: %w", name, err)
	}
	if exists {
		log.Debug("Volume exists, reusing", "volume", name)
		return false, nil
	}

	labels := m.cfg.ProjectLabels()
	labels[config.LabelPrefix+".volume"] = spec.Name
	if err := m.rt.CreateVolume(ctx, name, labels); err != nil {
		return false, fmt.Errorf("creating volume %s: %w", name, err)
	}

	log.Info("Volume created", "volume", name)
	return true, nil
}

// EnsureAll ensures every declared volume in the topology, in name order.
func (m *Manager) EnsureAll(ctx context.Context, topo *topology.Topology) error {
	for _, name := range topo.VolumeNames() {
		if _, err := m.Ensure(ctx, topo.Volumes[name]); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll deletes the backing storage of every declared volume. Only the
// explicit `down --volumes` path calls this.
func (m *Manager) RemoveAll(ctx context.Context, topo *topology.Topology) error {
	for _, name := range topo.VolumeNames() {
		backing := m.BackingName(name)
		if err := m.rt.RemoveVolume(ctx, backing, true); err != nil {
			return fmt.Errorf("removing volume %s: %w", backing, err)
		}
		log.Info("Volume removed", "volume", backing)
	}
	return nil
}

// ResolveBinds rewrites a service's mounts into runtime bind specs, mapping
// named volumes to their project-prefixed backing names and passing host
// paths through untouched.
func (m *Manager) ResolveBinds(svc *topology.ServiceSpec) []string {
	binds := make([]string, 0, len(svc.Mounts))
	for _, mount := range svc.Mounts {
		source := mount.Source
		if mount.Named {
			source = m.BackingName(mount.Source)
		}
		binds = append(binds, source+":"+mount.Target)
	}
	return binds
}
