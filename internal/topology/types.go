// Package topology loads and validates declarative service topologies.
//
// A topology document is a YAML file describing a set of services (image,
// environment, ports, volumes, dependency edges, health checks) plus the
// named volumes they persist into. Specs are immutable once loaded; all
// runtime state lives in the supervisor.
package topology

import (
	"sort"
	"time"

	"github.com/flotilla-run/flotilla/pkg/ports"
)

// Condition controls when a dependent considers its dependency satisfied.
type Condition string

const (
	// ConditionStarted is satisfied once the dependency's container is running.
	ConditionStarted Condition = "service_started"
	// ConditionHealthy is satisfied once the dependency passes its health check.
	ConditionHealthy Condition = "service_healthy"
)

// Dependency is a single depends_on edge.
type Dependency struct {
	Service   string
	Condition Condition
}

// Mount binds a volume or host path into a service container.
type Mount struct {
	Source string // named volume or host path
	Target string // mount path inside the container
	Named  bool   // true when Source refers to a declared named volume
}

// HealthcheckSpec describes the periodic probe for one service. Test is the
// normalized exec argv; shell-form checks are already wrapped in "/bin/sh -c".
type HealthcheckSpec struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// ServiceSpec is one service declaration. Immutable once loaded.
type ServiceSpec struct {
	Name            string
	Image           string
	ContainerName   string
	Hostname        string
	Command         []string
	Environment     []string // KEY=VAL, sorted when declared as a map
	Ports           []ports.Mapping
	Mounts          []Mount
	DependsOn       []Dependency
	Healthcheck     *HealthcheckSpec
	StopGracePeriod *time.Duration // nil when the service declares none
	Restart         string
	Labels          map[string]string
}

// VolumeSpec is a named volume declaration. Volumes outlive the
// orchestration run; nothing here removes them implicitly.
type VolumeSpec struct {
	Name string
}

// Topology is the validated service graph plus its volume registry.
type Topology struct {
	Name     string
	Services map[string]*ServiceSpec
	Volumes  map[string]*VolumeSpec
}

// ServiceNames returns all service names in ascending order.
func (t *Topology) ServiceNames() []string {
	names := make([]string, 0, len(t.Services))
	for name := range t.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VolumeNames returns all declared volume names in ascending order.
func (t *Topology) VolumeNames() []string {
	names := make([]string, 0, len(t.Volumes))
	for name := range t.Volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Service looks up a service spec by name.
func (t *Topology) Service(name string) (*ServiceSpec, bool) {
	s, ok := t.Services[name]
	return s, ok
}
