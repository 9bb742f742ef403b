package supervisor

import "time"

// State is the runtime state of one supervised service.
type State int

const (
	StatePending State = iota
	StateStarting
	StateHealthy
	StateUnhealthy
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateStarting:
		return "Starting"
	case StateHealthy:
		return "Healthy"
	case StateUnhealthy:
		return "Unhealthy"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Status is the supervisor's view of one service. Statuses are created at
// sequencing time and mutated only by the supervisor's event loop.
type Status struct {
	Service     string
	State       State
	ContainerID string
	Err         error
	StartedAt   time.Time
	LastProbe   time.Time
	// Unhealthy counts healthy to unhealthy transitions over the service's
	// lifetime. Recovery does not reset it.
	Unhealthy int
}
