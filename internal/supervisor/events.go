package supervisor

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a service state transition.
type EventType string

const (
	EventStarting  EventType = "service.starting"
	EventHealthy   EventType = "service.healthy"
	EventUnhealthy EventType = "service.unhealthy"
	EventStopped   EventType = "service.stopped"
	EventFailed    EventType = "service.failed"

	// eventFlush is a synchronization marker used internally; it carries
	// an ack channel and causes no transition.
	eventFlush EventType = "internal.flush"
)

// Event is a single state transition flowing from starters and probers to
// the supervisor's event loop. The loop is the only writer of the status
// table, so concurrent probes never race on it.
type Event struct {
	ID          string
	Type        EventType
	Service     string
	ContainerID string
	Err         error
	At          time.Time

	ack chan struct{}
}

func newEvent(eventType EventType, service string) Event {
	return Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Service: service,
		At:      time.Now(),
	}
}
