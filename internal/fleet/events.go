package fleet

import "time"

// EventKind names a state store mutation.
type EventKind string

const (
	EventBusCreated       EventKind = "bus_created"
	EventLocationUpdated  EventKind = "location_updated"
	EventStatusChanged    EventKind = "status_changed"
	EventAlertCreated     EventKind = "alert_created"
	EventAlertResolved    EventKind = "alert_resolved"
	EventSpeedAlertRaised EventKind = "speed_alert_raised"
)

// Event is emitted exactly once per successful mutation. Only the record
// matching Kind is populated.
type Event struct {
	Kind       EventKind
	At         time.Time
	Bus        Bus
	Alert      EmergencyAlert
	SpeedAlert SpeedAlert
}

// EventSink receives domain events. Publish must not block on slow consumers.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(e).
func (f EventSinkFunc) Publish(e Event) { f(e) }

// Sinks fans one event out to several sinks in order.
type Sinks []EventSink

// Publish delivers e to every sink.
func (s Sinks) Publish(e Event) {
	for _, sink := range s {
		sink.Publish(e)
	}
}

type discardSink struct{}

func (discardSink) Publish(Event) {}
