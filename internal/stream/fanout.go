package stream

import (
	"log/slog"

	"bustrack/internal/fleet"
	"bustrack/pkg/realtime"
)

// Fanout turns store events into wire messages for the broadcaster. It is
// the only component that reads both the store's events and the registry.
type Fanout struct {
	hub    *realtime.Broadcaster
	logger *slog.Logger
}

// NewFanout creates a fanout publishing through hub.
func NewFanout(hub *realtime.Broadcaster, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{hub: hub, logger: logger}
}

// Publish implements fleet.EventSink. Delivery failures stay with the
// affected connections and never reach the mutating caller.
func (f *Fanout) Publish(e fleet.Event) {
	channel, msg, err := Encode(e)
	if err != nil {
		f.logger.Error("encode event", "kind", e.Kind, "err", err)
		return
	}
	n := f.hub.Publish(channel, msg)
	f.logger.Debug("event published", "kind", e.Kind, "channel", channel, "delivered", n)
}
