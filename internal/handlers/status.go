package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"bustrack/internal/fleet"
	"bustrack/internal/viewmodel"
	"bustrack/internal/views"
	"bustrack/pkg/realtime"
)

// StatusHandler serves the HTML overview page.
type StatusHandler struct {
	store *fleet.Store
	hub   *realtime.Broadcaster
	now   func() time.Time
}

func NewStatusHandler(store *fleet.Store, hub *realtime.Broadcaster) *StatusHandler {
	return &StatusHandler{store: store, hub: hub, now: time.Now}
}

func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.status)
}

func (h *StatusHandler) status(w http.ResponseWriter, r *http.Request) {
	render(w, r, views.StatusPage(h.buildPage()))
}

func (h *StatusHandler) buildPage() viewmodel.StatusPage {
	stats := h.store.Stats()
	delivered, dropped := h.hub.Stats()
	page := viewmodel.StatusPage{
		Title:        "Campus Bus Tracking",
		GeneratedAt:  h.now().UTC().Format(time.RFC3339),
		Buses:        stats.Buses,
		ActiveBuses:  stats.ActiveBuses,
		Alerts:       stats.Alerts,
		ActiveAlerts: stats.ActiveAlerts,
		SpeedAlerts:  stats.SpeedAlerts,
		Connections:  h.hub.Connections(),
		Delivered:    delivered,
		Dropped:      dropped,
		Channels:     toChannelCounts(h.hub.Registry().Counts()),
	}
	for _, bus := range h.store.ListBuses() {
		page.Fleet = append(page.Fleet, toBusRow(bus))
	}
	return page
}

func toChannelCounts(counts map[string]int) []viewmodel.ChannelCount {
	out := make([]viewmodel.ChannelCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, viewmodel.ChannelCount{Name: name, Subscribers: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func toBusRow(bus fleet.Bus) viewmodel.BusRow {
	row := viewmodel.BusRow{
		Number:    bus.Number,
		RouteName: bus.RouteName,
		Status:    string(bus.Status),
		Position:  "-",
		Speed:     "-",
		UpdatedAt: "-",
	}
	if loc := bus.LastLocation; loc != nil {
		row.Position = fmt.Sprintf("%.5f, %.5f", loc.Latitude, loc.Longitude)
		row.Speed = fmt.Sprintf("%.1f km/h", bus.CurrentSpeed)
		row.UpdatedAt = loc.Timestamp.UTC().Format(time.RFC3339)
	}
	return row
}
