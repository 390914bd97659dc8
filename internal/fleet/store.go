// Package fleet holds the authoritative last-known state of every bus and
// alert and emits one domain event per successful mutation.
package fleet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bustrack/internal/apperr"
)

// maxSpeedAlerts bounds the in-memory speed alert history.
const maxSpeedAlerts = 1000

// Repository persists store records. A failed write aborts the mutation.
type Repository interface {
	SaveBus(ctx context.Context, bus Bus) error
	SaveAlert(ctx context.Context, alert EmergencyAlert) error
	SaveSpeedAlert(ctx context.Context, alert SpeedAlert) error
	LoadBuses(ctx context.Context) ([]Bus, error)
	LoadAlerts(ctx context.Context) ([]EmergencyAlert, error)
	LoadSpeedAlerts(ctx context.Context, limit int) ([]SpeedAlert, error)
}

type busEntry struct {
	mu  sync.Mutex
	bus Bus
}

type alertEntry struct {
	mu    sync.Mutex
	alert EmergencyAlert
}

// Store keeps buses and alerts in memory. The map locks only guard
// membership; each record has its own mutex so unrelated records mutate
// concurrently. Events are published while the record lock is held, which
// keeps per-record event order equal to apply order.
type Store struct {
	busMu        sync.RWMutex
	buses        map[string]*busEntry
	pendingBuses map[string]struct{}

	alertMu       sync.RWMutex
	alerts        map[string]*alertEntry
	pendingAlerts map[string]struct{}

	speedMu     sync.Mutex
	speedAlerts []SpeedAlert

	repo  Repository
	sink  EventSink
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithRepository enables write-through persistence.
func WithRepository(repo Repository) Option {
	return func(s *Store) { s.repo = repo }
}

// WithEventSink sets the receiver of domain events.
func WithEventSink(sink EventSink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewStore creates an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		buses:         make(map[string]*busEntry),
		pendingBuses:  make(map[string]struct{}),
		alerts:        make(map[string]*alertEntry),
		pendingAlerts: make(map[string]struct{}),
		sink:          discardSink{},
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fills the store from the repository. No events are emitted.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	buses, err := s.repo.LoadBuses(ctx)
	if err != nil {
		return fmt.Errorf("load buses: %w", err)
	}
	alerts, err := s.repo.LoadAlerts(ctx)
	if err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}
	speedAlerts, err := s.repo.LoadSpeedAlerts(ctx, maxSpeedAlerts)
	if err != nil {
		return fmt.Errorf("load speed alerts: %w", err)
	}

	s.busMu.Lock()
	for _, bus := range buses {
		s.buses[bus.ID] = &busEntry{bus: bus.clone()}
	}
	s.busMu.Unlock()

	s.alertMu.Lock()
	for _, alert := range alerts {
		s.alerts[alert.ID] = &alertEntry{alert: alert.clone()}
	}
	s.alertMu.Unlock()

	sort.Slice(speedAlerts, func(i, j int) bool {
		return speedAlerts[i].Timestamp.Before(speedAlerts[j].Timestamp)
	})
	s.speedMu.Lock()
	s.speedAlerts = append(s.speedAlerts[:0], speedAlerts...)
	s.speedMu.Unlock()
	return nil
}

// CreateBus registers a new inactive bus. An empty ID is generated.
func (s *Store) CreateBus(ctx context.Context, in NewBus) (Bus, error) {
	number := strings.TrimSpace(in.Number)
	if number == "" {
		return Bus{}, apperr.InvalidField("bus_number", "bus number is required")
	}
	if in.Capacity <= 0 {
		return Bus{}, apperr.InvalidField("capacity", "capacity must be positive")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = s.newID()
	}
	bus := Bus{
		ID:        id,
		Number:    number,
		Capacity:  in.Capacity,
		RouteName: strings.TrimSpace(in.RouteName),
		Status:    BusInactive,
		DriverID:  strings.TrimSpace(in.DriverID),
		CreatedAt: s.now(),
	}

	s.busMu.Lock()
	_, exists := s.buses[id]
	_, pending := s.pendingBuses[id]
	if exists || pending {
		s.busMu.Unlock()
		return Bus{}, apperr.New(apperr.CodeConflict, "bus already exists")
	}
	s.pendingBuses[id] = struct{}{}
	s.busMu.Unlock()

	// The id is reserved, so the map lock is not held while persisting.
	entry := &busEntry{bus: bus}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	err := s.saveBus(ctx, bus)

	s.busMu.Lock()
	delete(s.pendingBuses, id)
	if err == nil {
		s.buses[id] = entry
	}
	s.busMu.Unlock()
	if err != nil {
		return Bus{}, err
	}

	s.sink.Publish(Event{Kind: EventBusCreated, At: s.now(), Bus: bus.clone()})
	return bus.clone(), nil
}

// GetBus returns a copy of one bus.
func (s *Store) GetBus(busID string) (Bus, error) {
	entry, ok := s.busEntry(busID)
	if !ok {
		return Bus{}, apperr.New(apperr.CodeNotFound, "bus not found")
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.bus.clone(), nil
}

// UpsertLocation replaces the bus's last known location and marks it active.
func (s *Store) UpsertLocation(ctx context.Context, busID string, report LocationReport) (Bus, error) {
	if err := ValidateReport(report); err != nil {
		return Bus{}, err
	}
	entry, ok := s.busEntry(busID)
	if !ok {
		return Bus{}, apperr.New(apperr.CodeNotFound, "bus not found")
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	report.BusID = busID
	if report.Timestamp.IsZero() {
		report.Timestamp = s.now()
	}
	next := entry.bus.clone()
	next.LastLocation = &report
	next.CurrentSpeed = report.Speed
	next.Status = BusActive
	if err := s.saveBus(ctx, next); err != nil {
		return Bus{}, err
	}
	entry.bus = next

	s.sink.Publish(Event{Kind: EventLocationUpdated, At: s.now(), Bus: next.clone()})
	return next.clone(), nil
}

// SetBusStatus changes the operating status of a bus.
func (s *Store) SetBusStatus(ctx context.Context, busID string, status BusStatus) (Bus, error) {
	if !status.Valid() {
		return Bus{}, apperr.InvalidField("status", "status must be 'active' or 'inactive'")
	}
	entry, ok := s.busEntry(busID)
	if !ok {
		return Bus{}, apperr.New(apperr.CodeNotFound, "bus not found")
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.bus.clone()
	next.Status = status
	if err := s.saveBus(ctx, next); err != nil {
		return Bus{}, err
	}
	entry.bus = next

	s.sink.Publish(Event{Kind: EventStatusChanged, At: s.now(), Bus: next.clone()})
	return next.clone(), nil
}

// ListBuses returns a copy of every bus ordered by bus number.
func (s *Store) ListBuses() []Bus {
	s.busMu.RLock()
	entries := make([]*busEntry, 0, len(s.buses))
	for _, entry := range s.buses {
		entries = append(entries, entry)
	}
	s.busMu.RUnlock()

	out := make([]Bus, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.bus.clone())
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number == out[j].Number {
			return out[i].ID < out[j].ID
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// CreateAlert stores a new active emergency alert.
func (s *Store) CreateAlert(ctx context.Context, alert EmergencyAlert) (EmergencyAlert, error) {
	if err := ValidateCoordinates(alert.Latitude, alert.Longitude); err != nil {
		return EmergencyAlert{}, err
	}
	if strings.TrimSpace(alert.ID) == "" {
		alert.ID = s.newID()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now()
	}
	alert.Status = AlertActive
	alert.ResolvedAt = nil
	alert.ResolvedBy = ""

	s.alertMu.Lock()
	_, exists := s.alerts[alert.ID]
	_, pending := s.pendingAlerts[alert.ID]
	if exists || pending {
		s.alertMu.Unlock()
		return EmergencyAlert{}, apperr.New(apperr.CodeConflict, "alert already exists")
	}
	s.pendingAlerts[alert.ID] = struct{}{}
	s.alertMu.Unlock()

	entry := &alertEntry{alert: alert}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	err := s.saveAlert(ctx, alert)

	s.alertMu.Lock()
	delete(s.pendingAlerts, alert.ID)
	if err == nil {
		s.alerts[alert.ID] = entry
	}
	s.alertMu.Unlock()
	if err != nil {
		return EmergencyAlert{}, err
	}

	s.sink.Publish(Event{Kind: EventAlertCreated, At: s.now(), Alert: alert.clone()})
	return alert.clone(), nil
}

// ResolveAlert marks an active alert resolved. Resolving twice is a conflict.
func (s *Store) ResolveAlert(ctx context.Context, alertID, resolvedBy string) (EmergencyAlert, error) {
	s.alertMu.RLock()
	entry, ok := s.alerts[alertID]
	s.alertMu.RUnlock()
	if !ok {
		return EmergencyAlert{}, apperr.New(apperr.CodeNotFound, "alert not found")
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.alert.Status == AlertResolved {
		return EmergencyAlert{}, apperr.New(apperr.CodeConflict, "alert already resolved")
	}
	next := entry.alert.clone()
	resolvedAt := s.now()
	next.Status = AlertResolved
	next.ResolvedAt = &resolvedAt
	next.ResolvedBy = resolvedBy
	if err := s.saveAlert(ctx, next); err != nil {
		return EmergencyAlert{}, err
	}
	entry.alert = next

	s.sink.Publish(Event{Kind: EventAlertResolved, At: resolvedAt, Alert: next.clone()})
	return next.clone(), nil
}

// ListAlerts returns alerts newest first. A positive limit caps the result.
func (s *Store) ListAlerts(limit int) []EmergencyAlert {
	s.alertMu.RLock()
	entries := make([]*alertEntry, 0, len(s.alerts))
	for _, entry := range s.alerts {
		entries = append(entries, entry)
	}
	s.alertMu.RUnlock()

	out := make([]EmergencyAlert, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.alert.clone())
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecordSpeedAlert stores a speed limit violation.
func (s *Store) RecordSpeedAlert(ctx context.Context, alert SpeedAlert) (SpeedAlert, error) {
	if strings.TrimSpace(alert.ID) == "" {
		alert.ID = s.newID()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now()
	}

	s.speedMu.Lock()
	defer s.speedMu.Unlock()
	if s.repo != nil {
		if err := s.repo.SaveSpeedAlert(ctx, alert); err != nil {
			return SpeedAlert{}, apperr.Wrap(apperr.CodeUnavailable, "persist speed alert", err)
		}
	}
	s.speedAlerts = append(s.speedAlerts, alert)
	if over := len(s.speedAlerts) - maxSpeedAlerts; over > 0 {
		s.speedAlerts = append(s.speedAlerts[:0], s.speedAlerts[over:]...)
	}

	s.sink.Publish(Event{Kind: EventSpeedAlertRaised, At: s.now(), SpeedAlert: alert})
	return alert, nil
}

// ListSpeedAlerts returns speed alerts newest first. A positive limit caps the result.
func (s *Store) ListSpeedAlerts(limit int) []SpeedAlert {
	s.speedMu.Lock()
	defer s.speedMu.Unlock()
	n := len(s.speedAlerts)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]SpeedAlert, 0, n)
	for i := len(s.speedAlerts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.speedAlerts[i])
	}
	return out
}

// Stats summarizes the store for the status page.
type Stats struct {
	Buses        int
	ActiveBuses  int
	Alerts       int
	ActiveAlerts int
	SpeedAlerts  int
}

// Stats counts records by state.
func (s *Store) Stats() Stats {
	var st Stats
	for _, bus := range s.ListBuses() {
		st.Buses++
		if bus.Status == BusActive {
			st.ActiveBuses++
		}
	}
	for _, alert := range s.ListAlerts(0) {
		st.Alerts++
		if alert.Status == AlertActive {
			st.ActiveAlerts++
		}
	}
	s.speedMu.Lock()
	st.SpeedAlerts = len(s.speedAlerts)
	s.speedMu.Unlock()
	return st
}

func (s *Store) busEntry(busID string) (*busEntry, bool) {
	s.busMu.RLock()
	defer s.busMu.RUnlock()
	entry, ok := s.buses[busID]
	return entry, ok
}

func (s *Store) saveBus(ctx context.Context, bus Bus) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveBus(ctx, bus); err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "persist bus", err)
	}
	return nil
}

func (s *Store) saveAlert(ctx context.Context, alert EmergencyAlert) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveAlert(ctx, alert); err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "persist alert", err)
	}
	return nil
}
