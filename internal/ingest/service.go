// Package ingest applies driver and operator requests to the fleet store
// after validating input and authorizing the caller.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bustrack/internal/apperr"
	"bustrack/internal/auth"
	"bustrack/internal/fleet"
)

// DefaultSpeedLimit is the speed in km/h above which a speed alert is raised.
const DefaultSpeedLimit = 80.0

const defaultEmergencyDescription = "Emergency reported by driver"

// LocationInput is a driver's position report.
type LocationInput struct {
	BusID          string
	Latitude       float64
	Longitude      float64
	Speed          float64
	Heading        float64
	PassengerCount int
	Timestamp      time.Time
}

// LocationResult is the outcome of a location report.
type LocationResult struct {
	Bus        fleet.Bus
	SpeedAlert *fleet.SpeedAlert
}

// EmergencyInput is a driver's emergency trigger.
type EmergencyInput struct {
	BusID       string
	Latitude    float64
	Longitude   float64
	Description string
}

// Service is the ingest handler in front of the store.
type Service struct {
	store      *fleet.Store
	speedLimit float64
	logger     *slog.Logger
}

// NewService creates a service. A non-positive speedLimit uses DefaultSpeedLimit.
func NewService(store *fleet.Store, speedLimit float64, logger *slog.Logger) *Service {
	if speedLimit <= 0 {
		speedLimit = DefaultSpeedLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, speedLimit: speedLimit, logger: logger}
}

// SpeedLimit returns the configured limit in km/h.
func (s *Service) SpeedLimit() float64 {
	return s.speedLimit
}

// ReportLocation validates and applies a location report.
func (s *Service) ReportLocation(ctx context.Context, caller auth.Identity, in LocationInput) (LocationResult, error) {
	if !caller.Is(auth.RoleDriver, auth.RoleTransportDept) {
		return LocationResult{}, apperr.New(apperr.CodeForbidden, "only drivers can update location")
	}
	report := fleet.LocationReport{
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		Speed:          in.Speed,
		Heading:        in.Heading,
		PassengerCount: in.PassengerCount,
		Timestamp:      in.Timestamp.UTC(),
	}
	if err := fleet.ValidateReport(report); err != nil {
		return LocationResult{}, err
	}
	bus, err := s.authorizeBus(caller, in.BusID)
	if err != nil {
		return LocationResult{}, err
	}

	updated, err := s.store.UpsertLocation(ctx, bus.ID, report)
	if err != nil {
		return LocationResult{}, err
	}
	result := LocationResult{Bus: updated}

	if in.Speed > s.speedLimit {
		alert, err := s.store.RecordSpeedAlert(ctx, fleet.SpeedAlert{
			BusID:      updated.ID,
			BusNumber:  updated.Number,
			DriverID:   caller.UserID,
			DriverName: displayName(caller),
			Speed:      in.Speed,
			MaxSpeed:   s.speedLimit,
			Latitude:   in.Latitude,
			Longitude:  in.Longitude,
		})
		if err != nil {
			// The location itself was applied; only the speed alert is lost.
			s.logger.Error("record speed alert", "bus_id", updated.ID, "speed", in.Speed, "err", err)
		} else {
			result.SpeedAlert = &alert
			s.logger.Warn("speed limit exceeded", "bus_id", updated.ID, "speed", in.Speed, "limit", s.speedLimit)
		}
	}
	return result, nil
}

// ReportEmergency creates an active alert. It is never throttled and only
// the coordinates are validated.
func (s *Service) ReportEmergency(ctx context.Context, caller auth.Identity, in EmergencyInput) (fleet.EmergencyAlert, error) {
	if !caller.Is(auth.RoleDriver) {
		return fleet.EmergencyAlert{}, apperr.New(apperr.CodeForbidden, "only drivers can trigger emergency alerts")
	}
	if err := fleet.ValidateCoordinates(in.Latitude, in.Longitude); err != nil {
		return fleet.EmergencyAlert{}, err
	}
	bus, err := s.authorizeBus(caller, in.BusID)
	if err != nil {
		return fleet.EmergencyAlert{}, err
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = defaultEmergencyDescription
	}
	alert, err := s.store.CreateAlert(ctx, fleet.EmergencyAlert{
		BusID:       bus.ID,
		BusNumber:   bus.Number,
		DriverID:    caller.UserID,
		DriverName:  displayName(caller),
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Description: description,
	})
	if err != nil {
		return fleet.EmergencyAlert{}, err
	}
	s.logger.Warn("emergency alert raised", "alert_id", alert.ID, "bus_id", bus.ID, "driver_id", caller.UserID)
	return alert, nil
}

// ResolveAlert closes an alert on behalf of an operator.
func (s *Service) ResolveAlert(ctx context.Context, caller auth.Identity, alertID string) (fleet.EmergencyAlert, error) {
	if !caller.Is(auth.RoleTransportDept) {
		return fleet.EmergencyAlert{}, apperr.New(apperr.CodeForbidden, "only transport department can resolve alerts")
	}
	alert, err := s.store.ResolveAlert(ctx, strings.TrimSpace(alertID), caller.UserID)
	if err != nil {
		return fleet.EmergencyAlert{}, err
	}
	s.logger.Info("emergency alert resolved", "alert_id", alert.ID, "resolved_by", caller.UserID)
	return alert, nil
}

// CreateBus registers a bus on behalf of an operator.
func (s *Service) CreateBus(ctx context.Context, caller auth.Identity, in fleet.NewBus) (fleet.Bus, error) {
	if !caller.Is(auth.RoleTransportDept) {
		return fleet.Bus{}, apperr.New(apperr.CodeForbidden, "only transport department can create buses")
	}
	bus, err := s.store.CreateBus(ctx, in)
	if err != nil {
		return fleet.Bus{}, fmt.Errorf("create bus: %w", err)
	}
	return bus, nil
}

// SetBusStatus toggles a bus on behalf of its driver or an operator.
func (s *Service) SetBusStatus(ctx context.Context, caller auth.Identity, busID string, status fleet.BusStatus) (fleet.Bus, error) {
	if !caller.Is(auth.RoleDriver, auth.RoleTransportDept) {
		return fleet.Bus{}, apperr.New(apperr.CodeForbidden, "only drivers and transport department can update bus status")
	}
	if !status.Valid() {
		return fleet.Bus{}, apperr.InvalidField("status", "status must be 'active' or 'inactive'")
	}
	bus, err := s.authorizeBus(caller, busID)
	if err != nil {
		return fleet.Bus{}, err
	}
	return s.store.SetBusStatus(ctx, bus.ID, status)
}

// authorizeBus loads the bus and checks that a driver caller is assigned to
// it. Unassigned buses may be driven by any driver; operators may act on all.
func (s *Service) authorizeBus(caller auth.Identity, busID string) (fleet.Bus, error) {
	busID = strings.TrimSpace(busID)
	if busID == "" {
		return fleet.Bus{}, apperr.InvalidField("bus_id", "bus id is required")
	}
	bus, err := s.store.GetBus(busID)
	if err != nil {
		return fleet.Bus{}, err
	}
	if caller.Role == auth.RoleDriver && bus.AssignedToOther(caller.UserID) {
		return fleet.Bus{}, apperr.New(apperr.CodeForbidden, "you can only control buses assigned to you")
	}
	return bus, nil
}

func displayName(id auth.Identity) string {
	if id.Name != "" {
		return id.Name
	}
	return "Unknown"
}
