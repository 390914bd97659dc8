package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"bustrack/internal/apperr"
	"bustrack/internal/auth"
	"bustrack/internal/fleet"
)

var (
	driver   = auth.Identity{UserID: "d1", Role: auth.RoleDriver, Name: "Ravi"}
	driver2  = auth.Identity{UserID: "d2", Role: auth.RoleDriver}
	operator = auth.Identity{UserID: "op1", Role: auth.RoleTransportDept}
	student  = auth.Identity{UserID: "s1", Role: auth.RoleStudent}
)

func newTestService(t *testing.T) (*Service, *fleet.Store) {
	t.Helper()
	store := fleet.NewStore()
	ctx := context.Background()
	if _, err := store.CreateBus(ctx, fleet.NewBus{ID: "B1", Number: "DL-1S-0001", Capacity: 40, DriverID: "d1"}); err != nil {
		t.Fatalf("CreateBus: %v", err)
	}
	if _, err := store.CreateBus(ctx, fleet.NewBus{ID: "B2", Number: "DL-1S-0002", Capacity: 40}); err != nil {
		t.Fatalf("CreateBus: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, 0, logger), store
}

func TestService_ReportLocation(t *testing.T) {
	svc, store := newTestService(t)
	res, err := svc.ReportLocation(context.Background(), driver, LocationInput{BusID: "B1", Latitude: 28.7, Longitude: 77.1, Speed: 20})
	if err != nil {
		t.Fatalf("ReportLocation: %v", err)
	}
	if res.SpeedAlert != nil {
		t.Error("no speed alert expected under the limit")
	}
	bus, _ := store.GetBus("B1")
	if bus.LastLocation == nil || bus.LastLocation.Latitude != 28.7 || bus.LastLocation.Longitude != 77.1 {
		t.Errorf("last location %+v", bus.LastLocation)
	}
}

func TestService_ReportLocation_OutOfRangeLeavesStoreUnchanged(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ReportLocation(ctx, driver, LocationInput{BusID: "B1", Latitude: 28.7, Longitude: 77.1}); err != nil {
		t.Fatalf("ReportLocation: %v", err)
	}
	_, err := svc.ReportLocation(ctx, driver, LocationInput{BusID: "B1", Latitude: 999, Longitude: 0})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
	if appErr, _ := apperr.As(err); appErr.Field != "latitude" {
		t.Errorf("field %q, want latitude", appErr.Field)
	}
	bus, _ := store.GetBus("B1")
	if bus.LastLocation.Latitude != 28.7 || bus.LastLocation.Longitude != 77.1 {
		t.Errorf("location changed to %+v", bus.LastLocation)
	}
}

func TestService_ReportLocation_Authorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := LocationInput{BusID: "B1", Latitude: 1, Longitude: 1}

	if _, err := svc.ReportLocation(ctx, student, in); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("student err = %v, want forbidden", err)
	}
	if _, err := svc.ReportLocation(ctx, driver2, in); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other driver err = %v, want forbidden", err)
	}
	if _, err := svc.ReportLocation(ctx, driver2, LocationInput{BusID: "B2", Latitude: 1, Longitude: 1}); err != nil {
		t.Errorf("unassigned bus err = %v, want nil", err)
	}
	if _, err := svc.ReportLocation(ctx, operator, in); err != nil {
		t.Errorf("operator err = %v, want nil", err)
	}
	if _, err := svc.ReportLocation(ctx, driver, LocationInput{BusID: "B9", Latitude: 1, Longitude: 1}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown bus err = %v, want not found", err)
	}
}

func TestService_ReportLocation_SpeedAlert(t *testing.T) {
	svc, store := newTestService(t)
	res, err := svc.ReportLocation(context.Background(), driver, LocationInput{BusID: "B1", Latitude: 1, Longitude: 1, Speed: 95})
	if err != nil {
		t.Fatalf("ReportLocation: %v", err)
	}
	if res.SpeedAlert == nil {
		t.Fatal("expected speed alert")
	}
	if res.SpeedAlert.MaxSpeed != DefaultSpeedLimit || res.SpeedAlert.BusNumber != "DL-1S-0001" {
		t.Errorf("speed alert %+v", res.SpeedAlert)
	}
	if n := len(store.ListSpeedAlerts(0)); n != 1 {
		t.Errorf("stored speed alerts %d, want 1", n)
	}
}

func TestService_ReportEmergency(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	alert, err := svc.ReportEmergency(ctx, driver, EmergencyInput{BusID: "B1", Latitude: 28.7, Longitude: 77.1})
	if err != nil {
		t.Fatalf("ReportEmergency: %v", err)
	}
	if alert.Status != fleet.AlertActive {
		t.Errorf("Status %q, want active", alert.Status)
	}
	if alert.Description != defaultEmergencyDescription {
		t.Errorf("Description %q, want default", alert.Description)
	}
	if alert.DriverID != "d1" || alert.DriverName != "Ravi" || alert.BusNumber != "DL-1S-0001" {
		t.Errorf("alert %+v", alert)
	}

	if _, err := svc.ReportEmergency(ctx, operator, EmergencyInput{BusID: "B1"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("operator err = %v, want forbidden", err)
	}
	if _, err := svc.ReportEmergency(ctx, driver2, EmergencyInput{BusID: "B1"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other driver err = %v, want forbidden", err)
	}
	if _, err := svc.ReportEmergency(ctx, driver, EmergencyInput{BusID: "B1", Latitude: 91}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad coords err = %v, want invalid argument", err)
	}
	if n := len(store.ListAlerts(0)); n != 1 {
		t.Errorf("alerts %d, want 1", n)
	}
}

func TestService_ReportEmergency_RepeatedNeverThrottled(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if _, err := svc.ReportEmergency(ctx, driver, EmergencyInput{BusID: "B1", Description: "help"}); err != nil {
			t.Fatalf("ReportEmergency #%d: %v", i, err)
		}
	}
	if n := len(store.ListAlerts(0)); n != 50 {
		t.Errorf("alerts %d, want 50", n)
	}
}

func TestService_ResolveAlert(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	alert, err := svc.ReportEmergency(ctx, driver, EmergencyInput{BusID: "B1"})
	if err != nil {
		t.Fatalf("ReportEmergency: %v", err)
	}
	if _, err := svc.ResolveAlert(ctx, driver, alert.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("driver resolve err = %v, want forbidden", err)
	}
	resolved, err := svc.ResolveAlert(ctx, operator, alert.ID)
	if err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	if resolved.Status != fleet.AlertResolved {
		t.Errorf("Status %q, want resolved", resolved.Status)
	}
	if _, err := svc.ResolveAlert(ctx, operator, alert.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second resolve err = %v, want conflict", err)
	}
}

func TestService_CreateBus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateBus(ctx, driver, fleet.NewBus{Number: "9", Capacity: 10}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("driver err = %v, want forbidden", err)
	}
	bus, err := svc.CreateBus(ctx, operator, fleet.NewBus{Number: "9", Capacity: 10, RouteName: "North"})
	if err != nil {
		t.Fatalf("CreateBus: %v", err)
	}
	if bus.Status != fleet.BusInactive {
		t.Errorf("Status %q, want inactive", bus.Status)
	}
}

func TestService_SetBusStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.SetBusStatus(ctx, student, "B1", fleet.BusActive); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("student err = %v, want forbidden", err)
	}
	if _, err := svc.SetBusStatus(ctx, driver2, "B1", fleet.BusActive); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("other driver err = %v, want forbidden", err)
	}
	if _, err := svc.SetBusStatus(ctx, driver, "B1", "broken"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("bad status err = %v, want invalid argument", err)
	}
	bus, err := svc.SetBusStatus(ctx, driver, "B1", fleet.BusActive)
	if err != nil {
		t.Fatalf("SetBusStatus: %v", err)
	}
	if bus.Status != fleet.BusActive {
		t.Errorf("Status %q, want active", bus.Status)
	}
}
