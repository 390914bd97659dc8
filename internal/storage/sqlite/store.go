// Package sqlite persists fleet state in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bustrack/internal/fleet"
	"bustrack/internal/storage/sqlite/migrations"
)

// Store implements fleet.Repository.
type Store struct {
	db *sql.DB
}

var _ fleet.Repository = (*Store)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveBus upserts a bus row including its last location.
func (s *Store) SaveBus(ctx context.Context, bus fleet.Bus) error {
	var (
		hasLocation bool
		loc         fleet.LocationReport
	)
	if bus.LastLocation != nil {
		hasLocation = true
		loc = *bus.LastLocation
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO buses (
			id, bus_number, capacity, route_name, status, driver_id, current_speed, created_at,
			has_location, last_latitude, last_longitude, last_speed, last_heading, last_passenger_count, last_reported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bus_number = excluded.bus_number,
			capacity = excluded.capacity,
			route_name = excluded.route_name,
			status = excluded.status,
			driver_id = excluded.driver_id,
			current_speed = excluded.current_speed,
			has_location = excluded.has_location,
			last_latitude = excluded.last_latitude,
			last_longitude = excluded.last_longitude,
			last_speed = excluded.last_speed,
			last_heading = excluded.last_heading,
			last_passenger_count = excluded.last_passenger_count,
			last_reported_at = excluded.last_reported_at`,
		bus.ID, bus.Number, bus.Capacity, bus.RouteName, string(bus.Status), bus.DriverID, bus.CurrentSpeed, toMillis(bus.CreatedAt),
		hasLocation, loc.Latitude, loc.Longitude, loc.Speed, loc.Heading, loc.PassengerCount, toMillis(loc.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("save bus %s: %w", bus.ID, err)
	}
	return nil
}

// LoadBuses returns every stored bus.
func (s *Store) LoadBuses(ctx context.Context) ([]fleet.Bus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bus_number, capacity, route_name, status, driver_id, current_speed, created_at,
			has_location, last_latitude, last_longitude, last_speed, last_heading, last_passenger_count, last_reported_at
		FROM buses ORDER BY bus_number, id`)
	if err != nil {
		return nil, fmt.Errorf("query buses: %w", err)
	}
	defer rows.Close()

	var buses []fleet.Bus
	for rows.Next() {
		var (
			bus         fleet.Bus
			status      string
			createdAt   int64
			hasLocation bool
			loc         fleet.LocationReport
			reportedAt  int64
		)
		if err := rows.Scan(
			&bus.ID, &bus.Number, &bus.Capacity, &bus.RouteName, &status, &bus.DriverID, &bus.CurrentSpeed, &createdAt,
			&hasLocation, &loc.Latitude, &loc.Longitude, &loc.Speed, &loc.Heading, &loc.PassengerCount, &reportedAt,
		); err != nil {
			return nil, fmt.Errorf("scan bus: %w", err)
		}
		bus.Status = fleet.BusStatus(status)
		bus.CreatedAt = fromMillis(createdAt)
		if hasLocation {
			loc.BusID = bus.ID
			loc.Timestamp = fromMillis(reportedAt)
			bus.LastLocation = &loc
		}
		buses = append(buses, bus)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buses: %w", err)
	}
	return buses, nil
}

// SaveAlert upserts an emergency alert.
func (s *Store) SaveAlert(ctx context.Context, alert fleet.EmergencyAlert) error {
	var resolvedAt sql.NullInt64
	if alert.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: toMillis(*alert.ResolvedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_alerts (
			id, bus_id, bus_number, driver_id, driver_name, latitude, longitude, description, status, created_at, resolved_at, resolved_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by`,
		alert.ID, alert.BusID, alert.BusNumber, alert.DriverID, alert.DriverName, alert.Latitude, alert.Longitude,
		alert.Description, string(alert.Status), toMillis(alert.CreatedAt), resolvedAt, alert.ResolvedBy,
	)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", alert.ID, err)
	}
	return nil
}

// LoadAlerts returns every stored emergency alert, newest first.
func (s *Store) LoadAlerts(ctx context.Context) ([]fleet.EmergencyAlert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bus_id, bus_number, driver_id, driver_name, latitude, longitude, description, status, created_at, resolved_at, resolved_by
		FROM emergency_alerts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []fleet.EmergencyAlert
	for rows.Next() {
		var (
			alert      fleet.EmergencyAlert
			status     string
			createdAt  int64
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(
			&alert.ID, &alert.BusID, &alert.BusNumber, &alert.DriverID, &alert.DriverName, &alert.Latitude, &alert.Longitude,
			&alert.Description, &status, &createdAt, &resolvedAt, &alert.ResolvedBy,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Status = fleet.AlertStatus(status)
		alert.CreatedAt = fromMillis(createdAt)
		if resolvedAt.Valid {
			at := fromMillis(resolvedAt.Int64)
			alert.ResolvedAt = &at
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// SaveSpeedAlert inserts a speed alert.
func (s *Store) SaveSpeedAlert(ctx context.Context, alert fleet.SpeedAlert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO speed_alerts (
			id, bus_id, bus_number, driver_id, driver_name, speed, max_speed, latitude, longitude, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.BusID, alert.BusNumber, alert.DriverID, alert.DriverName,
		alert.Speed, alert.MaxSpeed, alert.Latitude, alert.Longitude, toMillis(alert.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("save speed alert %s: %w", alert.ID, err)
	}
	return nil
}

// LoadSpeedAlerts returns up to limit speed alerts, newest first.
func (s *Store) LoadSpeedAlerts(ctx context.Context, limit int) ([]fleet.SpeedAlert, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bus_id, bus_number, driver_id, driver_name, speed, max_speed, latitude, longitude, recorded_at
		FROM speed_alerts ORDER BY recorded_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query speed alerts: %w", err)
	}
	defer rows.Close()

	var alerts []fleet.SpeedAlert
	for rows.Next() {
		var (
			alert      fleet.SpeedAlert
			recordedAt int64
		)
		if err := rows.Scan(
			&alert.ID, &alert.BusID, &alert.BusNumber, &alert.DriverID, &alert.DriverName,
			&alert.Speed, &alert.MaxSpeed, &alert.Latitude, &alert.Longitude, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan speed alert: %w", err)
		}
		alert.Timestamp = fromMillis(recordedAt)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate speed alerts: %w", err)
	}
	return alerts, nil
}
