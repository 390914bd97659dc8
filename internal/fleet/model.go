package fleet

import "time"

// BusStatus is the operating state of a bus.
type BusStatus string

const (
	BusActive   BusStatus = "active"
	BusInactive BusStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s BusStatus) Valid() bool {
	return s == BusActive || s == BusInactive
}

// AlertStatus is the lifecycle state of an emergency alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Bus is one vehicle of the fleet with its last known position.
type Bus struct {
	ID           string          `json:"id"`
	Number       string          `json:"bus_number"`
	Capacity     int             `json:"capacity"`
	RouteName    string          `json:"route_name"`
	Status       BusStatus       `json:"status"`
	DriverID     string          `json:"driver_id,omitempty"`
	LastLocation *LocationReport `json:"last_location,omitempty"`
	CurrentSpeed float64         `json:"current_speed"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AssignedToOther reports whether the bus is assigned to a driver other than userID.
func (b Bus) AssignedToOther(userID string) bool {
	return b.DriverID != "" && b.DriverID != userID
}

func (b Bus) clone() Bus {
	if b.LastLocation != nil {
		loc := *b.LastLocation
		b.LastLocation = &loc
	}
	return b
}

// NewBus holds the fields accepted when registering a bus.
type NewBus struct {
	ID        string
	Number    string
	Capacity  int
	RouteName string
	DriverID  string
}

// LocationReport is one position fix sent by a driver.
type LocationReport struct {
	BusID          string    `json:"bus_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Speed          float64   `json:"speed"`
	Heading        float64   `json:"heading"`
	PassengerCount int       `json:"passenger_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// EmergencyAlert is a driver-triggered incident.
type EmergencyAlert struct {
	ID          string      `json:"id"`
	BusID       string      `json:"bus_id"`
	BusNumber   string      `json:"bus_number"`
	DriverID    string      `json:"driver_id"`
	DriverName  string      `json:"driver_name"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Description string      `json:"description"`
	Status      AlertStatus `json:"status"`
	CreatedAt   time.Time   `json:"timestamp"`
	ResolvedAt  *time.Time  `json:"resolved_at"`
	ResolvedBy  string      `json:"resolved_by,omitempty"`
}

func (a EmergencyAlert) clone() EmergencyAlert {
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		a.ResolvedAt = &at
	}
	return a
}

// SpeedAlert records a location report over the configured speed limit.
type SpeedAlert struct {
	ID         string    `json:"id"`
	BusID      string    `json:"bus_id"`
	BusNumber  string    `json:"bus_number"`
	DriverID   string    `json:"driver_id"`
	DriverName string    `json:"driver_name"`
	Speed      float64   `json:"speed"`
	MaxSpeed   float64   `json:"max_speed"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
}
