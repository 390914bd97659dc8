package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"bustrack/internal/apperr"
	"bustrack/internal/fleet"
	"bustrack/pkg/realtime"
)

// Server-to-client event names.
const (
	EventLocationUpdate          = "location_update"
	EventBusStatusUpdate         = "bus_status_update"
	EventBusCreated              = "bus_created"
	EventEmergencyAlert          = "emergency_alert"
	EventAlertResolved           = "alert_resolved"
	EventSpeedAlert              = "speed_alert"
	EventSubscriptionConfirmed   = "subscription_confirmed"
	EventUnsubscriptionConfirmed = "unsubscription_confirmed"
	EventPong                    = "pong"
	EventError                   = "error"
)

// Client-to-server event names.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPing        = "ping"
)

// Envelope is every message written to a client.
type Envelope struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientMessage is a message read from a client.
type ClientMessage struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
}

// LocationUpdate is the payload of location_update.
type LocationUpdate struct {
	BusID          string    `json:"bus_id"`
	BusNumber      string    `json:"bus_number"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Speed          float64   `json:"speed"`
	Heading        float64   `json:"heading"`
	PassengerCount int       `json:"passenger_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// BusStatusUpdate is the payload of bus_status_update and bus_created.
type BusStatusUpdate struct {
	BusID     string          `json:"bus_id"`
	BusNumber string          `json:"bus_number"`
	RouteName string          `json:"route_name,omitempty"`
	Status    fleet.BusStatus `json:"status"`
}

// EmergencyAlertData is the payload of emergency_alert and alert_resolved.
type EmergencyAlertData struct {
	AlertID     string            `json:"alert_id"`
	BusID       string            `json:"bus_id"`
	BusNumber   string            `json:"bus_number"`
	DriverID    string            `json:"driver_id"`
	DriverName  string            `json:"driver_name"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	Description string            `json:"description"`
	Timestamp   time.Time         `json:"timestamp"`
	Status      fleet.AlertStatus `json:"status"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// SpeedAlertData is the payload of speed_alert.
type SpeedAlertData struct {
	AlertID    string    `json:"alert_id"`
	BusID      string    `json:"bus_id"`
	BusNumber  string    `json:"bus_number"`
	DriverID   string    `json:"driver_id"`
	DriverName string    `json:"driver_name"`
	Speed      float64   `json:"speed"`
	MaxSpeed   float64   `json:"max_speed"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Encode maps a domain event to its channel and wire message.
func Encode(e fleet.Event) (string, []byte, error) {
	var (
		channel string
		env     Envelope
	)
	switch e.Kind {
	case fleet.EventLocationUpdated:
		loc := e.Bus.LastLocation
		if loc == nil {
			return "", nil, fmt.Errorf("location event for bus %s has no location", e.Bus.ID)
		}
		channel = realtime.ChannelBusLocations
		env = Envelope{Event: EventLocationUpdate, Data: LocationUpdate{
			BusID:          e.Bus.ID,
			BusNumber:      e.Bus.Number,
			Latitude:       loc.Latitude,
			Longitude:      loc.Longitude,
			Speed:          loc.Speed,
			Heading:        loc.Heading,
			PassengerCount: loc.PassengerCount,
			Timestamp:      loc.Timestamp,
		}}
	case fleet.EventStatusChanged, fleet.EventBusCreated:
		name := EventBusStatusUpdate
		if e.Kind == fleet.EventBusCreated {
			name = EventBusCreated
		}
		channel = realtime.ChannelBusLocations
		env = Envelope{Event: name, Data: BusStatusUpdate{
			BusID:     e.Bus.ID,
			BusNumber: e.Bus.Number,
			RouteName: e.Bus.RouteName,
			Status:    e.Bus.Status,
		}}
	case fleet.EventAlertCreated, fleet.EventAlertResolved:
		name := EventEmergencyAlert
		if e.Kind == fleet.EventAlertResolved {
			name = EventAlertResolved
		}
		a := e.Alert
		channel = realtime.ChannelEmergencyAlerts
		env = Envelope{Event: name, Data: EmergencyAlertData{
			AlertID:     a.ID,
			BusID:       a.BusID,
			BusNumber:   a.BusNumber,
			DriverID:    a.DriverID,
			DriverName:  a.DriverName,
			Latitude:    a.Latitude,
			Longitude:   a.Longitude,
			Description: a.Description,
			Timestamp:   a.CreatedAt,
			Status:      a.Status,
			ResolvedAt:  a.ResolvedAt,
		}}
	case fleet.EventSpeedAlertRaised:
		a := e.SpeedAlert
		channel = realtime.ChannelSpeedAlerts
		env = Envelope{Event: EventSpeedAlert, Data: SpeedAlertData{
			AlertID:    a.ID,
			BusID:      a.BusID,
			BusNumber:  a.BusNumber,
			DriverID:   a.DriverID,
			DriverName: a.DriverName,
			Speed:      a.Speed,
			MaxSpeed:   a.MaxSpeed,
			Message: fmt.Sprintf("SPEED ALERT: Bus %s is traveling at %.1f km/h (Limit: %.0f km/h). Please reduce speed immediately!",
				a.BusNumber, a.Speed, a.MaxSpeed),
			Timestamp: a.Timestamp,
		}}
	default:
		return "", nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", e.Kind, err)
	}
	return channel, msg, nil
}

func encodeEnvelope(env Envelope) []byte {
	msg, err := json.Marshal(env)
	if err != nil {
		// Envelopes built here only hold strings.
		return []byte(`{"event":"error","code":"INTERNAL"}`)
	}
	return msg
}

func errorMessage(code apperr.Code, message string) []byte {
	return encodeEnvelope(Envelope{Event: EventError, Code: string(code), Message: message})
}
