package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bustrack/internal/apperr"
	"bustrack/internal/auth"
	"bustrack/internal/fleet"
	"bustrack/internal/ingest"
)

// listLimit caps alert listings to the newest entries.
const listLimit = 100

// APIHandler serves the JSON endpoints under /api.
type APIHandler struct {
	service *ingest.Service
	store   *fleet.Store
	logger  *slog.Logger
}

func NewAPIHandler(service *ingest.Service, store *fleet.Store, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{service: service, store: store, logger: logger}
}

// RegisterRoutes mounts the authenticated endpoints. The caller installs the
// authentication middleware.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/buses", func(r chi.Router) {
		r.Post("/", h.createBus)
		r.Get("/", h.listBuses)
		r.Patch("/{id}/status", h.setBusStatus)
	})
	r.Post("/locations", h.reportLocation)
	r.Get("/locations/latest", h.latestLocations)
	r.Route("/emergency", func(r chi.Router) {
		r.Post("/", h.reportEmergency)
		r.Get("/", h.listAlerts)
		r.Patch("/{id}/resolve", h.resolveAlert)
	})
	r.Get("/speed-alerts", h.listSpeedAlerts)
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createBusRequest struct {
	ID        string `json:"id"`
	Number    string `json:"bus_number"`
	Capacity  int    `json:"capacity"`
	RouteName string `json:"route_name"`
	DriverID  string `json:"driver_id"`
}

func (h *APIHandler) createBus(w http.ResponseWriter, r *http.Request) {
	caller, err := identityFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req createBusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bus, err := h.service.CreateBus(r.Context(), caller, fleet.NewBus{
		ID:        req.ID,
		Number:    req.Number,
		Capacity:  req.Capacity,
		RouteName: req.RouteName,
		DriverID:  req.DriverID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, bus)
}

func (h *APIHandler) listBuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListBuses())
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *APIHandler) setBusStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := identityFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status == "" && r.ContentLength != 0 {
		var req statusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		status = strings.TrimSpace(req.Status)
	}
	busID := chi.URLParam(r, "id")
	bus, err := h.service.SetBusStatus(r.Context(), caller, busID, fleet.BusStatus(status))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"bus_id":     bus.ID,
		"new_status": string(bus.Status),
	})
}

type locationRequest struct {
	BusID          string     `json:"bus_id"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	Speed          float64    `json:"speed"`
	Heading        float64    `json:"heading"`
	PassengerCount int        `json:"passenger_count"`
	Timestamp      *time.Time `json:"timestamp"`
}

func (h *APIHandler) reportLocation(w http.ResponseWriter, r *http.Request) {
	caller, err := identityFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lat, lng, err := requireCoordinates(req.Latitude, req.Longitude)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	in := ingest.LocationInput{
		BusID:          req.BusID,
		Latitude:       lat,
		Longitude:      lng,
		Speed:          req.Speed,
		Heading:        req.Heading,
		PassengerCount: req.PassengerCount,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}
	if _, err := h.service.ReportLocation(r.Context(), caller, in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"speed_alert": req.Speed > h.service.SpeedLimit(),
	})
}

func (h *APIHandler) latestLocations(w http.ResponseWriter, r *http.Request) {
	buses := h.store.ListBuses()
	active := make([]fleet.Bus, 0, len(buses))
	for _, bus := range buses {
		if bus.Status == fleet.BusActive {
			active = append(active, bus)
		}
	}
	writeJSON(w, http.StatusOK, active)
}

type emergencyRequest struct {
	BusID       string   `json:"bus_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Description string   `json:"description"`
}

func (h *APIHandler) reportEmergency(w http.ResponseWriter, r *http.Request) {
	caller, err := identityFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req emergencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lat, lng, err := requireCoordinates(req.Latitude, req.Longitude)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	alert, err := h.service.ReportEmergency(r.Context(), caller, ingest.EmergencyInput{
		BusID:       req.BusID,
		Latitude:    lat,
		Longitude:   lng,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"alert_id": alert.ID, "status": "alert_sent"})
}

func (h *APIHandler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, "only transport department can view alerts", auth.RoleTransportDept); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.ListAlerts(listLimit))
}

func (h *APIHandler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	caller, err := identityFrom(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	alert, err := h.service.ResolveAlert(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "resolved", "alert": alert})
}

func (h *APIHandler) listSpeedAlerts(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, "only transport department can view speed alerts", auth.RoleTransportDept); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.store.ListSpeedAlerts(listLimit))
}

func requireRole(r *http.Request, message string, roles ...auth.Role) error {
	caller, err := identityFrom(r)
	if err != nil {
		return err
	}
	if !caller.Is(roles...) {
		return apperr.New(apperr.CodeForbidden, message)
	}
	return nil
}

func requireCoordinates(lat, lng *float64) (float64, float64, error) {
	if lat == nil {
		return 0, 0, apperr.InvalidField("latitude", "latitude is required")
	}
	if lng == nil {
		return 0, 0, apperr.InvalidField("longitude", "longitude is required")
	}
	return *lat, *lng, nil
}
