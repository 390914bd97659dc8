package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bustrack/internal/auth"
	"bustrack/internal/fleet"
	"bustrack/internal/ingest"
	"bustrack/internal/stream"
	"bustrack/pkg/realtime"
)

type testServer struct {
	srv      *httptest.Server
	store    *fleet.Store
	hub      *realtime.Broadcaster
	verifier *auth.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := realtime.NewBroadcaster(realtime.NewRegistry(), logger)
	verifier, err := auth.NewVerifier("handler-secret", "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	store := fleet.NewStore(fleet.WithEventSink(stream.NewFanout(hub, logger)))
	router := NewRouter(Deps{
		Service:  ingest.NewService(store, 80, logger),
		Store:    store,
		Hub:      hub,
		Verifier: verifier,
		Stream:   stream.NewServer(hub, verifier, stream.Options{}, logger),
		Logger:   logger,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &testServer{srv: srv, store: store, hub: hub, verifier: verifier}
}

func (s *testServer) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := s.verifier.Issue(auth.Identity{UserID: userID, Role: role, Name: "User " + userID}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (s *testServer) createBus(t *testing.T, id, driverID string) {
	t.Helper()
	if _, err := s.store.CreateBus(context.Background(), fleet.NewBus{ID: id, Number: "DL-" + id, Capacity: 40, DriverID: driverID}); err != nil {
		t.Fatalf("CreateBus: %v", err)
	}
}

func decodeError(t *testing.T, data []byte) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode error body %s: %v", data, err)
	}
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("health %d %s", resp.StatusCode, data)
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	resp, data := s.do(t, http.MethodGet, "/api/buses", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
	if body := decodeError(t, data); body.Code != "UNAUTHENTICATED" || body.Detail == "" {
		t.Errorf("body %+v", body)
	}
}

func TestAPI_LocationReachesSubscriber(t *testing.T) {
	s := newTestServer(t)
	s.createBus(t, "B1", "")

	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + s.token(t, "student-1", auth.RoleStudent)
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","channel":"bus_locations"}`)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("read confirmation: %v", err)
	}

	resp, data := s.do(t, http.MethodPost, "/api/locations", s.token(t, "driver-1", auth.RoleDriver), map[string]any{
		"bus_id": "B1", "latitude": 28.7, "longitude": 77.1, "speed": 30,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["status"] != "success" || result["speed_alert"] != false {
		t.Errorf("result %v", result)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	var env struct {
		Event string               `json:"event"`
		Data  stream.LocationUpdate `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if env.Event != "location_update" || env.Data.BusID != "B1" || env.Data.Latitude != 28.7 || env.Data.Longitude != 77.1 {
		t.Errorf("update %+v", env)
	}

	bus, err := s.store.GetBus("B1")
	if err != nil {
		t.Fatalf("GetBus: %v", err)
	}
	if bus.Status != fleet.BusActive {
		t.Errorf("status %s, want active", bus.Status)
	}
}

func TestAPI_InvalidLatitudeLeavesStoreUnchanged(t *testing.T) {
	s := newTestServer(t)
	s.createBus(t, "B1", "")

	resp, data := s.do(t, http.MethodPost, "/api/locations", s.token(t, "driver-1", auth.RoleDriver), map[string]any{
		"bus_id": "B1", "latitude": 999, "longitude": 77.1,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if body := decodeError(t, data); body.Code != "INVALID_ARGUMENT" || body.Field != "latitude" {
		t.Errorf("body %+v", body)
	}
	bus, err := s.store.GetBus("B1")
	if err != nil {
		t.Fatalf("GetBus: %v", err)
	}
	if bus.LastLocation != nil || bus.Status != fleet.BusInactive {
		t.Errorf("bus changed: %+v", bus)
	}
}

func TestAPI_LocationValidation(t *testing.T) {
	s := newTestServer(t)
	s.createBus(t, "B1", "driver-2")
	driver := s.token(t, "driver-1", auth.RoleDriver)

	cases := []struct {
		name   string
		token  string
		body   any
		status int
	}{
		{"missing latitude", driver, map[string]any{"bus_id": "B1", "longitude": 1}, http.StatusBadRequest},
		{"unknown bus", driver, map[string]any{"bus_id": "B9", "latitude": 1, "longitude": 1}, http.StatusNotFound},
		{"assigned to other driver", driver, map[string]any{"bus_id": "B1", "latitude": 1, "longitude": 1}, http.StatusForbidden},
		{"student", s.token(t, "student-1", auth.RoleStudent), map[string]any{"bus_id": "B1", "latitude": 1, "longitude": 1}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, "/api/locations", tc.token, tc.body)
			if resp.StatusCode != tc.status {
				t.Errorf("status %d, want %d: %s", resp.StatusCode, tc.status, data)
			}
		})
	}
}

func TestAPI_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/locations", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token(t, "driver-1", auth.RoleDriver))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestAPI_SpeedAlert(t *testing.T) {
	s := newTestServer(t)
	s.createBus(t, "B1", "")
	resp, data := s.do(t, http.MethodPost, "/api/locations", s.token(t, "driver-1", auth.RoleDriver), map[string]any{
		"bus_id": "B1", "latitude": 28.7, "longitude": 77.1, "speed": 95,
	})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"speed_alert":true`) {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}

	resp, data = s.do(t, http.MethodGet, "/api/speed-alerts", s.token(t, "ops-1", auth.RoleTransportDept), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var alerts []fleet.SpeedAlert
	if err := json.Unmarshal(data, &alerts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Speed != 95 || alerts[0].MaxSpeed != 80 {
		t.Errorf("alerts %+v", alerts)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/speed-alerts", s.token(t, "driver-1", auth.RoleDriver), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("driver listing speed alerts: status %d, want 403", resp.StatusCode)
	}
}

func TestAPI_EmergencyLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.createBus(t, "B1", "driver-1")
	driver := s.token(t, "driver-1", auth.RoleDriver)
	ops := s.token(t, "ops-1", auth.RoleTransportDept)

	resp, data := s.do(t, http.MethodPost, "/api/emergency", driver, map[string]any{
		"bus_id": "B1", "latitude": 28.7, "longitude": 77.1, "description": "engine smoke",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var sent struct {
		AlertID string `json:"alert_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.AlertID == "" || sent.Status != "alert_sent" {
		t.Fatalf("response %+v", sent)
	}

	resp, data = s.do(t, http.MethodGet, "/api/emergency", ops, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", resp.StatusCode, data)
	}
	var alerts []fleet.EmergencyAlert
	if err := json.Unmarshal(data, &alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Status != fleet.AlertActive || alerts[0].Description != "engine smoke" {
		t.Fatalf("alerts %+v", alerts)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/emergency", driver, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("driver listing alerts: status %d, want 403", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodPatch, "/api/emergency/"+sent.AlertID+"/resolve", driver, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("driver resolving: status %d, want 403", resp.StatusCode)
	}

	resp, data = s.do(t, http.MethodPatch, "/api/emergency/"+sent.AlertID+"/resolve", ops, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"resolved"`) {
		t.Fatalf("resolve status %d: %s", resp.StatusCode, data)
	}
	resp, _ = s.do(t, http.MethodPatch, "/api/emergency/"+sent.AlertID+"/resolve", ops, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second resolve: status %d, want 409", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodPatch, "/api/emergency/missing/resolve", ops, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown alert: status %d, want 404", resp.StatusCode)
	}
}

func TestAPI_BusManagement(t *testing.T) {
	s := newTestServer(t)
	ops := s.token(t, "ops-1", auth.RoleTransportDept)

	resp, data := s.do(t, http.MethodPost, "/api/buses", ops, map[string]any{
		"bus_number": "DL-1S-0042", "capacity": 40, "route_name": "North Loop",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, data)
	}
	var bus fleet.Bus
	if err := json.Unmarshal(data, &bus); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bus.ID == "" || bus.Status != fleet.BusInactive {
		t.Fatalf("bus %+v", bus)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/buses", s.token(t, "driver-1", auth.RoleDriver), map[string]any{"bus_number": "X", "capacity": 1})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("driver create: status %d, want 403", resp.StatusCode)
	}

	resp, data = s.do(t, http.MethodPatch, "/api/buses/"+bus.ID+"/status?status=active", ops, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"new_status":"active"`) {
		t.Fatalf("status via query %d: %s", resp.StatusCode, data)
	}
	resp, data = s.do(t, http.MethodPatch, "/api/buses/"+bus.ID+"/status", ops, map[string]string{"status": "inactive"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), `"new_status":"inactive"`) {
		t.Fatalf("status via body %d: %s", resp.StatusCode, data)
	}
	resp, _ = s.do(t, http.MethodPatch, "/api/buses/"+bus.ID+"/status?status=parked", ops, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status: %d, want 400", resp.StatusCode)
	}

	resp, data = s.do(t, http.MethodGet, "/api/buses", s.token(t, "student-1", auth.RoleStudent), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	var buses []fleet.Bus
	if err := json.Unmarshal(data, &buses); err != nil {
		t.Fatalf("decode buses: %v", err)
	}
	if len(buses) != 1 || buses[0].Number != "DL-1S-0042" {
		t.Errorf("buses %+v", buses)
	}
}

func TestAPI_LatestLocationsOnlyActive(t *testing.T) {
	s := newTestServer(t)
	s.createBus(t, "B1", "")
	s.createBus(t, "B2", "")
	if _, err := s.store.UpsertLocation(context.Background(), "B1", fleet.LocationReport{Latitude: 1, Longitude: 2}); err != nil {
		t.Fatalf("UpsertLocation: %v", err)
	}
	resp, data := s.do(t, http.MethodGet, "/api/locations/latest", s.token(t, "student-1", auth.RoleStudent), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var buses []fleet.Bus
	if err := json.Unmarshal(data, &buses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buses) != 1 || buses[0].ID != "B1" || buses[0].LastLocation == nil {
		t.Errorf("buses %+v", buses)
	}
}

func TestStatusPage(t *testing.T) {
	s := newTestServer(t)
	s.createBus(t, "B1", "")
	if _, err := s.store.UpsertLocation(context.Background(), "B1", fleet.LocationReport{Latitude: 28.7, Longitude: 77.1, Speed: 20}); err != nil {
		t.Fatalf("UpsertLocation: %v", err)
	}
	resp, data := s.do(t, http.MethodGet, "/", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type %q", ct)
	}
	body := string(data)
	for _, want := range []string{"Campus Bus Tracking", "DL-B1", "28.70000, 77.10000", "1 (1 active)"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}
