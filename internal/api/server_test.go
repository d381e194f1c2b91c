package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/infrastructure/config"
	"github.com/log4ym/station-core/internal/infrastructure/logging"
	"github.com/log4ym/station-core/internal/keyer"
	"github.com/log4ym/station-core/internal/radio"
	"github.com/log4ym/station-core/internal/supervisor"
)

// fakeRadios is a test implementation of RadioController that records
// calls and returns injected errors.
type fakeRadios struct {
	mu    sync.Mutex
	calls []string
	ids   []string

	connectErr    error
	disconnectErr error
	removeErr     error
	commandErr    error
}

func (f *fakeRadios) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRadios) took() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRadios) Connect(deviceID string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.record("connect " + deviceID)
	return nil
}

func (f *fakeRadios) Disconnect(deviceID string) error {
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	f.record("disconnect " + deviceID)
	return nil
}

func (f *fakeRadios) Remove(_ context.Context, deviceID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.record("remove " + deviceID)
	return nil
}

func (f *fakeRadios) SetFrequency(_ context.Context, deviceID string, hz int64) error {
	if f.commandErr != nil {
		return f.commandErr
	}
	f.record(fmt.Sprintf("freq %s %d", deviceID, hz))
	return nil
}

func (f *fakeRadios) SetMode(_ context.Context, deviceID string, mode string) error {
	if f.commandErr != nil {
		return f.commandErr
	}
	f.record(fmt.Sprintf("mode %s %s", deviceID, mode))
	return nil
}

func (f *fakeRadios) SetPTT(_ context.Context, deviceID string, on bool) error {
	if f.commandErr != nil {
		return f.commandErr
	}
	f.record(fmt.Sprintf("ptt %s %v", deviceID, on))
	return nil
}

func (f *fakeRadios) DeviceIDs() []string {
	return f.ids
}

// fakeKeyer is a test implementation of KeyerController.
type fakeKeyer struct {
	mu    sync.Mutex
	calls []string

	sendErr  error
	stopErr  error
	speedErr error
	active   map[string]bool
}

func (f *fakeKeyer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeKeyer) took() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeKeyer) Send(_ context.Context, radioID, text string, wpm int) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if strings.TrimSpace(text) == "" {
		return keyer.ErrEmptyText
	}
	f.record(fmt.Sprintf("send %s %q %d", radioID, text, wpm))
	return nil
}

func (f *fakeKeyer) Stop(_ context.Context, radioID string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.record("stop " + radioID)
	return nil
}

func (f *fakeKeyer) SetSpeed(_ context.Context, radioID string, wpm int) error {
	if f.speedErr != nil {
		return f.speedErr
	}
	f.record(fmt.Sprintf("speed %s %d", radioID, wpm))
	return nil
}

func (f *fakeKeyer) Active(radioID string) bool {
	return f.active[radioID]
}

func (f *fakeKeyer) GetStats() keyer.Stats {
	return keyer.Stats{}
}

// fixtures bundles the real hub and registry with the controller fakes
// behind a test server.
type fixtures struct {
	hub      *hub.Hub
	registry *radio.Registry
	radios   *fakeRadios
	keyer    *fakeKeyer
}

// testServer creates a Server with a real hub and registry and fake
// controllers. Auth is disabled unless authToken is non-empty.
func testServer(t *testing.T, authToken string) (*Server, *fixtures) {
	t.Helper()

	fx := &fixtures{
		hub:      hub.New(64),
		registry: radio.NewRegistry(3),
		radios:   &fakeRadios{},
		keyer:    &fakeKeyer{active: make(map[string]bool)},
	}
	t.Cleanup(fx.hub.Close)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
			AuthToken: authToken,
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   1,
			PongTimeout:    2,
		},
		Logger:   log,
		Hub:      fx.hub,
		Registry: fx.registry,
		Radios:   fx.radios,
		Keyer:    fx.keyer,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return srv, fx
}

// seedRadio registers a manual radio directly and mirrors it into the hub.
func seedRadio(t *testing.T, fx *fixtures, id string) radio.Descriptor {
	t.Helper()

	desc := radio.Descriptor{
		ID:      id,
		Family:  radio.FamilyPolledRig,
		Model:   "IC-7300",
		Address: "127.0.0.1:4532",
		Origin:  radio.OriginManual,
	}
	if err := fx.registry.AddManual(desc); err != nil {
		t.Fatalf("AddManual: %v", err)
	}
	fx.hub.PublishDeviceDiscovered(desc)
	return desc
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth_DisabledWhenNoToken(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/radios", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuth_RejectsAndAccepts(t *testing.T) {
	srv, _ := testServer(t, "station-secret")
	router := srv.buildRouter()

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"valid bearer", "Bearer station-secret", "", http.StatusOK},
		{"valid query param", "", "station-secret", http.StatusOK},
		{"malformed header ignored", "station-secret", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/radios"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuth_HealthStaysOpen(t *testing.T) {
	srv, _ := testServer(t, "station-secret")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}

// ─── Radio Endpoint Tests ──────────────────────────────────────────

func TestListRadios_Empty(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/radios", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if int(resp["count"].(float64)) != 0 {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestAddAndGetRadio(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	body := `{
		"family": "polledrig",
		"model": "IC-7300",
		"address": "127.0.0.1:4532",
		"capabilities": ["frequency", "mode", "ptt", "cw"]
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created radio.Descriptor
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}

	if created.ID != "polledrig-127.0.0.1-4532" {
		t.Errorf("id = %q, want derived address id", created.ID)
	}
	if created.Origin != radio.OriginManual {
		t.Errorf("origin = %q, want %q", created.Origin, radio.OriginManual)
	}
	if len(created.Capabilities) != 4 {
		t.Errorf("capabilities = %v, want 4 entries", created.Capabilities)
	}

	// Get the snapshot by ID
	req = httptest.NewRequest(http.MethodGet, "/api/v1/radios/"+created.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}

	var snap hub.DeviceSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	if snap.Descriptor.Model != "IC-7300" {
		t.Errorf("model = %q, want IC-7300", snap.Descriptor.Model)
	}
	// Manual radios start disconnected; nothing has been observed yet.
	if snap.Connection.State != radio.ConnectionDisconnected {
		t.Errorf("connection = %q, want %q", snap.Connection.State, radio.ConnectionDisconnected)
	}
	if snap.State != nil {
		t.Errorf("state = %+v, want nil before first observation", snap.State)
	}
}

func TestAddRadio_SerialDerivedID(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	body := `{"family": "socketrig", "serial": "0A1B2C3D", "address": "192.168.1.20:4992"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created radio.Descriptor
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.ID != "socketrig-0a1b2c3d" {
		t.Errorf("id = %q, want serial-derived id", created.ID)
	}
}

func TestAddRadio_Duplicate(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	seedRadio(t, fx, "polledrig-127.0.0.1-4532")

	body := `{"family": "polledrig", "address": "127.0.0.1:4532"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestAddRadio_Validation(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", "not json"},
		{"unknown family", `{"family": "webcam", "address": "127.0.0.1:1"}`},
		{"missing address", `{"family": "lineacc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/radios", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestGetRadio_NotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/radios/nonexistent-id", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRemoveRadio(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	desc := seedRadio(t, fx, "polledrig-shack")

	// No supervisor was ever created for this radio; removal must
	// still succeed.
	fx.radios.removeErr = fmt.Errorf("remove %s: %w", desc.ID, supervisor.ErrUnknownDevice)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/radios/"+desc.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d; body: %s", w.Code, http.StatusNoContent, w.Body.String())
	}

	if fx.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", fx.registry.Count())
	}

	// Confirm gone from the hub view too
	req = httptest.NewRequest(http.MethodGet, "/api/v1/radios/"+desc.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRemoveRadio_NotFound(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	fx.radios.removeErr = fmt.Errorf("remove x: %w", supervisor.ErrUnknownDevice)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/radios/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Connection Control Tests ──────────────────────────────────────

func TestConnectRadio(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	desc := seedRadio(t, fx, "polledrig-shack")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios/"+desc.ID+"/connect", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	calls := fx.radios.took()
	if len(calls) != 1 || calls[0] != "connect "+desc.ID {
		t.Errorf("controller calls = %v, want single connect", calls)
	}
}

func TestConnectRadio_Unknown(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	fx.radios.connectErr = fmt.Errorf("connect ghost: %w", radio.ErrNotFound)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios/ghost/connect", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDisconnectRadio(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	desc := seedRadio(t, fx, "polledrig-shack")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios/"+desc.ID+"/disconnect", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}

	calls := fx.radios.took()
	if len(calls) != 1 || calls[0] != "disconnect "+desc.ID {
		t.Errorf("controller calls = %v, want single disconnect", calls)
	}
}

// ─── Rig Command Tests ─────────────────────────────────────────────

func TestSetFrequency(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()

	body := `{"frequency_hz": 7030000}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/frequency", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	calls := fx.radios.took()
	if len(calls) != 1 || calls[0] != "freq rig-1 7030000" {
		t.Errorf("controller calls = %v, want freq command", calls)
	}
}

func TestSetFrequency_Validation(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", "nope"},
		{"zero", `{"frequency_hz": 0}`},
		{"negative", `{"frequency_hz": -7030000}`},
		{"missing field", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/frequency", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestSetFrequency_NotMonitoring(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	fx.radios.commandErr = fmt.Errorf("rig-1: %w", supervisor.ErrNotMonitoring)

	body := `{"frequency_hz": 7030000}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/frequency", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestSetMode(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()

	body := `{"mode": "CW"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/mode", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	calls := fx.radios.took()
	if len(calls) != 1 || calls[0] != "mode rig-1 CW" {
		t.Errorf("controller calls = %v, want mode command", calls)
	}
}

func TestSetMode_Empty(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/mode", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSetPTT(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()

	tests := []struct {
		body string
		want string
	}{
		{`{"ptt": true}`, "ptt rig-1 true"},
		{`{"ptt": false}`, "ptt rig-1 false"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/ptt", strings.NewReader(tt.body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
	}

	calls := fx.radios.took()
	if len(calls) != 2 || calls[0] != tests[0].want || calls[1] != tests[1].want {
		t.Errorf("controller calls = %v", calls)
	}
}

func TestSetPTT_MissingField(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/ptt", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if calls := fx.radios.took(); len(calls) != 0 {
		t.Errorf("an invalid body must never reach the transmitter: %v", calls)
	}
}

// ─── CW Keyer Tests ────────────────────────────────────────────────

func TestKeyerSend(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()

	body := `{"text": "CQ TEST DE K1ABC", "wpm": 28}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios/rig-1/cw", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	calls := fx.keyer.took()
	if len(calls) != 1 || calls[0] != `send rig-1 "CQ TEST DE K1ABC" 28` {
		t.Errorf("keyer calls = %v", calls)
	}
}

func TestKeyerSend_EmptyText(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios/rig-1/cw", strings.NewReader(`{"text": "  "}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestKeyerSend_Busy(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	fx.keyer.sendErr = keyer.ErrKeyerBusy

	body := `{"text": "QRL?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/radios/rig-1/cw", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestKeyerStop(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/radios/rig-1/cw", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	calls := fx.keyer.took()
	if len(calls) != 1 || calls[0] != "stop rig-1" {
		t.Errorf("keyer calls = %v", calls)
	}
}

func TestKeyerSpeed(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	fx.keyer.active["rig-1"] = true

	body := `{"wpm": 32}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/cw/speed", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["active"] != true {
		t.Errorf("active = %v, want true", resp["active"])
	}

	calls := fx.keyer.took()
	if len(calls) != 1 || calls[0] != "speed rig-1 32" {
		t.Errorf("keyer calls = %v", calls)
	}
}

func TestKeyerSpeed_Invalid(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/radios/rig-1/cw/speed", strings.NewReader(`{"wpm": 0}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if calls := fx.keyer.took(); len(calls) != 0 {
		t.Errorf("keyer calls = %v, want none", calls)
	}
}

// ─── Discovery Endpoint Tests ──────────────────────────────────────

func TestDiscoveryRecords(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	seedRadio(t, fx, "polledrig-shack")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/discovery/records", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Records []radio.DiscoveryRecord `json:"records"`
		Count   int                     `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	if resp.Records[0].Descriptor.ID != "polledrig-shack" {
		t.Errorf("record id = %q", resp.Records[0].Descriptor.ID)
	}
	if resp.Records[0].LastSeen.IsZero() {
		t.Error("last_seen should be set for manual radios")
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	srv, fx := testServer(t, "")
	router := srv.buildRouter()
	seedRadio(t, fx, "polledrig-shack")
	fx.radios.ids = []string{"polledrig-shack"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}

	reg, ok := resp["registry"].(map[string]any)
	if !ok {
		t.Fatalf("registry metrics missing: %v", resp)
	}
	if int(reg["devices"].(float64)) != 1 {
		t.Errorf("registry devices = %v, want 1", reg["devices"])
	}

	radios, ok := resp["radios"].(map[string]any)
	if !ok {
		t.Fatalf("radio metrics missing: %v", resp)
	}
	if int(radios["supervised"].(float64)) != 1 {
		t.Errorf("supervised = %v, want 1", radios["supervised"])
	}

	// Optional sinks are not configured in tests.
	if _, present := resp["mqtt"]; present {
		t.Error("mqtt metrics should be omitted when no client is wired")
	}
	if _, present := resp["influxdb"]; present {
		t.Error("influxdb metrics should be omitted when no client is wired")
	}
}

// ─── Constructor Tests ─────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	h := hub.New(4)
	defer h.Close()
	reg := radio.NewRegistry(3)
	radios := &fakeRadios{}
	kyr := &fakeKeyer{}

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Hub: h, Registry: reg, Radios: radios, Keyer: kyr}},
		{"missing hub", Deps{Logger: log, Registry: reg, Radios: radios, Keyer: kyr}},
		{"missing registry", Deps{Logger: log, Hub: h, Radios: radios, Keyer: kyr}},
		{"missing radio controller", Deps{Logger: log, Hub: h, Registry: reg, Keyer: kyr}},
		{"missing keyer controller", Deps{Logger: log, Hub: h, Registry: reg, Radios: radios}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	srv, _ := testServer(t, "")

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail before Start()")
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

// testServerWithRealListener starts the server on a real port for
// end-to-end HTTP and WebSocket tests.
func testServerWithRealListener(t *testing.T, port int, authToken string) (*Server, *fixtures, string) {
	t.Helper()

	srv, fx := testServer(t, authToken)
	srv.cfg.Port = port

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() })

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Wait for the listener to come up
	time.Sleep(100 * time.Millisecond)

	return srv, fx, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _, addr := testServerWithRealListener(t, 19180, "")

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

// wsEvent mirrors the hub event JSON shape for decoding in tests.
type wsEvent struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id"`
	Snapshot bool            `json:"snapshot"`
	Payload  json.RawMessage `json:"payload"`
}

// readEvent reads one event frame with a deadline.
func readEvent(t *testing.T, ws *websocket.Conn) wsEvent {
	t.Helper()

	//nolint:errcheck // Deadline failure surfaces as a read error below
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}

	var ev wsEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event %q: %v", data, err)
	}
	return ev
}

func TestWebSocket_RehydratesThenStreams(t *testing.T) {
	_, fx, addr := testServerWithRealListener(t, 19181, "")

	// Seed the station picture before any client attaches.
	desc := radio.Descriptor{
		ID:      "socketrig-0a1b2c3d",
		Family:  radio.FamilySocketRig,
		Model:   "FLEX-6400",
		Address: "192.168.1.20:4992",
		Origin:  radio.OriginDiscovered,
	}
	fx.hub.PublishDeviceDiscovered(desc)
	fx.hub.PublishConnectionState(desc.ID, radio.ConnectionMonitoring, "")
	fx.hub.PublishState(desc.ID, radio.State{FrequencyHz: 14074000, Mode: "USB", UpdatedAt: time.Now()})

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	// Rehydration replays descriptor, connection, and state in order.
	ev := readEvent(t, ws)
	if ev.Type != "deviceDiscovered" || !ev.Snapshot {
		t.Fatalf("first event = %s snapshot=%v, want snapshot deviceDiscovered", ev.Type, ev.Snapshot)
	}
	ev = readEvent(t, ws)
	if ev.Type != "connectionStateChanged" || !ev.Snapshot {
		t.Fatalf("second event = %s snapshot=%v, want snapshot connectionStateChanged", ev.Type, ev.Snapshot)
	}
	ev = readEvent(t, ws)
	if ev.Type != "stateChanged" || !ev.Snapshot {
		t.Fatalf("third event = %s snapshot=%v, want snapshot stateChanged", ev.Type, ev.Snapshot)
	}

	// Live events follow with snapshot unset.
	fx.hub.PublishState(desc.ID, radio.State{FrequencyHz: 7030000, Mode: "CW", UpdatedAt: time.Now()})

	ev = readEvent(t, ws)
	if ev.Type != "stateChanged" || ev.Snapshot {
		t.Fatalf("live event = %s snapshot=%v, want live stateChanged", ev.Type, ev.Snapshot)
	}

	var st radio.State
	if err := json.Unmarshal(ev.Payload, &st); err != nil {
		t.Fatalf("unmarshal state payload: %v", err)
	}
	if st.FrequencyHz != 7030000 || st.Mode != "CW" {
		t.Errorf("state = %d %s, want 7030000 CW", st.FrequencyHz, st.Mode)
	}
}

func TestWebSocket_AuthToken(t *testing.T) {
	_, _, addr := testServerWithRealListener(t, 19182, "station-secret")

	// Without the token the handshake is rejected.
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	// The query parameter form works for browser clients.
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws?token=station-secret", nil)
	if err != nil {
		t.Fatalf("dial with token failed: %v", err)
	}
	ws.Close()
}

func TestWebSocket_ServerCloseEndsStream(t *testing.T) {
	srv, _, addr := testServerWithRealListener(t, 19183, "")

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// The stream must end promptly rather than idling until a network
	// timeout.
	//nolint:errcheck // Deadline failure surfaces as a read error below
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				t.Fatal("stream did not end after server close")
			}
			return
		}
	}
}
