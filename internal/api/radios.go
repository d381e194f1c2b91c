package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/log4ym/station-core/internal/radio"
	"github.com/log4ym/station-core/internal/supervisor"
)

// handleListRadios returns the hub's latest view of every known radio:
// descriptor, connection state, and last observed operating state.
func (s *Server) handleListRadios(w http.ResponseWriter, _ *http.Request) {
	radios := s.hub.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"radios": radios, "count": len(radios)})
}

// handleGetRadio returns a single radio snapshot by ID.
func (s *Server) handleGetRadio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.hub.Device(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// addRadioRequest is the body for registering a radio by hand.
type addRadioRequest struct {
	ID           string   `json:"id,omitempty"`
	Family       string   `json:"family"`
	Model        string   `json:"model,omitempty"`
	Serial       string   `json:"serial,omitempty"`
	Address      string   `json:"address"`
	Version      string   `json:"version,omitempty"`
	Slices       int      `json:"slices,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// handleAddRadio registers a manually configured radio. Manual radios
// are exempt from discovery-silence expiry.
func (s *Server) handleAddRadio(w http.ResponseWriter, r *http.Request) {
	var req addRadioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	family, err := radio.ParseFamily(req.Family)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	id := req.ID
	if id == "" {
		id = radio.DeviceID(family, req.Serial, req.Address)
	}

	desc := radio.Descriptor{
		ID:           id,
		Family:       family,
		Model:        req.Model,
		Serial:       req.Serial,
		Address:      req.Address,
		Version:      req.Version,
		Slices:       req.Slices,
		Capabilities: radio.ParseCapabilities(strings.Join(req.Capabilities, ",")),
		Origin:       radio.OriginManual,
	}

	if err := s.registry.AddManual(desc); err != nil {
		writeDomainError(w, err)
		return
	}
	s.hub.PublishDeviceDiscovered(desc)

	writeJSON(w, http.StatusCreated, desc)
}

// handleRemoveRadio stops any supervisor for the radio, drops it from
// the registry, and announces the removal.
func (s *Server) handleRemoveRadio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// A radio that was never connected has no supervisor to stop.
	if err := s.radios.Remove(r.Context(), id); err != nil && !errors.Is(err, supervisor.ErrUnknownDevice) {
		writeDomainError(w, err)
		return
	}

	desc, err := s.registry.Remove(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.hub.PublishDeviceRemoved(*desc)

	writeJSON(w, http.StatusNoContent, nil)
}

// handleConnectRadio requests a connection to the radio. The supervisor
// runs the attempt in the background; progress arrives as
// connectionStateChanged events.
func (s *Server) handleConnectRadio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.radios.Connect(id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"device_id": id,
		"status":    "connecting",
	})
}

// handleDisconnectRadio requests a manual disconnect. Manual disconnects
// are immediate: no retry or backoff follows.
func (s *Server) handleDisconnectRadio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.radios.Disconnect(id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"device_id": id,
		"status":    "disconnecting",
	})
}

// handleSetFrequency tunes a monitored radio.
func (s *Server) handleSetFrequency(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		FrequencyHz int64 `json:"frequency_hz"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.FrequencyHz <= 0 {
		writeBadRequest(w, "frequency_hz must be a positive integer")
		return
	}

	if err := s.radios.SetFrequency(r.Context(), id, req.FrequencyHz); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":    id,
		"frequency_hz": req.FrequencyHz,
	})
}

// handleSetMode switches a monitored radio's operating mode. The
// supervisor applies CW offset compensation so the received signal
// stays on pitch across the change.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Mode == "" {
		writeBadRequest(w, "mode is required")
		return
	}

	if err := s.radios.SetMode(r.Context(), id, req.Mode); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"mode":      req.Mode,
	})
}

// handleSetPTT keys or unkeys a monitored radio. The ptt field is
// required so an omitted value can never key a transmitter.
func (s *Server) handleSetPTT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		PTT *bool `json:"ptt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.PTT == nil {
		writeBadRequest(w, "ptt is required")
		return
	}

	if err := s.radios.SetPTT(r.Context(), id, *req.PTT); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"ptt":       *req.PTT,
	})
}
