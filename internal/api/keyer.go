package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleKeyerSend starts a CW transmission on the radio. The keyer
// claims the radio's slot and paces the text word by word in the
// background; a second send while one is in flight is rejected.
func (s *Server) handleKeyerSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Text string `json:"text"`
		WPM  int    `json:"wpm,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// WPM zero selects the keyer's default speed.
	if err := s.keyer.Send(r.Context(), id, req.Text, req.WPM); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"device_id": id,
		"status":    "sending",
	})
}

// handleKeyerStop aborts any in-flight CW transmission and keys up.
// Stopping an idle radio still sends the key-up command: the radio may
// be keying from a source this plane did not start.
func (s *Server) handleKeyerStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.keyer.Stop(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"device_id": id,
		"status":    "stopped",
	})
}

// handleKeyerSpeed changes the radio's keying speed. An in-flight send
// keeps running and paces its remaining words at the new speed.
func (s *Server) handleKeyerSpeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		WPM int `json:"wpm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.WPM <= 0 {
		writeBadRequest(w, "wpm must be a positive integer")
		return
	}

	if err := s.keyer.SetSpeed(r.Context(), id, req.WPM); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"wpm":       req.WPM,
		"active":    s.keyer.Active(id),
	})
}
