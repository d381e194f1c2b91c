package api

import "net/http"

// handleDiscoveryRecords returns the raw registry view: every known
// device with its last-seen time, advertised broadcast interval, and
// raw announcement payload. Useful for diagnosing discovery trouble
// that the radio snapshots hide.
func (s *Server) handleDiscoveryRecords(w http.ResponseWriter, _ *http.Request) {
	records := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}
