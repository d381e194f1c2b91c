package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/log4ym/station-core/internal/discovery"
	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/keyer"
	"github.com/log4ym/station-core/internal/radio"
	"github.com/log4ym/station-core/internal/rigctld"
	"github.com/log4ym/station-core/internal/telemetry"
	"github.com/log4ym/station-core/internal/wirelog"
	"github.com/log4ym/station-core/internal/wsjtx"
)

// SystemMetrics represents the complete system metrics response.
// Optional components report nil when they are not configured.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Hub           hub.Stats         `json:"hub"`
	Registry      radio.Stats       `json:"registry"`
	Radios        RadioMetrics      `json:"radios"`
	Keyer         keyer.Stats       `json:"keyer"`
	WebSocket     WSMetrics         `json:"websocket"`
	Discovery     *discovery.Stats  `json:"discovery,omitempty"`
	DigiMode      *wsjtx.Stats      `json:"digimode,omitempty"`
	Telemetry     *telemetry.Stats  `json:"telemetry,omitempty"`
	Wirelog       *wirelog.Stats    `json:"wirelog,omitempty"`
	MQTT          *BrokerMetrics    `json:"mqtt,omitempty"`
	InfluxDB      *BrokerMetrics    `json:"influxdb,omitempty"`
	Rigctld       *rigctld.Stats    `json:"rigctld,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// RadioMetrics contains supervisor statistics.
type RadioMetrics struct {
	Supervised int      `json:"supervised"`
	DeviceIDs  []string `json:"device_ids,omitempty"`
}

// WSMetrics contains WebSocket stream statistics.
type WSMetrics struct {
	ConnectedClients int64 `json:"connected_clients"`
}

// BrokerMetrics reports the liveness of an external sink connection.
type BrokerMetrics struct {
	Connected bool `json:"connected"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	ids := s.radios.DeviceIDs()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Hub:      s.hub.GetStats(),
		Registry: s.registry.GetStats(),
		Radios: RadioMetrics{
			Supervised: len(ids),
			DeviceIDs:  ids,
		},
		Keyer: s.keyer.GetStats(),
		WebSocket: WSMetrics{
			ConnectedClients: s.wsClients.Load(),
		},
	}

	if s.disc != nil {
		stats := s.disc.GetStats()
		metrics.Discovery = &stats
	}
	if s.digimode != nil {
		stats := s.digimode.GetStats()
		metrics.DigiMode = &stats
	}
	if s.exporter != nil {
		stats := s.exporter.GetStats()
		metrics.Telemetry = &stats
	}
	if s.wirelog != nil {
		stats := s.wirelog.GetStats()
		metrics.Wirelog = &stats
	}
	if s.mqtt != nil {
		metrics.MQTT = &BrokerMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.influx != nil {
		metrics.InfluxDB = &BrokerMetrics{Connected: s.influx.IsConnected()}
	}
	if s.rigctld != nil {
		stats := s.rigctld.GetStats()
		metrics.Rigctld = &stats
	}

	writeJSON(w, http.StatusOK, metrics)
}
