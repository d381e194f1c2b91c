// Package influxdb provides InfluxDB connectivity for the station core.
//
// It wraps the official influxdb-client-go v2 library with station-specific
// patterns for connection management, point writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Radio state history (frequency, mode, PTT per rig)
//   - Digimode band activity (decode rate, SNR spread)
//   - Logged contact rate and distribution
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "log4ym",
//	    Bucket:  "station",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Record a state snapshot
//	client.WriteRadioState("ic-7300", "", 7030000, "CW", "40m", false)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// A busy FT8 band produces a decode burst every fifteen seconds; batching keeps
// that off the request path.
package influxdb
