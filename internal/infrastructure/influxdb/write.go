package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteRadioState writes a radio state snapshot to InfluxDB.
//
// This is the primary method for recording rig telemetry. Each call
// produces one point in the radio_state measurement, tagged by device
// so per-rig frequency and PTT history can be charted independently.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the radio (e.g., "flex-6400")
//   - slice: Sub-channel label for multi-receiver rigs, "" otherwise
//   - frequencyHz: Tuned frequency in Hz
//   - mode: Operating mode (e.g., "CW", "USB")
//   - band: Amateur band label (e.g., "40m"), "" if out of band
//   - transmitting: Current PTT state
//
// Example:
//
//	client.WriteRadioState("ic-7300", "", 7030000, "CW", "40m", false)
func (c *Client) WriteRadioState(deviceID, slice string, frequencyHz int64, mode, band string, transmitting bool) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"device_id": deviceID,
	}
	if slice != "" {
		tags["slice"] = slice
	}
	if band != "" {
		tags["band"] = band
	}

	point := write.NewPoint(
		"radio_state",
		tags,
		map[string]interface{}{
			"frequency_hz": frequencyHz,
			"mode":         mode,
			"transmitting": transmitting,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDecode writes a digimode decode to InfluxDB.
//
// Used for band-activity history: decode rate, SNR distribution, and
// audio-offset spread per client and mode.
//
// Parameters:
//   - clientID: Digimode client identifier (e.g., "WSJT-X")
//   - mode: Decode mode (e.g., "FT8", "FT4")
//   - snr: Signal-to-noise ratio in dB
//   - deltaTimeSec: Clock offset of the decoded signal in seconds
//   - deltaHz: Audio frequency offset in Hz
//   - message: Decoded message text
func (c *Client) WriteDecode(clientID, mode string, snr int32, deltaTimeSec float64, deltaHz uint32, message string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"digimode_decode",
		map[string]string{
			"client": clientID,
			"mode":   mode,
		},
		map[string]interface{}{
			"snr":            int64(snr),
			"delta_time_sec": deltaTimeSec,
			"delta_hz":       int64(deltaHz),
			"message":        message,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQSO writes a logged contact to InfluxDB.
//
// The point is stamped with the QSO end time rather than the write
// time, so rate charts stay accurate even when the log arrives late.
//
// Parameters:
//   - clientID: Digimode client identifier
//   - dxCall: Callsign of the worked station
//   - grid: Maidenhead locator of the worked station, "" if unknown
//   - frequencyHz: QSO frequency in Hz
//   - mode: Operating mode
//   - loggedAt: QSO end time (time_off from the logging client)
func (c *Client) WriteQSO(clientID, dxCall, grid string, frequencyHz uint64, mode string, loggedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"dx_call":      dxCall,
		"frequency_hz": int64(frequencyHz), // #nosec G115 -- HF frequencies are far below int64 range
	}
	if grid != "" {
		fields["grid"] = grid
	}

	if loggedAt.IsZero() {
		loggedAt = time.Now()
	}

	point := write.NewPoint(
		"qso_logged",
		map[string]string{
			"client": clientID,
			"mode":   mode,
		},
		fields,
		loggedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "shack-pi"},
//	    map[string]interface{}{"events_published": 1287, "ws_clients": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
