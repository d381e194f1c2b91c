package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/infrastructure/mqtt"
	"github.com/log4ym/station-core/internal/radio"
	"github.com/log4ym/station-core/internal/wsjtx"
)

// publishQoS is the QoS level for all exporter publishes. At-least-once
// matches the retained-state model: duplicates are idempotent.
const publishQoS byte = 1

// Logger is the minimal logging interface the exporter needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is the MQTT surface the exporter publishes through.
// Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// MetricsWriter receives time-series points derived from hub events.
// Satisfied by *influxdb.Client.
type MetricsWriter interface {
	WriteRadioState(deviceID, slice string, frequencyHz int64, mode, band string, transmitting bool)
	WriteDecode(clientID, mode string, snr int32, deltaTimeSec float64, deltaHz uint32, message string)
	WriteQSO(clientID, dxCall, grid string, frequencyHz uint64, mode string, loggedAt time.Time)
}

// CommandSink applies tuning commands from the MQTT intake.
// Satisfied by *supervisor.Manager.
type CommandSink interface {
	SetFrequency(ctx context.Context, deviceID string, hz int64) error
	SetMode(ctx context.Context, deviceID string, mode string) error
	SetPTT(ctx context.Context, deviceID string, on bool) error
}

// Options configures an Exporter. Hub is required and at least one of
// Broker or Metrics must be set; everything else is optional.
type Options struct {
	Hub     *hub.Hub
	Broker  Broker
	Metrics MetricsWriter

	// Sink enables the set-topic command intake. Ignored when Broker
	// is nil.
	Sink CommandSink

	Logger Logger
}

// Stats holds exporter counters.
type Stats struct {
	EventsExported   uint64 `json:"events_exported"`
	PublishErrors    uint64 `json:"publish_errors"`
	PointsWritten    uint64 `json:"points_written"`
	CommandsApplied  uint64 `json:"commands_applied"`
	CommandsRejected uint64 `json:"commands_rejected"`
}

// Exporter fans hub events out to MQTT and InfluxDB and feeds MQTT set
// commands back into the supervisor manager.
type Exporter struct {
	hub     *hub.Hub
	broker  Broker
	metrics MetricsWriter
	sink    CommandSink
	logger  Logger
	topics  mqtt.Topics

	mu      sync.Mutex
	sub     *hub.Subscriber
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	exported         atomic.Uint64
	publishErrors    atomic.Uint64
	pointsWritten    atomic.Uint64
	commandsApplied  atomic.Uint64
	commandsRejected atomic.Uint64
}

// New creates an exporter. Call Start to attach it to the hub.
func New(opts Options) (*Exporter, error) {
	if opts.Hub == nil {
		return nil, fmt.Errorf("telemetry: hub is required")
	}
	if opts.Broker == nil && opts.Metrics == nil {
		return nil, fmt.Errorf("telemetry: at least one of broker or metrics is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Exporter{
		hub:     opts.Hub,
		broker:  opts.Broker,
		metrics: opts.Metrics,
		sink:    opts.Sink,
		logger:  logger,
	}, nil
}

// Start subscribes to the hub, begins exporting, and registers the MQTT
// command intake when a broker and sink are configured.
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.ctx = runCtx
	e.cancel = cancel

	if e.broker != nil && e.sink != nil {
		topic := e.topics.AllRadioSets()
		if err := e.broker.Subscribe(topic, publishQoS, e.handleSet); err != nil {
			cancel()
			return fmt.Errorf("subscribe to command intake: %w", err)
		}
		e.logger.Info("Command intake subscribed", "topic", topic)
	}

	e.sub = e.hub.Subscribe()
	e.started = true

	e.wg.Add(1)
	go e.run(runCtx)

	e.logger.Info("Telemetry exporter started",
		"mqtt", e.broker != nil, "influxdb", e.metrics != nil)
	return nil
}

// Close detaches from the hub and waits for queued events to drain.
func (e *Exporter) Close() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	sub := e.sub
	cancel := e.cancel
	e.mu.Unlock()

	// Closing the subscription lets the run loop drain what is already
	// queued before it sees the close.
	if err := e.hub.Unsubscribe(sub.ID()); err != nil {
		e.logger.Warn("Unsubscribe failed", "error", err)
	}
	e.wg.Wait()
	cancel()
	return nil
}

// GetStats returns a snapshot of the exporter counters.
func (e *Exporter) GetStats() Stats {
	return Stats{
		EventsExported:   e.exported.Load(),
		PublishErrors:    e.publishErrors.Load(),
		PointsWritten:    e.pointsWritten.Load(),
		CommandsApplied:  e.commandsApplied.Load(),
		CommandsRejected: e.commandsRejected.Load(),
	}
}

func (e *Exporter) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		ev, err := e.sub.Next(ctx)
		if err != nil {
			return
		}
		e.export(ev)
	}
}

// export forwards one hub event to the configured sinks.
func (e *Exporter) export(ev hub.Event) {
	e.exported.Add(1)

	if e.broker != nil {
		e.publish(ev)
	}
	if e.metrics != nil {
		e.writePoint(ev)
	}
}

// route maps an event to its MQTT topic. Connection and state topics
// are retained so late joiners see the current picture immediately.
func (e *Exporter) route(ev hub.Event) (topic string, retained bool) {
	switch ev.Type {
	case hub.EventConnectionStateChanged:
		return e.topics.RadioConnection(ev.DeviceID), true
	case hub.EventStateChanged:
		return e.topics.RadioState(ev.DeviceID), true
	case hub.EventDeviceDiscovered, hub.EventDeviceRemoved:
		return e.topics.Discovery(), false
	case hub.EventDigitalStatus:
		return e.topics.DigimodeStatus(), false
	case hub.EventDigitalDecode:
		return e.topics.DigimodeDecode(), false
	case hub.EventQSOLogged:
		return e.topics.DigimodeQSO(), false
	default:
		return "", false
	}
}

func (e *Exporter) publish(ev hub.Event) {
	topic, retained := e.route(ev)
	if topic == "" {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.publishErrors.Add(1)
		e.logger.Error("Event marshal failed", "type", ev.Type, "error", err)
		return
	}

	if err := e.broker.Publish(topic, payload, publishQoS, retained); err != nil {
		e.publishErrors.Add(1)
		e.logger.Debug("Publish failed", "topic", topic, "error", err)
		return
	}

	// A removed device's retained messages would outlive it on the
	// broker; clear them so new subscribers don't resurrect it.
	if ev.Type == hub.EventDeviceRemoved {
		e.clearRetained(ev.DeviceID)
	}
}

func (e *Exporter) clearRetained(deviceID string) {
	for _, topic := range []string{
		e.topics.RadioConnection(deviceID),
		e.topics.RadioState(deviceID),
	} {
		if err := e.broker.Publish(topic, nil, publishQoS, true); err != nil {
			e.publishErrors.Add(1)
			e.logger.Debug("Retained clear failed", "topic", topic, "error", err)
		}
	}
}

// writePoint converts an event into its time-series form.
func (e *Exporter) writePoint(ev hub.Event) {
	switch ev.Type {
	case hub.EventStateChanged:
		st, ok := ev.Payload.(radio.State)
		if !ok {
			return
		}
		// Rehydration replays and frozen last-known snapshots are not
		// observations; writing them would fake activity.
		if ev.Snapshot || st.Stale {
			return
		}
		e.metrics.WriteRadioState(ev.DeviceID, st.Slice, st.FrequencyHz, st.Mode, st.Band, st.Transmitting)
		e.pointsWritten.Add(1)

	case hub.EventDigitalDecode:
		d, ok := ev.Payload.(wsjtx.Decode)
		if !ok {
			return
		}
		e.metrics.WriteDecode(ev.DeviceID, d.Mode, d.SNR, d.DeltaTimeSec, d.DeltaHz, d.Message)
		e.pointsWritten.Add(1)

	case hub.EventQSOLogged:
		q, ok := ev.Payload.(wsjtx.QSOLogged)
		if !ok {
			return
		}
		e.metrics.WriteQSO(ev.DeviceID, q.DXCall, q.DXGrid, q.FrequencyHz, q.Mode, q.TimeOff)
		e.pointsWritten.Add(1)
	}
}
