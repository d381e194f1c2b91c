package wsjtx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/log4ym/station-core/internal/hub"
)

const (
	// maxFrameBytes bounds one datagram. The largest message in
	// practice is a logged contact with free-text comments, well
	// under 2 KiB.
	maxFrameBytes = 4096

	readDeadline = time.Second
)

// frameLimit returns the receive buffer size for one datagram.
func (c Config) frameLimit() int {
	if c.MaxFrameBytes > 0 {
		return c.MaxFrameBytes
	}
	return maxFrameBytes
}

// Logger is the minimal logging interface the bridge needs.
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

// DropRecorder captures frames the bridge rejects, keyed by the peer
// address, so bad senders can be diagnosed from the wire capture.
// Satisfied by wirelog.Recorder.
type DropRecorder interface {
	RecordDropped(source string, frame []byte, reason string)
}

// Config holds the bridge's listen address and relay fan-out.
type Config struct {
	// Listen is the UDP address digital-mode clients send to. A
	// multicast group address joins that group.
	Listen string

	// RelayTargets receive every accepted frame verbatim, letting
	// loggers and other consumers share one client port.
	RelayTargets []string

	// MaxFrameBytes bounds one received datagram, defaulting to 4096.
	MaxFrameBytes int
}

// Stats holds bridge counters.
type Stats struct {
	FramesRx     uint64 `json:"frames_rx"`
	FramesBad    uint64 `json:"frames_bad"`
	DecodeErrors uint64 `json:"decode_errors"`
	Relayed      uint64 `json:"relayed"`
	Decodes      uint64 `json:"decodes"`
	QSOs         uint64 `json:"qsos"`
	Peers        int    `json:"peers"`
}

// Bridge receives digital-mode UDP traffic, relays accepted frames
// verbatim to the configured targets, and publishes decoded status,
// decode and logged-contact messages as hub events.
type Bridge struct {
	cfg     Config
	hub     *hub.Hub
	logger  Logger
	capture DropRecorder

	conn   *net.UDPConn
	relays []*net.UDPConn

	mu      sync.Mutex
	peers   map[string]time.Time
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	framesRx     atomic.Uint64
	framesBad    atomic.Uint64
	decodeErrors atomic.Uint64
	relayed      atomic.Uint64
	decodes      atomic.Uint64
	qsos         atomic.Uint64
}

// NewBridge creates a digital-mode bridge. Call Start to begin
// listening.
func NewBridge(cfg Config, h *hub.Hub, logger Logger) *Bridge {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		cfg:    cfg,
		hub:    h,
		logger: logger,
		peers:  make(map[string]time.Time),
	}
}

// SetDropRecorder installs a capture sink for rejected frames. Call
// before Start.
func (b *Bridge) SetDropRecorder(rec DropRecorder) {
	b.capture = rec
}

// Start binds the listener, dials the relay targets and launches the
// receive loop. Errors surface synchronously with nothing left
// running.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", b.cfg.Listen)
	if err != nil {
		return fmt.Errorf("resolve listen address %q: %w", b.cfg.Listen, err)
	}

	var conn *net.UDPConn
	if udpAddr.IP != nil && udpAddr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp4", nil, udpAddr)
	} else {
		conn, err = net.ListenUDP("udp4", udpAddr)
	}
	if err != nil {
		return fmt.Errorf("bind digital-mode listener on %s: %w", b.cfg.Listen, err)
	}

	var relays []*net.UDPConn
	for _, target := range b.cfg.RelayTargets {
		raddr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			closeAll(conn, relays)
			return fmt.Errorf("resolve relay target %q: %w", target, err)
		}
		rc, err := net.DialUDP("udp4", nil, raddr)
		if err != nil {
			closeAll(conn, relays)
			return fmt.Errorf("dial relay target %q: %w", target, err)
		}
		relays = append(relays, rc)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.conn = conn
	b.relays = relays
	b.cancel = cancel
	b.started = true

	b.wg.Add(1)
	go b.receiveLoop(runCtx)

	b.logger.Info("Digital-mode bridge started",
		"listen", conn.LocalAddr().String(), "relay_targets", len(relays))
	return nil
}

// Close stops the receive loop and closes all sockets.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	cancel := b.cancel
	conn := b.conn
	relays := b.relays
	b.mu.Unlock()

	cancel()
	closeAll(conn, relays)
	b.wg.Wait()
	return nil
}

// ListenAddr reports the bound listen address.
func (b *Bridge) ListenAddr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return ""
	}
	return b.conn.LocalAddr().String()
}

func (b *Bridge) receiveLoop(ctx context.Context) {
	defer b.wg.Done()

	buf := make([]byte, b.cfg.frameLimit())
	for {
		if err := b.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("Digital-mode listener deadline failed", "error", err)
			return
		}

		n, src, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			b.logger.Error("Digital-mode listener read failed", "error", err)
			return
		}

		b.handleFrame(buf[:n], src)
	}
}

// handleFrame accepts or drops one datagram. Accepted frames are
// relayed before local decoding, so a body this plane cannot decode
// still reaches every downstream consumer.
func (b *Bridge) handleFrame(frame []byte, src *net.UDPAddr) {
	b.framesRx.Add(1)

	hdr, err := ParseHeader(frame)
	if err != nil {
		b.framesBad.Add(1)
		if b.capture != nil {
			b.capture.RecordDropped(src.String(), frame, err.Error())
		}
		b.logger.Debug("Dropped digital-mode frame", "source", src.String(), "error", err)
		return
	}

	for _, relay := range b.relays {
		if _, err := relay.Write(frame); err != nil {
			b.logger.Debug("Relay write failed",
				"target", relay.RemoteAddr().String(), "error", err)
			continue
		}
		b.relayed.Add(1)
	}

	msg, err := Parse(frame)
	if err != nil {
		b.decodeErrors.Add(1)
		b.logger.Debug("Digital-mode body decode failed",
			"type", hdr.Type.String(), "source", src.String(), "error", err)
		return
	}

	switch m := msg.(type) {
	case Heartbeat:
		b.trackPeer(m.ID)
	case Status:
		b.hub.Publish(hub.Event{Type: hub.EventDigitalStatus, DeviceID: m.ID, Payload: m})
	case Decode:
		b.decodes.Add(1)
		b.hub.Publish(hub.Event{Type: hub.EventDigitalDecode, DeviceID: m.ID, Payload: m})
	case QSOLogged:
		b.qsos.Add(1)
		b.hub.Publish(hub.Event{Type: hub.EventQSOLogged, DeviceID: m.ID, Payload: m})
		b.logger.Info("Contact logged",
			"dx_call", m.DXCall, "mode", m.Mode, "frequency_hz", m.FrequencyHz)
	case Clear:
		b.logger.Debug("Digital-mode clear", "id", m.ID)
	case Close:
		b.forgetPeer(m.ID)
	case nil:
		// Valid header, a frame type this plane does not decode.
	}
}

func (b *Bridge) trackPeer(id string) {
	b.mu.Lock()
	_, known := b.peers[id]
	b.peers[id] = time.Now()
	b.mu.Unlock()
	if !known {
		b.logger.Info("Digital-mode client appeared", "id", id)
	}
}

func (b *Bridge) forgetPeer(id string) {
	b.mu.Lock()
	delete(b.peers, id)
	b.mu.Unlock()
	b.logger.Info("Digital-mode client closed", "id", id)
}

// GetStats returns the bridge counters.
func (b *Bridge) GetStats() Stats {
	b.mu.Lock()
	peers := len(b.peers)
	b.mu.Unlock()

	return Stats{
		FramesRx:     b.framesRx.Load(),
		FramesBad:    b.framesBad.Load(),
		DecodeErrors: b.decodeErrors.Load(),
		Relayed:      b.relayed.Load(),
		Decodes:      b.decodes.Load(),
		QSOs:         b.qsos.Load(),
		Peers:        peers,
	}
}

func closeAll(conn *net.UDPConn, relays []*net.UDPConn) {
	if conn != nil {
		conn.Close()
	}
	for _, rc := range relays {
		rc.Close()
	}
}
