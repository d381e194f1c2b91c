package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/radio"
)

const (
	// maxDatagramBytes bounds one broadcast datagram. Announcements
	// are a single short line or a fixed 32-byte beacon.
	maxDatagramBytes = 2048

	// readDeadline paces the read loop so cancellation is noticed
	// without closing the socket out from under a read.
	readDeadline = time.Second
)

// parseFunc decodes one datagram into a discovery record. Errors wrap
// radio.ErrMalformedFrame and drop the datagram.
type parseFunc func(data []byte, src *net.UDPAddr) (radio.DiscoveryRecord, error)

// ListenerStats holds per-listener datagram counters.
type ListenerStats struct {
	DatagramsRx uint64 `json:"datagrams_rx"`
	Malformed   uint64 `json:"malformed"`
	Upserts     uint64 `json:"upserts"`
}

// listener is one passive UDP receiver bound to a protocol parser.
type listener struct {
	name     string
	conn     *net.UDPConn
	parse    parseFunc
	registry *radio.Registry
	hub      *hub.Hub
	logger   Logger

	datagramsRx atomic.Uint64
	malformed   atomic.Uint64
	upserts     atomic.Uint64
}

// run reads datagrams until ctx ends or the socket closes. Malformed
// datagrams are counted and dropped; only socket failures end the loop.
func (l *listener) run(ctx context.Context) error {
	buf := make([]byte, maxDatagramBytes)
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		l.datagramsRx.Add(1)

		rec, err := l.parse(buf[:n], src)
		if err != nil {
			l.malformed.Add(1)
			l.logger.Debug("Dropped malformed datagram",
				"listener", l.name, "source", src.String(), "error", err)
			continue
		}
		l.apply(rec)
	}
}

// apply upserts the record and publishes discovery when the device is
// new or has moved to a different address.
func (l *listener) apply(rec radio.DiscoveryRecord) {
	var prevAddress string
	if prev, err := l.registry.Get(rec.Descriptor.ID); err == nil {
		prevAddress = prev.Descriptor.Address
	}

	isNew := l.registry.Upsert(rec)
	l.upserts.Add(1)

	if isNew || (prevAddress != "" && prevAddress != rec.Descriptor.Address) {
		l.hub.PublishDeviceDiscovered(rec.Descriptor)
	}
}

func (l *listener) stats() ListenerStats {
	return ListenerStats{
		DatagramsRx: l.datagramsRx.Load(),
		Malformed:   l.malformed.Load(),
		Upserts:     l.upserts.Load(),
	}
}
