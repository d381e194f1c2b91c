package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/log4ym/station-core/internal/radio"
)

// Accessory beacon layout, 32 bytes big-endian:
//
//	offset  size  field
//	0       4     magic 0x4C344147 ("L4AG")
//	4       1     version
//	5       1     capability flags
//	6       2     control port
//	8       12    serial, NUL padded
//	20      8     model, NUL padded
//	28      4     uptime seconds
const (
	beaconSize  = 32
	beaconMagic = 0x4C344147
)

// Capability flag bits in the accessory beacon.
const (
	beaconFlagPTT     = 1 << 0
	beaconFlagPower   = 1 << 1
	beaconFlagAntenna = 1 << 2
)

// parseLineAccBeacon decodes one accessory beacon into a discovery
// record. The control address combines the datagram's source IP with
// the advertised control port; accessories do not know their own
// routable address.
func parseLineAccBeacon(data []byte, src *net.UDPAddr) (radio.DiscoveryRecord, error) {
	if len(data) != beaconSize {
		return radio.DiscoveryRecord{}, fmt.Errorf("%w: beacon length %d, want %d",
			radio.ErrMalformedFrame, len(data), beaconSize)
	}
	if magic := binary.BigEndian.Uint32(data[0:4]); magic != beaconMagic {
		return radio.DiscoveryRecord{}, fmt.Errorf("%w: beacon magic 0x%08X",
			radio.ErrMalformedFrame, magic)
	}

	version := data[4]
	flags := data[5]
	port := binary.BigEndian.Uint16(data[6:8])
	serial := string(bytes.TrimRight(data[8:20], "\x00"))
	model := string(bytes.TrimRight(data[20:28], "\x00"))
	uptime := binary.BigEndian.Uint32(data[28:32])

	if serial == "" {
		return radio.DiscoveryRecord{}, fmt.Errorf("%w: beacon without serial", radio.ErrMalformedFrame)
	}
	if port == 0 {
		return radio.DiscoveryRecord{}, fmt.Errorf("%w: beacon without control port", radio.ErrMalformedFrame)
	}

	address := net.JoinHostPort(src.IP.String(), strconv.Itoa(int(port)))

	caps := []radio.Capability{radio.CapFrequency}
	if flags&beaconFlagPTT != 0 {
		caps = append(caps, radio.CapPTT)
	}
	if flags&beaconFlagPower != 0 {
		caps = append(caps, radio.CapPower)
	}
	if flags&beaconFlagAntenna != 0 {
		caps = append(caps, radio.CapAntenna)
	}

	desc := radio.Descriptor{
		ID:           radio.DeviceID(radio.FamilyLineAcc, serial, address),
		Family:       radio.FamilyLineAcc,
		Model:        model,
		Serial:       serial,
		Address:      address,
		Capabilities: caps,
		Origin:       radio.OriginDiscovered,
	}
	return radio.DiscoveryRecord{
		Descriptor: desc,
		Payload: map[string]string{
			"version": strconv.Itoa(int(version)),
			"uptime":  strconv.Itoa(int(uptime)),
		},
	}, nil
}
