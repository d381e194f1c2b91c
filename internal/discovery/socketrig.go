package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/log4ym/station-core/internal/radio"
)

// parseSocketRigAnnouncement decodes one ASCII announcement datagram:
//
//	socketrig serial=0715-3055-0100 model=FLEX-6400 ip=192.168.1.20
//	          port=4992 version=3.4.21 slices=2 caps=frequency,mode,ptt
//	          interval=5
//
// serial and port are required; ip falls back to the datagram source
// when absent or unparseable. Unknown keys are kept in the payload for
// display but otherwise ignored.
func parseSocketRigAnnouncement(data []byte, src *net.UDPAddr) (radio.DiscoveryRecord, error) {
	line := strings.TrimSpace(string(data))
	tokens := strings.Fields(line)
	if len(tokens) < 2 || tokens[0] != "socketrig" {
		return radio.DiscoveryRecord{}, fmt.Errorf("%w: not a socketrig announcement", radio.ErrMalformedFrame)
	}

	payload := make(map[string]string, len(tokens)-1)
	for _, tok := range tokens[1:] {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return radio.DiscoveryRecord{}, fmt.Errorf("%w: bad token %q", radio.ErrMalformedFrame, tok)
		}
		payload[key] = value
	}

	serial := payload["serial"]
	if serial == "" {
		return radio.DiscoveryRecord{}, fmt.Errorf("%w: announcement without serial", radio.ErrMalformedFrame)
	}
	port, err := strconv.Atoi(payload["port"])
	if err != nil || port <= 0 || port > 65535 {
		return radio.DiscoveryRecord{}, fmt.Errorf("%w: bad port %q", radio.ErrMalformedFrame, payload["port"])
	}

	host := payload["ip"]
	if net.ParseIP(host) == nil {
		host = src.IP.String()
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))

	slices := 0
	if s := payload["slices"]; s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			slices = n
		}
	}
	interval := 0
	if s := payload["interval"]; s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			interval = n
		}
	}

	desc := radio.Descriptor{
		ID:           radio.DeviceID(radio.FamilySocketRig, serial, address),
		Family:       radio.FamilySocketRig,
		Model:        payload["model"],
		Serial:       serial,
		Address:      address,
		Capabilities: radio.ParseCapabilities(payload["caps"]),
		Origin:       radio.OriginDiscovered,
		Version:      payload["version"],
		Slices:       slices,
	}
	return radio.DiscoveryRecord{
		Descriptor:  desc,
		IntervalSec: interval,
		Payload:     payload,
	}, nil
}
