package discovery

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"

	"github.com/log4ym/station-core/internal/radio"
)

func buildBeacon(serial, model string, port uint16, flags byte) []byte {
	b := make([]byte, beaconSize)
	binary.BigEndian.PutUint32(b[0:4], beaconMagic)
	b[4] = 1
	b[5] = flags
	binary.BigEndian.PutUint16(b[6:8], port)
	copy(b[8:20], serial)
	copy(b[20:28], model)
	binary.BigEndian.PutUint32(b[28:32], 3600)
	return b
}

func beaconSource() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 40), Port: 54321}
}

func TestParseLineAccBeacon(t *testing.T) {
	data := buildBeacon("AC-00912", "TUNER-1", 7310, beaconFlagPTT|beaconFlagPower)

	rec, err := parseLineAccBeacon(data, beaconSource())
	if err != nil {
		t.Fatalf("parseLineAccBeacon() error = %v", err)
	}

	desc := rec.Descriptor
	if desc.Family != radio.FamilyLineAcc {
		t.Errorf("Family = %s, want lineacc", desc.Family)
	}
	if desc.Serial != "AC-00912" {
		t.Errorf("Serial = %q, want AC-00912", desc.Serial)
	}
	if desc.Model != "TUNER-1" {
		t.Errorf("Model = %q, want TUNER-1", desc.Model)
	}
	if desc.Address != "192.168.1.40:7310" {
		t.Errorf("Address = %q, want source IP with advertised port", desc.Address)
	}
	if desc.ID != "lineacc-ac-00912" {
		t.Errorf("ID = %q, want lineacc-ac-00912", desc.ID)
	}
	if desc.Origin != radio.OriginDiscovered {
		t.Errorf("Origin = %s, want discovered", desc.Origin)
	}
	if rec.Payload["uptime"] != "3600" {
		t.Errorf("Payload[uptime] = %q, want 3600", rec.Payload["uptime"])
	}
}

func TestParseLineAccBeaconCapabilities(t *testing.T) {
	tests := []struct {
		name  string
		flags byte
		want  []radio.Capability
	}{
		{"none", 0, []radio.Capability{radio.CapFrequency}},
		{"ptt", beaconFlagPTT, []radio.Capability{radio.CapFrequency, radio.CapPTT}},
		{"all", beaconFlagPTT | beaconFlagPower | beaconFlagAntenna,
			[]radio.Capability{radio.CapFrequency, radio.CapPTT, radio.CapPower, radio.CapAntenna}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parseLineAccBeacon(buildBeacon("A1", "M", 7310, tt.flags), beaconSource())
			if err != nil {
				t.Fatalf("parseLineAccBeacon() error = %v", err)
			}
			got := rec.Descriptor.Capabilities
			if len(got) != len(tt.want) {
				t.Fatalf("Capabilities = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Capabilities[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseLineAccBeaconMalformed(t *testing.T) {
	badMagic := buildBeacon("A1", "M", 7310, 0)
	binary.BigEndian.PutUint32(badMagic[0:4], 0xDEADBEEF)

	tests := []struct {
		name string
		data []byte
	}{
		{"short", buildBeacon("A1", "M", 7310, 0)[:20]},
		{"long", append(buildBeacon("A1", "M", 7310, 0), 0x00)},
		{"bad magic", badMagic},
		{"empty serial", buildBeacon("", "M", 7310, 0)},
		{"zero port", buildBeacon("A1", "M", 0, 0)},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLineAccBeacon(tt.data, beaconSource())
			if !errors.Is(err, radio.ErrMalformedFrame) {
				t.Errorf("parseLineAccBeacon() error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}
