package wsjtx

import (
	"fmt"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// Frame header constants.
const (
	// Magic opens every digital-mode datagram.
	Magic = 0xADBCCBDA

	// headerSize covers magic, schema and type.
	headerSize = 12
)

// Accepted schema versions. Newer schemas extend messages with
// trailing fields, which the parsers below simply leave unread.
const (
	schemaMin = 2
	schemaMax = 3
)

// MessageType tags the frame body layout.
type MessageType uint32

const (
	TypeHeartbeat MessageType = 0
	TypeStatus    MessageType = 1
	TypeDecode    MessageType = 2
	TypeClear     MessageType = 3
	TypeQSOLogged MessageType = 5
	TypeClose     MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeStatus:
		return "status"
	case TypeDecode:
		return "decode"
	case TypeClear:
		return "clear"
	case TypeQSOLogged:
		return "qsoLogged"
	case TypeClose:
		return "close"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Header is the fixed frame prefix common to every message.
type Header struct {
	Schema uint32
	Type   MessageType
}

// Message is one decoded digital-mode frame.
type Message interface {
	message()
}

// Heartbeat announces a running client instance.
type Heartbeat struct {
	ID        string `json:"id"`
	MaxSchema uint32 `json:"max_schema"`
	Version   string `json:"version,omitempty"`
	Revision  string `json:"revision,omitempty"`
}

// Status mirrors the client's operating panel: dial frequency, mode
// and transmit state.
type Status struct {
	ID              string `json:"id"`
	DialFrequencyHz uint64 `json:"dial_frequency_hz"`
	Mode            string `json:"mode"`
	DXCall          string `json:"dx_call,omitempty"`
	Report          string `json:"report,omitempty"`
	TXMode          string `json:"tx_mode,omitempty"`
	TXEnabled       bool   `json:"tx_enabled"`
	Transmitting    bool   `json:"transmitting"`
	Decoding        bool   `json:"decoding"`
	RXOffsetHz      uint32 `json:"rx_offset_hz"`
	TXOffsetHz      uint32 `json:"tx_offset_hz"`
	DECall          string `json:"de_call,omitempty"`
	DEGrid          string `json:"de_grid,omitempty"`
	DXGrid          string `json:"dx_grid,omitempty"`
}

// Decode is one received-signal decode.
type Decode struct {
	ID            string        `json:"id"`
	New           bool          `json:"new"`
	Time          time.Duration `json:"time_since_midnight"`
	SNR           int32         `json:"snr"`
	DeltaTimeSec  float64       `json:"delta_time_sec"`
	DeltaHz       uint32        `json:"delta_hz"`
	Mode          string        `json:"mode"`
	Message       string        `json:"message"`
	LowConfidence bool          `json:"low_confidence"`
	OffAir        bool          `json:"off_air"`
}

// Clock formats the decode time as a UTC wall-clock string.
func (d Decode) Clock() string {
	total := int(d.Time / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// Clear asks displays to drop accumulated decodes.
type Clear struct {
	ID string `json:"id"`
}

// QSOLogged reports a contact the operator just logged.
type QSOLogged struct {
	ID               string    `json:"id"`
	TimeOff          time.Time `json:"time_off"`
	DXCall           string    `json:"dx_call"`
	DXGrid           string    `json:"dx_grid,omitempty"`
	FrequencyHz      uint64    `json:"frequency_hz"`
	Mode             string    `json:"mode"`
	ReportSent       string    `json:"report_sent,omitempty"`
	ReportReceived   string    `json:"report_received,omitempty"`
	TXPower          string    `json:"tx_power,omitempty"`
	Comments         string    `json:"comments,omitempty"`
	Name             string    `json:"name,omitempty"`
	TimeOn           time.Time `json:"time_on"`
	OperatorCall     string    `json:"operator_call,omitempty"`
	MyCall           string    `json:"my_call,omitempty"`
	MyGrid           string    `json:"my_grid,omitempty"`
	ExchangeSent     string    `json:"exchange_sent,omitempty"`
	ExchangeReceived string    `json:"exchange_received,omitempty"`
}

// Close announces a client instance shutting down.
type Close struct {
	ID string `json:"id"`
}

func (Heartbeat) message() {}
func (Status) message()    {}
func (Decode) message()    {}
func (Clear) message()     {}
func (QSOLogged) message() {}
func (Close) message()     {}

// ParseHeader validates the fixed frame prefix. A frame whose header
// parses is accepted for relay even when its body later fails to
// decode.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("%w: frame of %d bytes, need %d",
			radio.ErrMalformedFrame, len(data), headerSize)
	}
	d := newDecoder(data)
	magic := d.u32("magic")
	if magic != Magic {
		return Header{}, fmt.Errorf("%w: bad magic 0x%08X", radio.ErrMalformedFrame, magic)
	}
	schema := d.u32("schema")
	if schema < schemaMin || schema > schemaMax {
		return Header{}, fmt.Errorf("%w: unsupported schema %d", radio.ErrMalformedFrame, schema)
	}
	return Header{Schema: schema, Type: MessageType(d.u32("type"))}, nil
}

// Parse decodes one full frame. Frame types this plane does not decode
// return a nil Message with no error; they are valid traffic, just not
// interesting.
func Parse(data []byte) (Message, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	d := newDecoder(data[headerSize:])

	switch hdr.Type {
	case TypeHeartbeat:
		return parseHeartbeat(d)
	case TypeStatus:
		return parseStatus(d)
	case TypeDecode:
		return parseDecode(d)
	case TypeClear:
		return Clear{ID: d.str("id")}, d.err
	case TypeQSOLogged:
		return parseQSOLogged(d)
	case TypeClose:
		return Close{ID: d.str("id")}, d.err
	default:
		return nil, nil
	}
}

func parseHeartbeat(d *decoder) (Message, error) {
	hb := Heartbeat{
		ID:        d.str("id"),
		MaxSchema: d.u32("max_schema"),
	}
	// Version and revision joined the heartbeat later; older clients
	// end the frame here.
	if d.err == nil && d.remaining() > 0 {
		hb.Version = d.str("version")
		hb.Revision = d.str("revision")
	}
	if d.err != nil {
		return nil, d.err
	}
	return hb, nil
}

func parseStatus(d *decoder) (Message, error) {
	st := Status{
		ID:              d.str("id"),
		DialFrequencyHz: d.u64("dial_frequency"),
		Mode:            d.str("mode"),
		DXCall:          d.str("dx_call"),
		Report:          d.str("report"),
		TXMode:          d.str("tx_mode"),
		TXEnabled:       d.bool8("tx_enabled"),
		Transmitting:    d.bool8("transmitting"),
		Decoding:        d.bool8("decoding"),
		RXOffsetHz:      d.u32("rx_offset"),
		TXOffsetHz:      d.u32("tx_offset"),
		DECall:          d.str("de_call"),
		DEGrid:          d.str("de_grid"),
		DXGrid:          d.str("dx_grid"),
	}
	if d.err != nil {
		return nil, d.err
	}
	return st, nil
}

func parseDecode(d *decoder) (Message, error) {
	dec := Decode{
		ID:            d.str("id"),
		New:           d.bool8("new"),
		Time:          d.clock("time"),
		SNR:           d.i32("snr"),
		DeltaTimeSec:  d.f64("delta_time"),
		DeltaHz:       d.u32("delta_frequency"),
		Mode:          d.str("mode"),
		Message:       d.str("message"),
		LowConfidence: d.bool8("low_confidence"),
	}
	// Off-air is a late addition to the decode layout.
	if d.err == nil && d.remaining() > 0 {
		dec.OffAir = d.bool8("off_air")
	}
	if d.err != nil {
		return nil, d.err
	}
	return dec, nil
}

func parseQSOLogged(d *decoder) (Message, error) {
	qso := QSOLogged{
		ID:             d.str("id"),
		TimeOff:        d.dateTime("time_off"),
		DXCall:         d.str("dx_call"),
		DXGrid:         d.str("dx_grid"),
		FrequencyHz:    d.u64("tx_frequency"),
		Mode:           d.str("mode"),
		ReportSent:     d.str("report_sent"),
		ReportReceived: d.str("report_received"),
		TXPower:        d.str("tx_power"),
		Comments:       d.str("comments"),
		Name:           d.str("name"),
	}
	// Time-on and the exchange fields arrived with schema updates.
	if d.err == nil && d.remaining() > 0 {
		qso.TimeOn = d.dateTime("time_on")
		qso.OperatorCall = d.str("operator_call")
		qso.MyCall = d.str("my_call")
		qso.MyGrid = d.str("my_grid")
		qso.ExchangeSent = d.str("exchange_sent")
		qso.ExchangeReceived = d.str("exchange_received")
	}
	if d.err != nil {
		return nil, d.err
	}
	return qso, nil
}
