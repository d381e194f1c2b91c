package wsjtx

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/log4ym/station-core/internal/radio"
)

// Qt wire primitives used by the digital-mode protocol. All integers
// are big-endian. Strings are a u32 byte length followed by UTF-8,
// with length 0xFFFFFFFF meaning null. QDateTime is a u64 Julian day
// number, u32 milliseconds since midnight, and a u8 timespec; timespec
// 2 appends an i32 UTC offset in seconds.
const (
	nullString = 0xFFFFFFFF

	// unixEpochJulianDay is the Julian day number of 1970-01-01.
	unixEpochJulianDay = 2440588
)

// decoder is a bounds-checked cursor over one datagram. The first
// out-of-range read latches the error; subsequent reads return zero
// values, so message parsers can read a whole layout and check once.
type decoder struct {
	buf []byte
	off int
	err error
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

// remaining reports how many unread bytes are left.
func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) fail(what string, need int) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: truncated %s at offset %d (need %d, have %d)",
			radio.ErrMalformedFrame, what, d.off, need, d.remaining())
	}
}

func (d *decoder) take(what string, n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.remaining() < n {
		d.fail(what, n)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8(what string) uint8 {
	b := d.take(what, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) bool8(what string) bool {
	return d.u8(what) != 0
}

func (d *decoder) u32(what string) uint32 {
	b := d.take(what, 4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) i32(what string) int32 {
	return int32(d.u32(what))
}

func (d *decoder) u64(what string) uint64 {
	b := d.take(what, 8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) f64(what string) float64 {
	return math.Float64frombits(d.u64(what))
}

// str reads one length-prefixed UTF-8 string. Null and empty both
// decode to "".
func (d *decoder) str(what string) string {
	n := d.u32(what)
	if d.err != nil || n == nullString || n == 0 {
		return ""
	}
	if n > uint32(d.remaining()) {
		d.fail(what, int(n))
		return ""
	}
	return string(d.take(what, int(n)))
}

// clock reads a QTime: milliseconds since midnight.
func (d *decoder) clock(what string) time.Duration {
	return time.Duration(d.u32(what)) * time.Millisecond
}

// dateTime reads a QDateTime. Timespec 0 (local) and 1 (UTC) both map
// to UTC; 2 applies the trailing offset. Timespec 3 carries a named
// time zone this decoder does not resolve, so it fails the frame.
func (d *decoder) dateTime(what string) time.Time {
	julianDay := d.u64(what)
	msecs := d.u32(what)
	spec := d.u8(what)
	if d.err != nil {
		return time.Time{}
	}

	days := int64(julianDay) - unixEpochJulianDay
	t := time.Unix(days*86400, 0).UTC().Add(time.Duration(msecs) * time.Millisecond)

	switch spec {
	case 0, 1:
		return t
	case 2:
		offset := d.i32(what)
		return t.Add(-time.Duration(offset) * time.Second)
	default:
		if d.err == nil {
			d.err = fmt.Errorf("%w: unsupported timespec %d in %s", radio.ErrMalformedFrame, spec, what)
		}
		return time.Time{}
	}
}
