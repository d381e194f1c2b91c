package radio

import "strings"

// CWOffsetHz is the carrier offset between CW and suppressed-carrier
// sideband operation. Switching families without correcting by this
// amount leaves the signal audibly off frequency.
const CWOffsetHz = 700

// sidebandCrossoverHz is the convention boundary: sideband operation
// defaults to LSB below 10 MHz and USB at or above it.
const sidebandCrossoverHz = 10_000_000

// modeClass groups vendor mode names into the families the compensator
// reasons about.
type modeClass int

const (
	classOther modeClass = iota
	classCW
	classUSB
	classLSB
)

// classifyMode normalizes a vendor mode name. Names that do not
// disambiguate the sideband ("SSB") resolve by the frequency convention.
func classifyMode(mode string, hz int64) modeClass {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "CW", "CW-R", "CWR", "CWU", "CWL":
		return classCW
	case "USB", "DIGU", "DATA-U", "PKTUSB":
		return classUSB
	case "LSB", "DIGL", "DATA-L", "PKTLSB":
		return classLSB
	case "SSB":
		if hz < sidebandCrossoverHz {
			return classLSB
		}
		return classUSB
	default:
		return classOther
	}
}

// Compensate corrects a target frequency for a mode change between the
// CW family and the sideband family. Carrier-based CW and
// suppressed-carrier sideband reference frequency differently; crossing
// between them without correction shifts the signal by CWOffsetHz.
//
// Transitions within one family, or involving any other mode (FM, AM,
// digital voice, unknown), return the input unchanged. The result is a
// documented correction, not observed telemetry.
func Compensate(targetHz int64, currentMode, targetMode string) int64 {
	from := classifyMode(currentMode, targetHz)
	to := classifyMode(targetMode, targetHz)

	switch {
	case from == classUSB && to == classCW:
		return targetHz - CWOffsetHz
	case from == classLSB && to == classCW:
		return targetHz + CWOffsetHz
	case from == classCW && to == classUSB:
		return targetHz + CWOffsetHz
	case from == classCW && to == classLSB:
		return targetHz - CWOffsetHz
	default:
		return targetHz
	}
}
