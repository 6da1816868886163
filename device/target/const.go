package target

import (
	"fmt"
	"strings"
	"time"

	"github.com/JJeremyXu/licence-tool/hid"
)

// Report ids used by the target firmware.
const (
	ReportIdentifierRequest  hid.ReportID = 0x80
	ReportIdentifierResponse hid.ReportID = 0x81
	ReportStoreLicense       hid.ReportID = 0x82
)

// Default USB identity of the target board.
const (
	DefaultVendorID  uint16 = 0x0483
	DefaultProductID uint16 = 0x5751
)

const (
	DefaultIdentifierTimeout = 2 * time.Second
	DefaultChunkDelay        = 20 * time.Millisecond
)

const (
	IdentifierSize = 128
	LicenseSize    = 256
)

// IdentifierMode selects how the identifier response is framed.
type IdentifierMode int

const (
	// SingleShot expects the whole identifier in one response report.
	SingleShot IdentifierMode = iota
	// Accumulate collects raw response reports until 128 bytes arrived.
	Accumulate
)

func (m IdentifierMode) String() string {
	switch m {
	case SingleShot:
		return "single"
	case Accumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseIdentifierMode accepts the names printed by String.
func ParseIdentifierMode(s string) (IdentifierMode, error) {
	switch strings.ToLower(s) {
	case "single", "single-shot", "":
		return SingleShot, nil
	case "accumulate":
		return Accumulate, nil
	}
	return 0, fmt.Errorf("unknown identifier mode %q: %w", s, hid.ErrInvalidArgument)
}
