// Package framing splits payloads that exceed one HID report into report
// sized chunks and reassembles multi-report responses.
//
// Three conventions are supported, chosen per operation:
//
//	LengthPrefixed  [len][data ... len bytes][zero padding up to ReportSize]
//	Raw             [data ... up to ReportSize bytes]
//	SingleShot      one report carries the whole payload
package framing

import (
	"fmt"

	"github.com/JJeremyXu/licence-tool/hid"
)

// Kind selects the chunk layout of a Scheme.
type Kind int

const (
	LengthPrefixed Kind = iota
	Raw
	SingleShot
)

func (k Kind) String() string {
	switch k {
	case LengthPrefixed:
		return "length-prefixed"
	case Raw:
		return "raw"
	case SingleShot:
		return "single-shot"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DataSize is the number of payload bytes in a default sized report.
const DataSize = hid.DefaultReportSize - 1

// maxPrefixed is the largest chunk a single length byte can describe.
const maxPrefixed = 255

// Scheme is the fixed plan for moving one payload of Total bytes.
type Scheme struct {
	Name string
	Kind Kind
	// Total is the declared payload length.
	Total int
	// ReportSize is the number of data bytes per report, id excluded.
	// Unused by SingleShot.
	ReportSize int
	// Packets is the fixed number of inbound reports to consume. Zero means
	// consume until Total bytes are collected.
	Packets int
}

var (
	// UUIDRequest carries the 128-byte identifier to the dongle as 62+62+4.
	UUIDRequest = Scheme{Name: "uuid-request", Kind: LengthPrefixed, Total: 128, ReportSize: DataSize}
	// LicenseResponse is the dongle's 5-packet length-prefixed license reply.
	LicenseResponse = Scheme{Name: "license-response", Kind: LengthPrefixed, Total: 256, ReportSize: DataSize, Packets: 5}
	// IdentifierResponse is a target identifier delivered in one report.
	IdentifierResponse = Scheme{Name: "identifier-response", Kind: SingleShot, Total: 128}
	// IdentifierStream is a target identifier streamed over raw reports.
	IdentifierStream = Scheme{Name: "identifier-stream", Kind: Raw, Total: 128, ReportSize: DataSize}
)

// LicenseWrite picks the license scheme for a target whose reports hold at
// most maxReportSize bytes, id included.
func LicenseWrite(maxReportSize int) Scheme {
	const total = 256
	if maxReportSize-1 >= total {
		return Scheme{Name: "license-write", Kind: SingleShot, Total: total}
	}
	return Scheme{Name: "license-write", Kind: Raw, Total: total, ReportSize: maxReportSize - 1}
}

func (s Scheme) validate() error {
	if s.Total <= 0 {
		return fmt.Errorf("framing: %s: total %d: %w", s.Name, s.Total, hid.ErrInvalidArgument)
	}
	switch s.Kind {
	case LengthPrefixed:
		if s.ReportSize < 2 || s.ReportSize-1 > maxPrefixed {
			return fmt.Errorf("framing: %s: report size %d out of range: %w", s.Name, s.ReportSize, hid.ErrInvalidArgument)
		}
	case Raw:
		if s.ReportSize < 1 {
			return fmt.Errorf("framing: %s: report size %d out of range: %w", s.Name, s.ReportSize, hid.ErrInvalidArgument)
		}
	case SingleShot:
	default:
		return fmt.Errorf("framing: %s: unknown %s: %w", s.Name, s.Kind, hid.ErrInvalidArgument)
	}
	if s.Packets < 0 {
		return fmt.Errorf("framing: %s: negative packet count: %w", s.Name, hid.ErrInvalidArgument)
	}
	return nil
}

// chunkSize is the number of payload bytes carried per outbound report.
func (s Scheme) chunkSize() int {
	switch s.Kind {
	case LengthPrefixed:
		return s.ReportSize - 1
	case Raw:
		return s.ReportSize
	default:
		return s.Total
	}
}

// Count is the number of reports Split produces for this scheme.
func (s Scheme) Count() int {
	n := s.chunkSize()
	if n <= 0 {
		return 0
	}
	return (s.Total + n - 1) / n
}

// WireSize is the largest report Split produces, id included.
func (s Scheme) WireSize() int {
	switch s.Kind {
	case LengthPrefixed, Raw:
		return 1 + s.ReportSize
	default:
		return 1 + s.Total
	}
}
