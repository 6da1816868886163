// Package hid defines the boundary between the licence tooling and a HID
// backend: reports, device selection and the connection capability.
package hid

import "fmt"

// DefaultReportSize is the per-transaction budget of the peripherals,
// report id included.
const DefaultReportSize = 64

// ReportID identifies a report type within a peripheral's report map.
type ReportID uint8

func (id ReportID) String() string { return fmt.Sprintf("0x%02x", uint8(id)) }

// Report is one bounded HID transaction. Reports are immutable once built.
type Report struct {
	ID   ReportID
	data []byte
}

// NewReport builds a report holding a copy of data.
func NewReport(id ReportID, data []byte) Report {
	b := make([]byte, len(data))
	copy(b, data)
	return Report{ID: id, data: b}
}

// Data returns a copy of the report payload (without the id byte).
func (r Report) Data() []byte {
	b := make([]byte, len(r.data))
	copy(b, r.data)
	return b
}

// Len is the payload length in bytes.
func (r Report) Len() int { return len(r.data) }

// WireSize is the number of bytes the report occupies on the wire,
// report id included.
func (r Report) WireSize() int { return 1 + len(r.data) }

// Byte returns payload byte i, or 0 when i is out of range.
func (r Report) Byte(i int) byte {
	if i < 0 || i >= len(r.data) {
		return 0
	}
	return r.data[i]
}
