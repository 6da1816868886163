package hid

import (
	"context"
	"fmt"
)

// Filter selects a peripheral by USB identity. A zero VendorID and ProductID
// accepts whatever device the backend offers.
type Filter struct {
	VendorID  uint16
	ProductID uint16
	// ReportSize, when positive, overrides the report size a backend would
	// otherwise discover for the device, report id included. It does not
	// take part in matching.
	ReportSize int
}

// Any reports whether the filter accepts every device.
func (f Filter) Any() bool { return f.VendorID == 0 && f.ProductID == 0 }

// Match reports whether a device identity passes the filter. A zero field
// matches any value.
func (f Filter) Match(vid, pid uint16) bool {
	if f.VendorID != 0 && f.VendorID != vid {
		return false
	}
	if f.ProductID != 0 && f.ProductID != pid {
		return false
	}
	return true
}

func (f Filter) String() string {
	if f.Any() {
		return "any"
	}
	return fmt.Sprintf("%04x:%04x", f.VendorID, f.ProductID)
}

// DeviceInfo describes an opened or enumerated peripheral.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Product      string
	Manufacturer string
	Serial       string
	// ReportSize is the maximum report size in bytes, id included.
	ReportSize int
}

// Transport opens connections to peripherals.
type Transport interface {
	// Open returns a connection to the first device passing f.
	// It fails with ErrNoDeviceSelected or ErrNotSupported.
	Open(ctx context.Context, f Filter) (Conn, error)
}

// Conn is an open connection to one peripheral.
//
// Inbound reports are published on Reports; the channel is closed once the
// connection ends. Done is closed on Close or when the peripheral disconnects.
type Conn interface {
	Info() DeviceInfo
	// MaxReportSize is the largest report accepted by Send, id included.
	MaxReportSize() int
	// Send writes one report. It fails with ErrNotConnected once the
	// connection is closed.
	Send(id ReportID, data []byte) error
	Reports() <-chan Report
	Done() <-chan struct{}
	IsOpen() bool
	Close() error
}
