package dongle

import (
	"time"

	"github.com/JJeremyXu/licence-tool/hid"
)

// Report ids used by the dongle firmware.
const (
	ReportLicenseResponse hid.ReportID = 0x01
	ReportLicenseRequest  hid.ReportID = 0x02
	ReportCounterResponse hid.ReportID = 0x03
	ReportCounterRequest  hid.ReportID = 0x04
)

// Default USB identity of the dongle.
const (
	DefaultVendorID  uint16 = 0x0483
	DefaultProductID uint16 = 0x5750
)

const (
	DefaultCounterTimeout = 2 * time.Second
	DefaultLicenseTimeout = 3 * time.Second // per license packet
)

// UUIDSize and LicenseSize are the fixed exchange sizes.
const (
	UUIDSize    = 128
	LicenseSize = 256
)
