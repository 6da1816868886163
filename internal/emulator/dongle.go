// Package emulator implements dongle and target firmware behaviour for the
// virtual bus. It backs the --simulate mode and end-to-end tests.
package emulator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/JJeremyXu/licence-tool/device/dongle"
	"github.com/JJeremyXu/licence-tool/framing"
	"github.com/JJeremyXu/licence-tool/hid"
)

const licenseInfo = "licence-tool license v1"

// DeriveLicense computes the license the emulated dongle issues for an
// identifier.
func DeriveLicense(secret, identifier []byte) ([]byte, error) {
	out := make([]byte, dongle.LicenseSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, identifier, []byte(licenseInfo)), out); err != nil {
		return nil, fmt.Errorf("emulator: derive license: %w", err)
	}
	return out, nil
}

type DongleConfig struct {
	VendorID      uint16
	ProductID     uint16
	Product       string
	Credits       uint16
	CounterOffset int
	Secret        []byte
}

// Dongle answers counter queries and trades identifiers for licenses while
// credits last. Out of credits it stays silent.
type Dongle struct {
	cfg    DongleConfig
	logger *slog.Logger

	mu      sync.Mutex
	credits uint16
	intake  *framing.Assembler
}

func NewDongle(cfg DongleConfig, logger *slog.Logger) *Dongle {
	if cfg.VendorID == 0 && cfg.ProductID == 0 {
		cfg.VendorID, cfg.ProductID = dongle.DefaultVendorID, dongle.DefaultProductID
	}
	if cfg.Product == "" {
		cfg.Product = "Emulated License Dongle"
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = []byte("licence-tool emulator secret")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dongle{cfg: cfg, credits: cfg.Credits, logger: logger.With("emulator", "dongle")}
}

func (d *Dongle) Descriptor() hid.DeviceInfo {
	return hid.DeviceInfo{
		VendorID:     d.cfg.VendorID,
		ProductID:    d.cfg.ProductID,
		Product:      d.cfg.Product,
		Manufacturer: "licence-tool",
		ReportSize:   hid.DefaultReportSize,
	}
}

// Credits is the remaining license count.
func (d *Dongle) Credits() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.credits
}

func (d *Dongle) HandleReport(_ context.Context, r hid.Report) []hid.Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch r.ID {
	case dongle.ReportCounterRequest:
		payload := make([]byte, framing.DataSize)
		if off := d.cfg.CounterOffset; off >= 0 && off+2 <= len(payload) {
			binary.LittleEndian.PutUint16(payload[off:], d.credits)
		}
		return []hid.Report{hid.NewReport(dongle.ReportCounterResponse, payload)}

	case dongle.ReportLicenseRequest:
		if d.intake == nil {
			d.intake, _ = framing.NewAssembler(framing.UUIDRequest)
		}
		if !d.intake.Add(r) {
			return nil
		}
		uuid, err := d.intake.Result()
		d.intake = nil
		if err != nil {
			d.logger.Warn("Malformed identifier", "error", err)
			return nil
		}
		if d.credits == 0 {
			d.logger.Info("Out of credits")
			return nil
		}
		license, err := DeriveLicense(d.cfg.Secret, uuid)
		if err != nil {
			d.logger.Error("License derivation failed", "error", err)
			return nil
		}
		reports, err := framing.Split(framing.LicenseResponse, dongle.ReportLicenseResponse, license)
		if err != nil {
			d.logger.Error("License framing failed", "error", err)
			return nil
		}
		d.credits--
		d.logger.Debug("Issued license", "credits", d.credits)
		return reports
	}
	return nil
}
