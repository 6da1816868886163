package emulator

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"

	"github.com/JJeremyXu/licence-tool/device/target"
	"github.com/JJeremyXu/licence-tool/framing"
	"github.com/JJeremyXu/licence-tool/hid"
)

type TargetConfig struct {
	VendorID   uint16
	ProductID  uint16
	Product    string
	Identifier []byte
	// Streamed sends the identifier as raw 63-byte reports instead of one
	// report.
	Streamed bool
	// ReportSize defaults to 257 for single-shot boards and 64 for
	// streaming ones.
	ReportSize int
}

// Target answers identifier requests and stores the license it is sent.
type Target struct {
	cfg    TargetConfig
	logger *slog.Logger

	mu      sync.Mutex
	intake  *framing.Assembler
	license []byte
}

func NewTarget(cfg TargetConfig, logger *slog.Logger) *Target {
	if cfg.VendorID == 0 && cfg.ProductID == 0 {
		cfg.VendorID, cfg.ProductID = target.DefaultVendorID, target.DefaultProductID
	}
	if cfg.Product == "" {
		cfg.Product = "Emulated Target Board"
	}
	if len(cfg.Identifier) != target.IdentifierSize {
		cfg.Identifier = make([]byte, target.IdentifierSize)
		_, _ = rand.Read(cfg.Identifier)
	}
	if cfg.ReportSize <= 0 {
		cfg.ReportSize = 1 + target.LicenseSize
		if cfg.Streamed {
			cfg.ReportSize = hid.DefaultReportSize
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Target{cfg: cfg, logger: logger.With("emulator", "target")}
}

func (t *Target) Descriptor() hid.DeviceInfo {
	return hid.DeviceInfo{
		VendorID:     t.cfg.VendorID,
		ProductID:    t.cfg.ProductID,
		Product:      t.cfg.Product,
		Manufacturer: "licence-tool",
		ReportSize:   t.cfg.ReportSize,
	}
}

// Identifier returns a copy of the board identifier.
func (t *Target) Identifier() []byte { return append([]byte(nil), t.cfg.Identifier...) }

// StoredLicense returns the last complete license written to the board.
func (t *Target) StoredLicense() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.license == nil {
		return nil, false
	}
	return append([]byte(nil), t.license...), true
}

func (t *Target) HandleReport(_ context.Context, r hid.Report) []hid.Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch r.ID {
	case target.ReportIdentifierRequest:
		scheme := framing.IdentifierResponse
		if t.cfg.Streamed {
			scheme = framing.IdentifierStream
		}
		reports, err := framing.Split(scheme, target.ReportIdentifierResponse, t.cfg.Identifier)
		if err != nil {
			t.logger.Error("Identifier framing failed", "error", err)
			return nil
		}
		return reports

	case target.ReportStoreLicense:
		if t.intake == nil {
			var err error
			if t.intake, err = framing.NewAssembler(framing.LicenseWrite(t.cfg.ReportSize)); err != nil {
				t.logger.Error("License intake failed", "error", err)
				return nil
			}
		}
		if !t.intake.Add(r) {
			return nil
		}
		license, err := t.intake.Result()
		t.intake = nil
		if err != nil {
			t.logger.Warn("Short license write", "error", err)
			return nil
		}
		t.license = license
		t.logger.Debug("License stored")
	}
	return nil
}
