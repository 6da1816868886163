// Package dongle talks to the license dongle: it reports the remaining credit
// counter and trades a 128-byte target identifier for a 256-byte license.
package dongle

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/JJeremyXu/licence-tool/device"
	"github.com/JJeremyXu/licence-tool/framing"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/log"
)

// Options tune the dongle session. Zero values select the defaults.
type Options struct {
	VendorID  uint16
	ProductID uint16
	// CounterOffset is the byte offset of the little-endian counter inside
	// the counter response payload.
	CounterOffset  int
	CounterTimeout time.Duration
	LicenseTimeout time.Duration
	// ReportSize overrides the backend's report size for the dongle when
	// positive.
	ReportSize int
}

func (o Options) withDefaults() Options {
	if o.VendorID == 0 && o.ProductID == 0 {
		o.VendorID, o.ProductID = DefaultVendorID, DefaultProductID
	}
	if o.CounterTimeout <= 0 {
		o.CounterTimeout = DefaultCounterTimeout
	}
	if o.LicenseTimeout <= 0 {
		o.LicenseTimeout = DefaultLicenseTimeout
	}
	return o
}

// Dongle is a session with one license dongle.
type Dongle struct {
	*device.Session
	opts Options
}

// New builds a disconnected dongle session on transport t.
func New(t hid.Transport, opts Options, logger *slog.Logger, trace log.TraceLogger) *Dongle {
	opts = opts.withDefaults()
	p := device.Profile{
		Name:   "dongle",
		Filter: hid.Filter{VendorID: opts.VendorID, ProductID: opts.ProductID, ReportSize: opts.ReportSize},
	}
	return &Dongle{Session: device.NewSession(p, t, logger, trace), opts: opts}
}

// Options returns the effective options.
func (d *Dongle) Options() Options { return d.opts }

// QueryCounter reads the remaining license credits. On error the counter is
// unknown; the returned zero is not a reading.
func (d *Dongle) QueryCounter(ctx context.Context) (uint16, error) {
	x, err := d.Begin("query counter")
	if err != nil {
		return 0, err
	}
	defer x.End()

	p, err := x.Expect(ReportCounterResponse)
	if err != nil {
		return 0, x.Fail(err)
	}
	defer p.Close()

	if err := x.Send(ReportCounterRequest, make([]byte, framing.DataSize)); err != nil {
		return 0, x.Fail(err)
	}
	r, err := p.Next(ctx, d.opts.CounterTimeout)
	if err != nil {
		return 0, x.Fail(fmt.Errorf("await counter response: %w", err))
	}

	off := d.opts.CounterOffset
	if off < 0 || r.Len() < off+2 {
		return 0, x.Fail(fmt.Errorf("counter response of %d bytes has no counter at offset %d: %w",
			r.Len(), off, hid.Incomplete(r.Data(), off+2)))
	}
	n := binary.LittleEndian.Uint16(r.Data()[off:])
	d.Logger().Debug("Counter read", "credits", n)
	x.Succeed(fmt.Sprintf("counter: %d credits", n), nil)
	return n, nil
}

// ExchangeUUIDForLicense sends a target identifier and collects the license
// the dongle issues for it. It returns no buffer unless all 256 bytes
// arrived.
func (d *Dongle) ExchangeUUIDForLicense(ctx context.Context, uuid []byte) ([]byte, error) {
	if len(uuid) != UUIDSize {
		return nil, fmt.Errorf("dongle: exchange license: identifier is %d bytes, want %d: %w",
			len(uuid), UUIDSize, hid.ErrInvalidArgument)
	}
	reports, err := framing.Split(framing.UUIDRequest, ReportLicenseRequest, uuid)
	if err != nil {
		return nil, fmt.Errorf("dongle: exchange license: %w", err)
	}

	x, err := d.Begin("exchange license")
	if err != nil {
		return nil, err
	}
	defer x.End()

	// Register before the request: the dongle answers with five reports
	// back to back.
	p, err := x.Expect(ReportLicenseResponse)
	if err != nil {
		return nil, x.Fail(err)
	}
	defer p.Close()

	for _, r := range reports {
		if err := x.SendReport(r); err != nil {
			return nil, x.Fail(err)
		}
	}

	asm, err := framing.NewAssembler(framing.LicenseResponse)
	if err != nil {
		return nil, x.Fail(err)
	}
	for !asm.Done() {
		r, err := p.Next(ctx, d.opts.LicenseTimeout)
		if err != nil {
			return nil, x.Fail(fmt.Errorf("await license packet %d/%d: %w",
				asm.Packets()+1, framing.LicenseResponse.Packets, err))
		}
		asm.Add(r)
	}
	license, err := asm.Result()
	if err != nil {
		return nil, x.Fail(err)
	}
	x.Succeed("license received", license)
	return license, nil
}
