// Package target talks to the board being licensed: it reads the board's
// 128-byte identifier and stores a 256-byte license on it.
package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/JJeremyXu/licence-tool/device"
	"github.com/JJeremyXu/licence-tool/framing"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/log"
)

// Options tune the target session. Zero values select the defaults.
type Options struct {
	VendorID  uint16
	ProductID uint16
	// AnyDevice accepts whatever device the backend offers.
	AnyDevice         bool
	IdentifierMode    IdentifierMode
	IdentifierTimeout time.Duration
	// ChunkDelay separates license chunks when the license does not fit one
	// report.
	ChunkDelay time.Duration
	// ReportSize overrides the backend's report size for the target when
	// positive.
	ReportSize int
}

func (o Options) withDefaults() Options {
	if !o.AnyDevice && o.VendorID == 0 && o.ProductID == 0 {
		o.VendorID, o.ProductID = DefaultVendorID, DefaultProductID
	}
	if o.IdentifierTimeout <= 0 {
		o.IdentifierTimeout = DefaultIdentifierTimeout
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = DefaultChunkDelay
	}
	return o
}

func (o Options) filter() hid.Filter {
	if o.AnyDevice {
		return hid.Filter{ReportSize: o.ReportSize}
	}
	return hid.Filter{VendorID: o.VendorID, ProductID: o.ProductID, ReportSize: o.ReportSize}
}

// Target is a session with one target board.
type Target struct {
	*device.Session
	opts Options
}

// New builds a disconnected target session on transport t.
func New(t hid.Transport, opts Options, logger *slog.Logger, trace log.TraceLogger) *Target {
	opts = opts.withDefaults()
	p := device.Profile{Name: "target", Filter: opts.filter()}
	return &Target{Session: device.NewSession(p, t, logger, trace), opts: opts}
}

func (t *Target) Options() Options { return t.opts }

// ReadIdentifier requests the board identifier. In Accumulate mode a stream
// that stalls after at least one packet returns the partial identifier with
// a *hid.DataIncompleteError.
func (t *Target) ReadIdentifier(ctx context.Context) ([]byte, error) {
	x, err := t.Begin("read identifier")
	if err != nil {
		return nil, err
	}
	defer x.End()

	scheme := framing.IdentifierResponse
	if t.opts.IdentifierMode == Accumulate {
		scheme = framing.IdentifierStream
	}
	asm, err := framing.NewAssembler(scheme)
	if err != nil {
		return nil, x.Fail(err)
	}

	p, err := x.Expect(ReportIdentifierResponse)
	if err != nil {
		return nil, x.Fail(err)
	}
	defer p.Close()

	if err := x.Send(ReportIdentifierRequest, nil); err != nil {
		return nil, x.Fail(err)
	}

	for !asm.Done() {
		r, err := p.Next(ctx, t.opts.IdentifierTimeout)
		if err == nil {
			asm.Add(r)
			continue
		}
		if errors.Is(err, hid.ErrTimeout) && asm.Packets() > 0 {
			// Stalled stream: hand back what arrived.
			break
		}
		return nil, x.Fail(fmt.Errorf("await identifier response: %w", err))
	}

	id, err := asm.Result()
	if err != nil {
		return id, x.Fail(err)
	}
	x.Succeed("identifier received", id)
	return id, nil
}

// WriteLicense stores license on the board. The board does not acknowledge
// the write.
func (t *Target) WriteLicense(ctx context.Context, license []byte) error {
	if len(license) != LicenseSize {
		return fmt.Errorf("target: write license: license is %d bytes, want %d: %w",
			len(license), LicenseSize, hid.ErrInvalidArgument)
	}

	x, err := t.Begin("write license")
	if err != nil {
		return err
	}
	defer x.End()

	scheme := framing.LicenseWrite(x.MaxReportSize())
	reports, err := framing.Split(scheme, ReportStoreLicense, license)
	if err != nil {
		return x.Fail(err)
	}
	t.Logger().Debug("Writing license", "scheme", scheme.Kind, "reports", len(reports))

	limiter := rate.NewLimiter(rate.Every(t.opts.ChunkDelay), 1)
	for i, r := range reports {
		if err := limiter.Wait(ctx); err != nil {
			return x.Fail(fmt.Errorf("license chunk %d/%d: %w", i+1, len(reports), err))
		}
		if err := x.SendReport(r); err != nil {
			return x.Fail(fmt.Errorf("license chunk %d/%d: %w", i+1, len(reports), err))
		}
	}
	x.Succeed(fmt.Sprintf("license written in %d reports", len(reports)), license)
	return nil
}
