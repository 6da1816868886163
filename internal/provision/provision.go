// Package provision runs the full licensing flow: read the target identifier,
// trade it for a license on the dongle and store the license on the target.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JJeremyXu/licence-tool/device/dongle"
	"github.com/JJeremyXu/licence-tool/device/target"
	"github.com/JJeremyXu/licence-tool/internal/log"
)

var (
	// ErrNoCredits is returned when the dongle reports zero credits.
	ErrNoCredits = errors.New("provision: dongle has no credits left")
	// ErrAborted is returned when the confirmation hook declines.
	ErrAborted = errors.New("provision: aborted")
)

// Plan is what the operator confirms before a credit is spent.
type Plan struct {
	RunID      string
	Identifier []byte
	Credits    uint16
	Dongle     string
	Target     string
}

// ConfirmFunc decides whether to spend a credit on plan.
type ConfirmFunc func(ctx context.Context, plan Plan) (bool, error)

// Result describes a finished run.
type Result struct {
	RunID         string
	Identifier    []byte
	License       []byte
	CreditsBefore uint16
	// CreditsAfter is nil when the final counter read failed.
	CreditsAfter *uint16
}

// Provisioner drives one dongle and one target.
type Provisioner struct {
	Dongle  *dongle.Dongle
	Target  *target.Target
	Confirm ConfirmFunc
	Logger  *slog.Logger
	Trace   log.TraceLogger
}

// Run executes one provisioning run. Both sessions are connected
// concurrently and left connected on return. When either connect fails, a
// session this run connected is closed again.
func (p *Provisioner) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", runID)
	trace := p.Trace
	if trace == nil {
		trace = log.NewTrace(nil)
	}
	trace.Trace(log.TagInfo, "provision run "+runID, nil)

	dongleUp, targetUp := p.Dongle.Connected(), p.Target.Connected()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Dongle.Connect(gctx) })
	g.Go(func() error { return p.Target.Connect(gctx) })
	if err := g.Wait(); err != nil {
		if !dongleUp {
			_ = p.Dongle.Close()
		}
		if !targetUp {
			_ = p.Target.Close()
		}
		return nil, fmt.Errorf("provision: connect: %w", err)
	}

	res := &Result{RunID: runID}

	id, err := p.Target.ReadIdentifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	res.Identifier = id
	logger.Info("Target identified", "identifier", fmt.Sprintf("%x", id[:8]))

	credits, err := p.Dongle.QueryCounter(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	res.CreditsBefore = credits
	logger.Info("Dongle credits", "credits", credits)
	if credits == 0 {
		return res, ErrNoCredits
	}

	if p.Confirm != nil {
		plan := Plan{RunID: runID, Identifier: id, Credits: credits}
		if info, ok := p.Dongle.Info(); ok {
			plan.Dongle = info.Product
		}
		if info, ok := p.Target.Info(); ok {
			plan.Target = info.Product
		}
		ok, err := p.Confirm(ctx, plan)
		if err != nil {
			return res, fmt.Errorf("provision: confirm: %w", err)
		}
		if !ok {
			logger.Info("Run declined")
			return res, ErrAborted
		}
	}

	license, err := p.Dongle.ExchangeUUIDForLicense(ctx, id)
	if err != nil {
		return res, fmt.Errorf("provision: %w", err)
	}
	res.License = license

	if err := p.Target.WriteLicense(ctx, license); err != nil {
		return res, fmt.Errorf("provision: %w", err)
	}
	logger.Info("License written")

	after, err := p.Dongle.QueryCounter(ctx)
	if err != nil {
		logger.Warn("Could not re-read credits", "error", err)
	} else {
		res.CreditsAfter = &after
	}
	trace.Trace(log.TagSuccess, "provision run "+runID+" complete", nil)
	return res, nil
}
