package cmd

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/JJeremyXu/licence-tool/internal/log"
	"github.com/JJeremyXu/licence-tool/internal/provision"
)

// ErrConfirmationRequired is returned when a credit would be spent without
// --yes and no terminal is available to ask.
var ErrConfirmationRequired = errors.New("stdin is not a terminal; pass --yes to provision non-interactively")

// Provision runs the full licensing flow for one target.
type Provision struct {
	Yes bool      `short:"y" help:"Spend a credit without asking"`
	In  io.Reader `kong:"-"`
	Out io.Writer `kong:"-"`
}

// Run is called by Kong when the provision command is executed.
func (p *Provision) Run(logger *slog.Logger, trace log.TraceLogger, devs *Devices) error {
	ctx, stop := signalContext()
	defer stop()

	b, err := devs.Open(logger, trace)
	if err != nil {
		return err
	}
	defer b.Close()

	pr := &provision.Provisioner{
		Dongle: b.Dongle,
		Target: b.Target,
		Logger: logger,
		Trace:  trace,
	}
	if !p.Yes {
		pr.Confirm = p.confirm
	}

	res, err := pr.Run(ctx)
	if err != nil {
		return err
	}
	out := output(p.Out)
	fmt.Fprintf(out, "run:        %s\n", res.RunID)
	fmt.Fprintf(out, "identifier: %s\n", hex.EncodeToString(res.Identifier))
	fmt.Fprintf(out, "license:    %s\n", hex.EncodeToString(res.License))
	if res.CreditsAfter != nil {
		fmt.Fprintf(out, "credits:    %d -> %d\n", res.CreditsBefore, *res.CreditsAfter)
	} else {
		fmt.Fprintf(out, "credits:    %d -> unknown\n", res.CreditsBefore)
	}
	return nil
}

func (p *Provision) confirm(_ context.Context, plan provision.Plan) (bool, error) {
	in := p.In
	if in == nil {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return false, ErrConfirmationRequired
		}
		in = os.Stdin
	}
	fmt.Fprintf(output(p.Out), "Target %s (%x...) will use 1 of %d credits on %s. Continue? [y/N] ",
		plan.Target, plan.Identifier[:8], plan.Credits, plan.Dongle)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
