package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/log"
)

// List prints the HID devices the backend can open.
type List struct {
	Out io.Writer `kong:"-"`
}

// Run is called by Kong when the list command is executed.
func (l *List) Run(logger *slog.Logger, trace log.TraceLogger, devs *Devices) error {
	ctx, stop := signalContext()
	defer stop()

	b, err := devs.Open(logger, trace)
	if err != nil {
		return err
	}
	defer b.Close()

	devices, err := b.Lister.List(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	out := output(l.Out)
	if len(devices) == 0 {
		fmt.Fprintln(out, "no HID devices found")
		return nil
	}
	dongleFilter := hid.Filter{VendorID: uint16(devs.Dongle.VendorID), ProductID: uint16(devs.Dongle.ProductID)}
	targetFilter := hid.Filter{VendorID: uint16(devs.Target.VendorID), ProductID: uint16(devs.Target.ProductID)}
	for _, d := range devices {
		role := ""
		switch {
		case dongleFilter.Match(d.VendorID, d.ProductID):
			role = " [dongle]"
		case targetFilter.Match(d.VendorID, d.ProductID):
			role = " [target]"
		}
		fmt.Fprintf(out, "%s\t%04x:%04x\t%s%s\n", d.Path, d.VendorID, d.ProductID, d.Product, role)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
