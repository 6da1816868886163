package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JJeremyXu/licence-tool/device/target"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/log"
)

// ReadID prints the target identifier.
type ReadID struct {
	Out io.Writer `kong:"-"`
}

// Run is called by Kong when the read-id command is executed. A partial
// identifier is printed before the error is returned.
func (r *ReadID) Run(logger *slog.Logger, trace log.TraceLogger, devs *Devices) error {
	ctx, stop := signalContext()
	defer stop()

	b, err := devs.Open(logger, trace)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Target.Connect(ctx); err != nil {
		return err
	}
	id, err := b.Target.ReadIdentifier(ctx)
	if err != nil {
		var inc *hid.DataIncompleteError
		if errors.As(err, &inc) && len(id) > 0 {
			fmt.Fprintf(output(r.Out), "partial (%d of %d bytes): %s\n", inc.Received, inc.Expected, hex.EncodeToString(id))
		}
		return err
	}
	fmt.Fprintln(output(r.Out), hex.EncodeToString(id))
	return nil
}

// WriteLicense stores a license on the target.
type WriteLicense struct {
	License string    `arg:"" name:"license-hex" help:"256-byte license as hex"`
	Out     io.Writer `kong:"-"`
}

// Run is called by Kong when the write-license command is executed.
func (w *WriteLicense) Run(logger *slog.Logger, trace log.TraceLogger, devs *Devices) error {
	license, err := decodeHex(w.License, target.LicenseSize)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	b, err := devs.Open(logger, trace)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Target.Connect(ctx); err != nil {
		return err
	}
	if err := b.Target.WriteLicense(ctx, license); err != nil {
		return err
	}
	fmt.Fprintln(output(w.Out), "license written")
	return nil
}
