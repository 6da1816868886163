package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JJeremyXu/licence-tool/device/dongle"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/log"
)

// Counter prints the dongle's remaining credits.
type Counter struct {
	Out io.Writer `kong:"-"`
}

// Run is called by Kong when the counter command is executed.
func (c *Counter) Run(logger *slog.Logger, trace log.TraceLogger, devs *Devices) error {
	ctx, stop := signalContext()
	defer stop()

	b, err := devs.Open(logger, trace)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Dongle.Connect(ctx); err != nil {
		return err
	}
	n, err := b.Dongle.QueryCounter(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(output(c.Out), "%d\n", n)
	return nil
}

// Exchange trades a target identifier for a license without touching the
// target.
type Exchange struct {
	UUID string    `arg:"" name:"uuid-hex" help:"128-byte target identifier as hex"`
	Out  io.Writer `kong:"-"`
}

// Run is called by Kong when the exchange command is executed.
func (e *Exchange) Run(logger *slog.Logger, trace log.TraceLogger, devs *Devices) error {
	uuid, err := decodeHex(e.UUID, dongle.UUIDSize)
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

	if err := b.Dongle.Connect(ctx); err != nil {
		return err
	}
	license, err := b.Dongle.ExchangeUUIDForLicense(ctx, uuid)
	if err != nil {
		return err
	}
	fmt.Fprintln(output(e.Out), hex.EncodeToString(license))
	return nil
}

// decodeHex parses s, ignoring whitespace and colons, and checks its length.
func decodeHex(s string, size int) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w: %w", err, hid.ErrInvalidArgument)
	}
	if len(b) != size {
		return nil, fmt.Errorf("decoded %d bytes, want %d: %w", len(b), size, hid.ErrInvalidArgument)
	}
	return b, nil
}
