package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/JJeremyXu/licence-tool/device/dongle"
	"github.com/JJeremyXu/licence-tool/device/target"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/hid/hidraw"
	"github.com/JJeremyXu/licence-tool/internal/emulator"
	"github.com/JJeremyXu/licence-tool/internal/log"
	"github.com/JJeremyXu/licence-tool/virtualbus"
)

// USBID is a vendor or product id accepting decimal or 0x-prefixed hex.
type USBID uint16

func (u *USBID) UnmarshalText(b []byte) error {
	n, err := strconv.ParseUint(string(b), 0, 16)
	if err != nil {
		return fmt.Errorf("invalid USB id %q: %w", string(b), err)
	}
	*u = USBID(n)
	return nil
}

func (u USBID) String() string { return fmt.Sprintf("0x%04x", uint16(u)) }

type DongleFlags struct {
	VendorID       USBID         `name:"vid" help:"Dongle USB vendor id" default:"0x0483" env:"LICENCE_TOOL_DONGLE_VID"`
	ProductID      USBID         `name:"pid" help:"Dongle USB product id" default:"0x5750" env:"LICENCE_TOOL_DONGLE_PID"`
	CounterOffset  int           `help:"Byte offset of the credit counter in the counter response" default:"0" env:"LICENCE_TOOL_DONGLE_COUNTER_OFFSET"`
	CounterTimeout time.Duration `help:"Counter response timeout" default:"2s"`
	LicenseTimeout time.Duration `help:"Timeout per license response packet" default:"3s"`
	ReportSize     int           `help:"Dongle report size including the report id (0 reads it from the report descriptor)" default:"0" env:"LICENCE_TOOL_DONGLE_REPORT_SIZE"`
}

func (f DongleFlags) options() dongle.Options {
	return dongle.Options{
		VendorID:       uint16(f.VendorID),
		ProductID:      uint16(f.ProductID),
		CounterOffset:  f.CounterOffset,
		CounterTimeout: f.CounterTimeout,
		LicenseTimeout: f.LicenseTimeout,
		ReportSize:     f.ReportSize,
	}
}

type TargetFlags struct {
	VendorID          USBID         `name:"vid" help:"Target USB vendor id" default:"0x0483" env:"LICENCE_TOOL_TARGET_VID"`
	ProductID         USBID         `name:"pid" help:"Target USB product id" default:"0x5751" env:"LICENCE_TOOL_TARGET_PID"`
	AnyDevice         bool          `help:"Accept any HID device as the target" env:"LICENCE_TOOL_TARGET_ANY"`
	IdentifierMode    string        `help:"Identifier response framing" enum:"single,accumulate" default:"single" env:"LICENCE_TOOL_TARGET_IDENTIFIER_MODE"`
	IdentifierTimeout time.Duration `help:"Identifier response timeout" default:"2s"`
	ChunkDelay        time.Duration `help:"Delay between license chunks" default:"20ms"`
	ReportSize        int           `help:"Target report size including the report id (0 reads it from the report descriptor)" default:"0" env:"LICENCE_TOOL_TARGET_REPORT_SIZE"`
}

func (f TargetFlags) options() (target.Options, error) {
	mode, err := target.ParseIdentifierMode(f.IdentifierMode)
	if err != nil {
		return target.Options{}, err
	}
	return target.Options{
		VendorID:          uint16(f.VendorID),
		ProductID:         uint16(f.ProductID),
		AnyDevice:         f.AnyDevice,
		IdentifierMode:    mode,
		IdentifierTimeout: f.IdentifierTimeout,
		ChunkDelay:        f.ChunkDelay,
		ReportSize:        f.ReportSize,
	}, nil
}

type SimFlags struct {
	Credits uint16 `help:"Credits on the emulated dongle" default:"10"`
	Secret  string `help:"Secret the emulated dongle derives licenses from" default:"licence-tool emulator secret"`
}

// Devices holds the backend and peripheral flags shared by every command.
type Devices struct {
	Simulate   bool        `help:"Use emulated peripherals on a virtual bus instead of hidraw" env:"LICENCE_TOOL_SIMULATE"`
	ReportSize int         `help:"HID report size in bytes, report id included, for devices without a readable report descriptor" default:"64" env:"LICENCE_TOOL_REPORT_SIZE"`
	SysfsRoot  string      `help:"hidraw class directory in sysfs" default:"/sys/class/hidraw" hidden:""`
	Dongle     DongleFlags `embed:"" prefix:"dongle-"`
	Target     TargetFlags `embed:"" prefix:"target-"`
	Sim        SimFlags    `embed:"" prefix:"sim-"`
}

// Lister enumerates the devices a backend can open.
type Lister interface {
	List(ctx context.Context) ([]hid.DeviceInfo, error)
}

// Backend is an opened transport plus the sessions built on it.
type Backend struct {
	Transport hid.Transport
	Lister    Lister
	Dongle    *dongle.Dongle
	Target    *target.Target

	closers []func() error
}

// Close drops both sessions and the virtual bus, if any.
func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open builds the backend selected by the flags.
func (d *Devices) Open(logger *slog.Logger, trace log.TraceLogger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	topts, err := d.Target.options()
	if err != nil {
		return nil, err
	}
	dopts := d.Dongle.options()

	b := &Backend{}
	if d.Simulate {
		bus := virtualbus.New(logger)
		b.closers = append(b.closers, bus.Close)
		emuDongle := emulator.NewDongle(emulator.DongleConfig{
			VendorID:      dopts.VendorID,
			ProductID:     dopts.ProductID,
			Credits:       d.Sim.Credits,
			CounterOffset: dopts.CounterOffset,
			Secret:        []byte(d.Sim.Secret),
		}, logger)
		tcfg := emulator.TargetConfig{
			VendorID:  topts.VendorID,
			ProductID: topts.ProductID,
			Streamed:  topts.IdentifierMode == target.Accumulate,
		}
		switch {
		case topts.ReportSize > 0:
			tcfg.ReportSize = topts.ReportSize
		case tcfg.Streamed:
			tcfg.ReportSize = d.ReportSize
		}
		emuTarget := emulator.NewTarget(tcfg, logger)
		if _, err := bus.Add(emuDongle); err != nil {
			_ = b.Close()
			return nil, err
		}
		if _, err := bus.Add(emuTarget); err != nil {
			_ = b.Close()
			return nil, err
		}
		logger.Info("Simulating peripherals on virtual bus", "bus", bus.BusID(), "credits", d.Sim.Credits)
		b.Transport, b.Lister = bus, bus
	} else {
		tr := hidraw.New(hidraw.Config{ReportSize: d.ReportSize, SysfsRoot: d.SysfsRoot}, logger)
		b.Transport, b.Lister = tr, tr
	}

	b.Dongle = dongle.New(b.Transport, dopts, logger, trace)
	b.Target = target.New(b.Transport, topts, logger, trace)
	b.closers = append(b.closers, b.Dongle.Close, b.Target.Close)
	return b, nil
}
