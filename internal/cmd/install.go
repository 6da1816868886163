package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/JJeremyXu/licence-tool/hid"
)

const defaultRulesPath = "/etc/udev/rules.d/70-licence-tool.rules"

// Install writes udev rules giving a group access to the dongle and target
// hidraw nodes.
type Install struct {
	Path     string `help:"udev rules file" default:"/etc/udev/rules.d/70-licence-tool.rules"`
	Group    string `help:"Group granted access to the hidraw nodes" default:"plugdev"`
	NoReload bool   `help:"Do not reload and re-trigger udev"`
}

// Run is called by Kong when the install command is executed.
func (i *Install) Run(logger *slog.Logger, devs *Devices) error {
	if !udevAvailable {
		return fmt.Errorf("install: %w", hid.ErrNotSupported)
	}
	path := i.Path
	if path == "" {
		path = defaultRulesPath
	}
	group := i.Group
	if group == "" {
		group = "plugdev"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(udevRules(devs, group)), 0o644); err != nil {
		return err
	}
	if !i.NoReload {
		if err := reloadUdev(true); err != nil {
			return err
		}
	}

	logger.Info("udev rules installed", "path", path, "group", group)
	return nil
}

// Uninstall removes the udev rules written by install.
type Uninstall struct {
	Path     string `help:"udev rules file" default:"/etc/udev/rules.d/70-licence-tool.rules"`
	NoReload bool   `help:"Do not reload udev"`
}

// Run is called by Kong when the uninstall command is executed.
func (u *Uninstall) Run(logger *slog.Logger) error {
	if !udevAvailable {
		return fmt.Errorf("uninstall: %w", hid.ErrNotSupported)
	}
	path := u.Path
	if path == "" {
		path = defaultRulesPath
	}

	var errs []error
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	if !u.NoReload {
		if err := reloadUdev(false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Info("udev rules removed", "path", path)
	return nil
}

func udevRules(devs *Devices, group string) string {
	var b strings.Builder
	b.WriteString("# Managed by licence-tool install\n")
	for _, id := range [][2]USBID{
		{devs.Dongle.VendorID, devs.Dongle.ProductID},
		{devs.Target.VendorID, devs.Target.ProductID},
	} {
		fmt.Fprintf(&b, "KERNEL==\"hidraw*\", ATTRS{idVendor}==\"%04x\", ATTRS{idProduct}==\"%04x\", MODE=\"0660\", GROUP=\"%s\"\n",
			uint16(id[0]), uint16(id[1]), group)
	}
	return b.String()
}
