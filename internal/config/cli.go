// Package config defines the command line and config file surface.
package config

import "github.com/JJeremyXu/licence-tool/internal/cmd"

// CLI is the root of the kong command tree. Shared settings can also come
// from a JSON, YAML or TOML config file; flags and environment win.
type CLI struct {
	Config string `help:"Config file (json, yaml or toml)" type:"path" env:"LICENCE_TOOL_CONFIG"`

	cmd.Settings `embed:""`

	List         cmd.List          `cmd:"" help:"List HID devices the backend can open"`
	Counter      cmd.Counter       `cmd:"" help:"Print the dongle's remaining license credits"`
	ReadID       cmd.ReadID        `cmd:"" name:"read-id" help:"Print the target's 128-byte identifier"`
	Exchange     cmd.Exchange      `cmd:"" help:"Trade an identifier for a license on the dongle"`
	WriteLicense cmd.WriteLicense  `cmd:"" name:"write-license" help:"Store a 256-byte license on the target"`
	Provision    cmd.Provision     `cmd:"" help:"Read the target, obtain a license and store it"`
	Install      cmd.Install       `cmd:"" help:"Install udev rules for the dongle and target (Linux, root)"`
	Uninstall    cmd.Uninstall     `cmd:"" help:"Remove the udev rules"`
	ConfigCmd    cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration helpers"`
}
