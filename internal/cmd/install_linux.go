//go:build linux

package cmd

import (
	"fmt"
	"os/exec"
	"strings"
)

const udevAvailable = true

// reloadUdev makes udev pick up changed rules. With trigger, already
// attached hidraw nodes are re-evaluated too.
func reloadUdev(trigger bool) error {
	if err := udevadm("control", "--reload-rules"); err != nil {
		return err
	}
	if trigger {
		return udevadm("trigger", "--subsystem-match=hidraw")
	}
	return nil
}

func udevadm(args ...string) error {
	out, err := exec.Command("udevadm", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("udevadm %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
