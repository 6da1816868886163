//go:build !linux

package cmd

import "github.com/JJeremyXu/licence-tool/hid"

const udevAvailable = false

func reloadUdev(bool) error { return hid.ErrNotSupported }
