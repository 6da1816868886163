//go:build !linux

package hidraw

import (
	"context"

	"github.com/JJeremyXu/licence-tool/hid"
)

// List is only available on Linux.
func (t *Transport) List(ctx context.Context) ([]hid.DeviceInfo, error) {
	return nil, hid.ErrNotSupported
}

// Open is only available on Linux.
func (t *Transport) Open(ctx context.Context, filter hid.Filter) (hid.Conn, error) {
	return nil, hid.ErrNotSupported
}
