//go:build linux

package hidraw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/JJeremyXu/licence-tool/hid"
)

// List enumerates the hidraw devices present on the system.
func (t *Transport) List(ctx context.Context) ([]hid.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := t.enumerate()
	if err != nil {
		return nil, err
	}
	out := make([]hid.DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = d.info
	}
	return out, nil
}

// Open connects to the first hidraw device matching filter. Without a
// report size override the connection is sized from the device's report
// descriptor.
func (t *Transport) Open(ctx context.Context, filter hid.Filter) (hid.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := t.enumerate()
	if err != nil {
		return nil, err
	}
	d, err := pick(devices, filter)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(d.info.Path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("hidraw: open %s: %w", d.info.Path, err)
	}
	if d.layout.empty() {
		if l, err := readDescriptor(fd); err == nil {
			d.layout = l
			if filter.ReportSize <= 0 {
				d.info.ReportSize = t.reportSize(l)
			}
		} else {
			t.logger.Debug("Report descriptor unavailable", "path", d.info.Path, "error", err)
		}
	}

	c := &conn{
		fd:      fd,
		info:    d.info,
		layout:  d.layout,
		poll:    t.cfg.PollInterval,
		logger:  t.logger.With("path", d.info.Path),
		reports: make(chan hid.Report, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	t.logger.Debug("Opened", "path", d.info.Path, "product", d.info.Product, "report_size", d.info.ReportSize)
	return c, nil
}

// readDescriptor fetches the report descriptor through HIDIOCGRDESC.
func readDescriptor(fd int) (reportLayout, error) {
	size, err := unix.IoctlGetInt(fd, unix.HIDIOCGRDESCSIZE)
	if err != nil {
		return reportLayout{}, fmt.Errorf("hidraw: descriptor size: %w", err)
	}
	var desc unix.HIDRawReportDescriptor
	desc.Size = uint32(min(size, len(desc.Value)))
	if err := unix.IoctlHIDGetDesc(fd, &desc); err != nil {
		return reportLayout{}, fmt.Errorf("hidraw: descriptor: %w", err)
	}
	return parseReportDescriptor(desc.Value[:desc.Size]), nil
}

type conn struct {
	fd     int
	info   hid.DeviceInfo
	layout reportLayout
	poll   time.Duration
	logger *slog.Logger

	wmu     sync.Mutex
	reports chan hid.Report
	done    chan struct{}
	once    sync.Once
}

func (c *conn) Info() hid.DeviceInfo       { return c.info }
func (c *conn) MaxReportSize() int         { return c.info.ReportSize }
func (c *conn) Reports() <-chan hid.Report { return c.reports }
func (c *conn) Done() <-chan struct{}      { return c.done }

func (c *conn) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close stops the reader; the descriptor is released when the reader exits.
func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Send writes one report padded to its declared output length, or to the
// report size when the descriptor does not declare it.
func (c *conn) Send(id hid.ReportID, data []byte) error {
	if 1+len(data) > c.info.ReportSize {
		return fmt.Errorf("hidraw: report %s of %d bytes exceeds %d: %w",
			id, 1+len(data), c.info.ReportSize, hid.ErrInvalidArgument)
	}
	buf := make([]byte, max(writeSize(c.info, c.layout, id), 1+len(data)))
	buf[0] = byte(id)
	copy(buf[1:], data)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if !c.IsOpen() {
		return hid.ErrNotConnected
	}
	for {
		_, err := unix.Write(c.fd, buf)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := c.waitWritable(); err != nil {
				return err
			}
		case gone(err):
			_ = c.Close()
			return fmt.Errorf("hidraw: write: %w", hid.ErrDisconnected)
		default:
			return fmt.Errorf("hidraw: write: %w", err)
		}
	}
}

func (c *conn) waitWritable() error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, int(time.Second/time.Millisecond))
	if err != nil && !errors.Is(err, unix.EINTR) {
		return fmt.Errorf("hidraw: poll: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("hidraw: write: %w", hid.ErrTimeout)
	}
	return nil
}

// readLoop publishes inbound reports until Close or a device error. A
// vanished device closes the connection.
func (c *conn) readLoop() {
	defer func() {
		_ = c.Close()
		c.wmu.Lock()
		_ = unix.Close(c.fd)
		c.wmu.Unlock()
		close(c.reports)
	}()

	buf := make([]byte, max(c.info.ReportSize, hid.DefaultReportSize))
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	timeout := int(c.poll / time.Millisecond)

	for c.IsOpen() {
		fds[0].Revents = 0
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.logger.Error("Poll failed", "error", err)
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			c.logger.Warn("Device hung up")
			return
		}

		m, err := unix.Read(c.fd, buf)
		switch {
		case err == nil:
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case gone(err):
			c.logger.Warn("Device removed", "error", err)
			return
		default:
			c.logger.Error("Read failed", "error", err)
			return
		}
		if m < 1 {
			continue
		}
		r := hid.NewReport(hid.ReportID(buf[0]), buf[1:m])
		select {
		case c.reports <- r:
		case <-c.done:
			return
		}
	}
}

func gone(err error) bool {
	return errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EIO) || errors.Is(err, unix.EBADF)
}
