package virtualbus

import (
	"log/slog"
	"sync"

	"github.com/JJeremyXu/licence-tool/hid"
)

const queueDepth = 64

// conn delivers host reports to the peripheral on its own goroutine so
// replies arrive asynchronously, as they do from real hardware.
type conn struct {
	dev    *busDevice
	logger *slog.Logger

	in      chan hid.Report
	reports chan hid.Report
	done    chan struct{}
	once    sync.Once
}

func newConn(d *busDevice, logger *slog.Logger) *conn {
	c := &conn{
		dev:     d,
		logger:  logger.With("path", d.info.Path),
		in:      make(chan hid.Report, queueDepth),
		reports: make(chan hid.Report, queueDepth),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *conn) run() {
	defer close(c.reports)
	for {
		select {
		case <-c.done:
			return
		case <-c.dev.ctx.Done():
			c.logger.Debug("Peripheral removed")
			_ = c.Close()
			return
		case r := <-c.in:
			for _, reply := range c.dev.dev.HandleReport(c.dev.ctx, r) {
				select {
				case c.reports <- reply:
				case <-c.done:
					return
				case <-c.dev.ctx.Done():
					_ = c.Close()
					return
				}
			}
		}
	}
}

func (c *conn) Info() hid.DeviceInfo       { return c.dev.info }
func (c *conn) MaxReportSize() int         { return c.dev.info.ReportSize }
func (c *conn) Reports() <-chan hid.Report { return c.reports }
func (c *conn) Done() <-chan struct{}      { return c.done }

func (c *conn) IsOpen() bool {
	select {
	case <-c.done:
		return false
	case <-c.dev.ctx.Done():
		return false
	default:
		return true
	}
}

func (c *conn) Send(id hid.ReportID, data []byte) error {
	if !c.IsOpen() {
		return hid.ErrNotConnected
	}
	if 1+len(data) > c.dev.info.ReportSize {
		return hid.ErrInvalidArgument
	}
	select {
	case c.in <- hid.NewReport(id, data):
		return nil
	case <-c.done:
		return hid.ErrNotConnected
	case <-c.dev.ctx.Done():
		return hid.ErrDisconnected
	}
}

func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
