// Package testing provides scripted HID fakes for package tests.
package testing

import (
	"context"
	"sync"
	"testing"

	"github.com/JJeremyXu/licence-tool/hid"
)

// Responder scripts the peripheral: it sees every sent report and returns the
// reports to push back.
type Responder func(r hid.Report) []hid.Report

// FakeTransport hands out one FakeConn per Open.
type FakeTransport struct {
	mu    sync.Mutex
	opens int
	// Err, when set, fails every Open.
	Err error
	// NewConn builds the connection for each Open.
	NewConn func() *FakeConn
	conns   []*FakeConn
}

// CreateMockTransport returns a transport whose connections answer with
// respond. A nil respond never answers.
func CreateMockTransport(t *testing.T, reportSize int, respond Responder) *FakeTransport {
	t.Helper()
	ft := &FakeTransport{}
	ft.NewConn = func() *FakeConn { return NewFakeConn(reportSize, respond) }
	t.Cleanup(func() {
		for _, c := range ft.Conns() {
			_ = c.Close()
		}
	})
	return ft
}

func (f *FakeTransport) Open(ctx context.Context, filter hid.Filter) (hid.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := f.NewConn()
	c.filter = filter
	f.conns = append(f.conns, c)
	return c, nil
}

// Opens counts Open calls.
func (f *FakeTransport) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Conns returns every connection handed out so far.
func (f *FakeTransport) Conns() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConn(nil), f.conns...)
}

// Last returns the most recent connection, or nil.
func (f *FakeTransport) Last() *FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// FakeConn records sent reports and pushes scripted replies.
type FakeConn struct {
	info    hid.DeviceInfo
	filter  hid.Filter
	respond Responder

	mu      sync.Mutex
	sent    []hid.Report
	closed  bool
	reports chan hid.Report
	done    chan struct{}
	once    sync.Once
}

func NewFakeConn(reportSize int, respond Responder) *FakeConn {
	if reportSize <= 0 {
		reportSize = hid.DefaultReportSize
	}
	return &FakeConn{
		info: hid.DeviceInfo{
			Path:       "fake",
			Product:    "Fake HID",
			ReportSize: reportSize,
		},
		respond: respond,
		reports: make(chan hid.Report, 64),
		done:    make(chan struct{}),
	}
}

// Filter is the filter the connection was opened with.
func (c *FakeConn) Filter() hid.Filter { return c.filter }

func (c *FakeConn) Info() hid.DeviceInfo { return c.info }
func (c *FakeConn) MaxReportSize() int   { return c.info.ReportSize }

func (c *FakeConn) Send(id hid.ReportID, data []byte) error {
	r := hid.NewReport(id, data)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return hid.ErrNotConnected
	}
	c.sent = append(c.sent, r)
	c.mu.Unlock()

	if c.respond != nil {
		for _, reply := range c.respond(r) {
			c.Push(reply)
		}
	}
	return nil
}

// Push delivers an inbound report as if the peripheral sent it.
func (c *FakeConn) Push(r hid.Report) {
	select {
	case <-c.done:
	case c.reports <- r:
	}
}

// Disconnect simulates an unplug.
func (c *FakeConn) Disconnect() { _ = c.Close() }

// Sent returns the reports sent so far.
func (c *FakeConn) Sent() []hid.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hid.Report(nil), c.sent...)
}

func (c *FakeConn) Reports() <-chan hid.Report { return c.reports }
func (c *FakeConn) Done() <-chan struct{}      { return c.done }

func (c *FakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *FakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}
