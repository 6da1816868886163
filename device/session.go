// Package device provides the peripheral session engine shared by the dongle
// and target sessions: connection state, report I/O, tracing and reply
// correlation.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JJeremyXu/licence-tool/correlator"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/log"
)

// inboundBuffer bounds reports read from the connection but not yet
// dispatched to a waiter.
const inboundBuffer = 32

// Profile describes one peripheral variant. Variants differ only by data.
type Profile struct {
	// Name prefixes log lines, traces and errors ("dongle", "target").
	Name   string
	Filter hid.Filter
}

// Session owns at most one connection to a peripheral. Operations are
// serialised; the connection is never shared with another component.
type Session struct {
	profile   Profile
	transport hid.Transport
	logger    *slog.Logger
	trace     log.TraceLogger

	opMu sync.Mutex

	mu   sync.Mutex
	conn hid.Conn
	corr *correlator.Correlator
}

// NewSession builds a disconnected session. logger and trace may be nil.
func NewSession(p Profile, t hid.Transport, logger *slog.Logger, trace log.TraceLogger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if trace == nil {
		trace = log.NewTrace(nil)
	}
	return &Session{
		profile:   p,
		transport: t,
		logger:    logger.With("device", p.Name),
		trace:     trace,
	}
}

func (s *Session) Name() string         { return s.profile.Name }
func (s *Session) Profile() Profile     { return s.profile }
func (s *Session) Logger() *slog.Logger { return s.logger }

// Connected reports whether the session holds an open connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.IsOpen()
}

// Info describes the connected peripheral.
func (s *Session) Info() (hid.DeviceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return hid.DeviceInfo{}, false
	}
	return s.conn.Info(), true
}

// Connect opens a connection through the transport. It is a no-op when the
// session is already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && s.conn.IsOpen() {
		return nil
	}
	if s.transport == nil {
		return s.fail("connect", hid.ErrNotSupported)
	}

	conn, err := s.transport.Open(ctx, s.profile.Filter)
	if err != nil {
		return s.fail("connect", err)
	}

	in := make(chan hid.Report, inboundBuffer)
	go s.pump(conn, in)
	corr := correlator.New(in, conn.Done(), s.logger)
	s.conn, s.corr = conn, corr
	go s.watch(conn, corr)

	info := conn.Info()
	s.logger.Info("Connected", "product", info.Product, "path", info.Path,
		"vid", fmt.Sprintf("0x%04x", info.VendorID), "pid", fmt.Sprintf("0x%04x", info.ProductID))
	s.trace.Trace(log.TagInfo, fmt.Sprintf("%s connected: %s", s.profile.Name, info.Product), nil)
	return nil
}

// pump traces inbound reports and hands them to the correlator.
func (s *Session) pump(conn hid.Conn, in chan<- hid.Report) {
	defer close(in)
	for {
		var r hid.Report
		select {
		case <-conn.Done():
			return
		case rr, ok := <-conn.Reports():
			if !ok {
				return
			}
			r = rr
		}
		s.trace.Trace(log.TagInbound, fmt.Sprintf("%s report %s", s.profile.Name, r.ID), r.Data())
		select {
		case in <- r:
		case <-conn.Done():
			return
		}
	}
}

// watch moves the session to Disconnected when the peripheral goes away.
func (s *Session) watch(conn hid.Conn, corr *correlator.Correlator) {
	<-corr.Disconnected()
	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn, s.corr = nil, nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	_ = conn.Close()
	s.logger.Warn("Peripheral disconnected")
	s.trace.Trace(log.TagError, s.profile.Name+" disconnected", nil)
}

// Close drops the connection. Closing a disconnected session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn, s.corr = nil, nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.logger.Info("Disconnecting")
	return conn.Close()
}

func (s *Session) fail(op string, err error) error {
	s.trace.Trace(log.TagError, fmt.Sprintf("%s %s failed: %v", s.profile.Name, op, err), nil)
	return fmt.Errorf("%s: %s: %w", s.profile.Name, op, err)
}

// Begin grants exclusive use of the connection for one operation. It fails
// with hid.ErrNotConnected, without any I/O, when no connection is open.
// The caller must call End.
func (s *Session) Begin(op string) (*Exchange, error) {
	s.opMu.Lock()
	s.mu.Lock()
	conn, corr := s.conn, s.corr
	s.mu.Unlock()
	if conn == nil || !conn.IsOpen() {
		s.opMu.Unlock()
		return nil, s.fail(op, hid.ErrNotConnected)
	}
	s.logger.Debug("Begin", "op", op)
	return &Exchange{s: s, op: op, conn: conn, corr: corr}, nil
}

// Exchange is one operation's exclusive handle on the connection.
type Exchange struct {
	s    *Session
	op   string
	conn hid.Conn
	corr *correlator.Correlator
	done bool
}

// End releases the session for the next operation.
func (x *Exchange) End() {
	if x.done {
		return
	}
	x.done = true
	x.s.opMu.Unlock()
}

// MaxReportSize is the connection's report budget, id included.
func (x *Exchange) MaxReportSize() int { return x.conn.MaxReportSize() }

// Send writes one report after checking it fits the connection.
func (x *Exchange) Send(id hid.ReportID, data []byte) error {
	if size := 1 + len(data); size > x.conn.MaxReportSize() {
		return fmt.Errorf("send report %s: %d bytes exceed report size %d: %w",
			id, size, x.conn.MaxReportSize(), hid.ErrInvalidArgument)
	}
	select {
	case <-x.conn.Done():
		return fmt.Errorf("send report %s: %w", id, hid.ErrDisconnected)
	default:
	}
	x.s.trace.Trace(log.TagOutbound, fmt.Sprintf("%s report %s", x.s.profile.Name, id), data)
	if err := x.conn.Send(id, data); err != nil {
		return fmt.Errorf("send report %s: %w", id, err)
	}
	return nil
}

// SendReport writes a prepared report.
func (x *Exchange) SendReport(r hid.Report) error { return x.Send(r.ID, r.Data()) }

// Expect registers for replies on id before the request goes out.
func (x *Exchange) Expect(id hid.ReportID) (*correlator.Pending, error) {
	return x.corr.Expect(id)
}

// Await waits for the next report on id.
func (x *Exchange) Await(ctx context.Context, id hid.ReportID, timeout time.Duration) (hid.Report, error) {
	return x.corr.Await(ctx, id, timeout)
}

// Fail wraps err with the session and operation and records it. A
// disconnect also drops the session's connection.
func (x *Exchange) Fail(err error) error {
	if errors.Is(err, hid.ErrDisconnected) {
		x.s.mu.Lock()
		if x.s.conn == x.conn {
			x.s.conn, x.s.corr = nil, nil
		}
		x.s.mu.Unlock()
		_ = x.conn.Close()
	}
	return x.s.fail(x.op, err)
}

// Succeed records a successful operation in the trace.
func (x *Exchange) Succeed(msg string, data []byte) {
	x.s.trace.Trace(log.TagSuccess, fmt.Sprintf("%s %s", x.s.profile.Name, msg), data)
}
