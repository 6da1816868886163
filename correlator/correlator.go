// Package correlator turns the pushed stream of inbound HID reports into
// single-resolution waits keyed by report id.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JJeremyXu/licence-tool/hid"
)

// ErrWaiterExists is returned when a report id already has a registered waiter.
var ErrWaiterExists = errors.New("correlator: waiter already registered for report id")

// queueSize bounds the reports buffered for one registered waiter between
// two consecutive Next calls.
const queueSize = 8

// Correlator dispatches inbound reports to the waiter registered for their id.
// Reports for ids without a waiter are dropped.
type Correlator struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[hid.ReportID]*Pending
	closed  bool
	gone    chan struct{}
}

// New starts dispatching reports until the channel is closed or done fires.
// Either event is treated as a disconnect.
func New(reports <-chan hid.Report, done <-chan struct{}, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		logger:  logger,
		waiters: make(map[hid.ReportID]*Pending),
		gone:    make(chan struct{}),
	}
	go c.dispatch(reports, done)
	return c
}

func (c *Correlator) dispatch(reports <-chan hid.Report, done <-chan struct{}) {
	defer c.shutdown()
	for {
		select {
		case <-done:
			return
		case r, ok := <-reports:
			if !ok {
				return
			}
			c.deliver(r)
		}
	}
}

func (c *Correlator) deliver(r hid.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.waiters[r.ID]
	if !ok {
		c.logger.Debug("dropping unsolicited report", "id", r.ID, "len", r.Len())
		return
	}
	select {
	case p.ch <- r:
	default:
		c.logger.Warn("waiter queue full, dropping report", "id", r.ID)
	}
}

func (c *Correlator) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.gone)
	clear(c.waiters)
}

// Disconnected is closed once the inbound stream has ended.
func (c *Correlator) Disconnected() <-chan struct{} { return c.gone }

// Expect registers interest in id. Register before sending the request that
// triggers the reply, and Close the Pending when done.
func (c *Correlator) Expect(id hid.ReportID) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("expect report %s: %w", id, hid.ErrDisconnected)
	}
	if _, ok := c.waiters[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWaiterExists, id)
	}
	p := &Pending{c: c, id: id, ch: make(chan hid.Report, queueSize)}
	c.waiters[id] = p
	return p, nil
}

// Await waits for the next report carrying id, for at most timeout.
func (c *Correlator) Await(ctx context.Context, id hid.ReportID, timeout time.Duration) (hid.Report, error) {
	p, err := c.Expect(id)
	if err != nil {
		return hid.Report{}, err
	}
	defer p.Close()
	return p.Next(ctx, timeout)
}

func (c *Correlator) release(p *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters[p.id] == p {
		delete(c.waiters, p.id)
	}
}

// Pending is a registered interest in one report id.
type Pending struct {
	c    *Correlator
	id   hid.ReportID
	ch   chan hid.Report
	once sync.Once
}

// ID is the awaited report id.
func (p *Pending) ID() hid.ReportID { return p.id }

// Next blocks until a matching report arrives, timeout elapses, ctx is done
// or the peripheral disconnects. A timeout deregisters the waiter so a late
// report is dropped.
func (p *Pending) Next(ctx context.Context, timeout time.Duration) (hid.Report, error) {
	// A report already queued wins over a disconnect that raced with it.
	select {
	case r := <-p.ch:
		return r, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.ch:
		return r, nil
	case <-timer.C:
		p.Close()
		return hid.Report{}, fmt.Errorf("await report %s after %s: %w", p.id, timeout, hid.ErrTimeout)
	case <-p.c.gone:
		return hid.Report{}, fmt.Errorf("await report %s: %w", p.id, hid.ErrDisconnected)
	case <-ctx.Done():
		p.Close()
		return hid.Report{}, fmt.Errorf("await report %s: %w", p.id, ctx.Err())
	}
}

// Close deregisters the waiter. It is safe to call more than once.
func (p *Pending) Close() {
	p.once.Do(func() { p.c.release(p) })
}
