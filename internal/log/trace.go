package log

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// Tag classifies a trace event.
type Tag string

const (
	TagInfo     Tag = "info"
	TagSuccess  Tag = "success"
	TagError    Tag = "error"
	TagOutbound Tag = "outbound"
	TagInbound  Tag = "inbound"
)

// Event is one structured trace record.
type Event struct {
	Time    time.Time
	Tag     Tag
	Message string
	Data    []byte
}

// TraceLogger receives human readable transaction traces. Implementations
// must accept concurrent calls from several sessions.
type TraceLogger interface {
	Trace(tag Tag, msg string, data []byte)
}

// traceLogger writes one line per event.
type traceLogger struct {
	w   io.Writer
	mu  sync.Mutex
	now func() time.Time
}

// NewTrace returns a TraceLogger writing to w, or a no-op when w is nil.
func NewTrace(w io.Writer) TraceLogger {
	return &traceLogger{w: w, now: time.Now}
}

func (t *traceLogger) Trace(tag Tag, msg string, data []byte) {
	if t.w == nil {
		return
	}
	line := Format(Event{Time: t.now(), Tag: tag, Message: msg, Data: data})

	t.mu.Lock()
	_, _ = io.WriteString(t.w, line)
	t.mu.Unlock()
}

// Format renders an event as a single newline terminated line.
func Format(e Event) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s [%s] %s", e.Time.Format("2006/01/02 15:04:05.000"), e.Tag, e.Message)
	if len(e.Data) > 0 {
		fmt.Fprintf(&b, " (%d bytes) hex: %s", len(e.Data), Hex(e.Data))
	}
	b.WriteByte('\n')
	return b.String()
}

// Hex renders data as space separated lowercase byte pairs.
func Hex(data []byte) string {
	const hexdigits = "0123456789abcdef"
	var b bytes.Buffer
	b.Grow(len(data) * 3)
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(hexdigits[c>>4])
		b.WriteByte(hexdigits[c&0x0f])
	}
	return b.String()
}

// Recorder keeps events in memory, for tests and for callers that render
// the trace themselves.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Trace(tag Tag, msg string, data []byte) {
	e := Event{Time: time.Now(), Tag: tag, Message: msg}
	if len(data) > 0 {
		e.Data = append([]byte(nil), data...)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Tagged returns the recorded events carrying tag.
func (r *Recorder) Tagged(tag Tag) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Tag == tag {
			out = append(out, e)
		}
	}
	return out
}
