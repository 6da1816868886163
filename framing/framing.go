package framing

import (
	"fmt"

	"github.com/JJeremyXu/licence-tool/hid"
)

// Split turns payload into the ordered reports of scheme s, all tagged with id.
// The payload must be exactly s.Total bytes long.
func Split(s Scheme, id hid.ReportID, payload []byte) ([]hid.Report, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if len(payload) != s.Total {
		return nil, fmt.Errorf("framing: %s: payload is %d bytes, want %d: %w",
			s.Name, len(payload), s.Total, hid.ErrInvalidArgument)
	}

	if s.Kind == SingleShot {
		return []hid.Report{hid.NewReport(id, payload)}, nil
	}

	per := s.chunkSize()
	out := make([]hid.Report, 0, s.Count())
	for off := 0; off < len(payload); off += per {
		n := min(per, len(payload)-off)
		switch s.Kind {
		case LengthPrefixed:
			buf := make([]byte, s.ReportSize)
			buf[0] = byte(n)
			copy(buf[1:], payload[off:off+n])
			out = append(out, hid.NewReport(id, buf))
		case Raw:
			out = append(out, hid.NewReport(id, payload[off:off+n]))
		}
	}
	return out, nil
}

// Reassemble rebuilds a payload from inbound reports in arrival order.
// Reports beyond what the scheme consumes are ignored.
//
// A short result returns the bytes collected so far (nil when none) together
// with a *hid.DataIncompleteError.
func Reassemble(s Scheme, reports []hid.Report) ([]byte, error) {
	a, err := NewAssembler(s)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		if a.Add(r) {
			break
		}
	}
	return a.Result()
}

// Assembler collects inbound reports one at a time.
type Assembler struct {
	s       Scheme
	buf     []byte
	packets int
	done    bool
}

// NewAssembler returns an empty assembler for s.
func NewAssembler(s Scheme) (*Assembler, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &Assembler{s: s, buf: make([]byte, 0, s.Total)}, nil
}

// Add consumes one report and reports whether the scheme is satisfied.
// Reports added after that are ignored.
func (a *Assembler) Add(r hid.Report) bool {
	if a.done {
		return true
	}
	a.packets++
	data := r.Data()
	remaining := a.s.Total - len(a.buf)

	switch a.s.Kind {
	case LengthPrefixed:
		if len(data) > 0 {
			// Only bytes really present are copied; a length byte larger than
			// the report or the remaining capacity is clamped.
			n := min(int(data[0]), len(data)-1, remaining)
			a.buf = append(a.buf, data[1:1+n]...)
		}
		if a.s.Packets > 0 {
			a.done = a.packets >= a.s.Packets
		} else {
			a.done = len(a.buf) >= a.s.Total
		}
	case Raw:
		n := min(len(data), remaining)
		a.buf = append(a.buf, data[:n]...)
		if a.s.Packets > 0 {
			a.done = a.packets >= a.s.Packets || len(a.buf) >= a.s.Total
		} else {
			a.done = len(a.buf) >= a.s.Total
		}
	case SingleShot:
		n := min(len(data), a.s.Total)
		a.buf = append(a.buf, data[:n]...)
		a.done = true
	}
	return a.done
}

// Done reports whether no further reports are needed.
func (a *Assembler) Done() bool { return a.done }

// Packets is the number of reports consumed so far.
func (a *Assembler) Packets() int { return a.packets }

// Received is the number of payload bytes collected so far.
func (a *Assembler) Received() int { return len(a.buf) }

// Result returns the payload. When fewer than Total bytes were collected it
// returns the partial bytes (nil when none) and a *hid.DataIncompleteError.
func (a *Assembler) Result() ([]byte, error) {
	if len(a.buf) < a.s.Total {
		e := hid.Incomplete(a.buf, a.s.Total)
		return e.Partial, fmt.Errorf("framing: %s after %d packets: %w", a.s.Name, a.packets, e)
	}
	out := make([]byte, a.s.Total)
	copy(out, a.buf)
	return out, nil
}
