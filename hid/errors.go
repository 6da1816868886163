package hid

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned when no HID backend is available on this platform.
	ErrNotSupported = errors.New("hid: not supported")
	// ErrNoDeviceSelected is returned when the backend provides no device for a filter.
	ErrNoDeviceSelected = errors.New("hid: no device selected")
	// ErrNotConnected is returned for I/O attempted without an open connection.
	ErrNotConnected = errors.New("hid: not connected")
	// ErrTimeout is returned when an expected report does not arrive in time.
	ErrTimeout = errors.New("hid: timeout")
	// ErrDisconnected is returned when the peripheral goes away mid-operation.
	ErrDisconnected = errors.New("hid: disconnected")
	// ErrDataIncomplete is matched by *DataIncompleteError.
	ErrDataIncomplete = errors.New("hid: data incomplete")
	// ErrInvalidArgument is returned for payloads that do not fit the declared scheme.
	ErrInvalidArgument = errors.New("hid: invalid argument")
)

// DataIncompleteError reports a reassembly that ended short of the declared
// payload length. Partial is nil when no byte was received.
type DataIncompleteError struct {
	Partial  []byte
	Received int
	Expected int
}

func (e *DataIncompleteError) Error() string {
	return fmt.Sprintf("hid: data incomplete: received %d of %d bytes", e.Received, e.Expected)
}

func (e *DataIncompleteError) Is(target error) bool { return target == ErrDataIncomplete }

// Incomplete builds a DataIncompleteError from the bytes collected so far.
func Incomplete(partial []byte, expected int) *DataIncompleteError {
	e := &DataIncompleteError{Received: len(partial), Expected: expected}
	if len(partial) > 0 {
		e.Partial = append([]byte(nil), partial...)
	}
	return e
}
