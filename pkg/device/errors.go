package device

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the failure taxonomy surfaced to callers.
type ErrorKind int

const (
	KindNotConnected ErrorKind = iota + 1
	KindBusy
	KindTimeout
	KindDevice
	KindTransport
)

var errorKindNames = map[ErrorKind]string{
	KindNotConnected: "not connected",
	KindBusy:         "busy",
	KindTimeout:      "timeout",
	KindDevice:       "device error",
	KindTransport:    "transport error",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is returned by every session operation that fails.
type Error struct {
	Op      Op
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	if e.Op != OpNone {
		msg = e.Op.String() + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can compare against
// the package sentinels regardless of op or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotConnected = &Error{Kind: KindNotConnected}
	ErrBusy         = &Error{Kind: KindBusy}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrDeviceError  = &Error{Kind: KindDevice}
	ErrTransport    = &Error{Kind: KindTransport}

	// ErrDisconnected fails a pending operation when the link drops.
	ErrDisconnected = &Error{Kind: KindNotConnected, Message: "connection lost"}
	// ErrSessionClosed fails operations after Close.
	ErrSessionClosed = &Error{Kind: KindNotConnected, Message: "session closed"}

	ErrInvalidTemplateID = errors.New("device: template id must be positive")
	ErrPortClosed        = errors.New("device: port is not open")
)

func newError(op Op, kind ErrorKind, message string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: cause}
}

func opError(op Op, base *Error) *Error {
	return &Error{Op: op, Kind: base.Kind, Message: base.Message}
}

// DeviceMessage returns the text the device reported for a KindDevice error.
func DeviceMessage(err error) (string, bool) {
	var devErr *Error
	if !errors.As(err, &devErr) || devErr.Kind != KindDevice {
		return "", false
	}
	return devErr.Message, true
}

// KindOf returns the ErrorKind carried by err, or 0 when err is not a device error.
func KindOf(err error) ErrorKind {
	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr.Kind
	}
	return 0
}

func timeoutError(op Op, window fmt.Stringer) *Error {
	return newError(op, KindTimeout, "no response within "+window.String(), nil)
}
