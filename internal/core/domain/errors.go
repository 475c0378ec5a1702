package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed     = errors.New("media session closed")
	ErrStaleResult       = errors.New("result arrived for a superseded operation")
	ErrNoSession         = errors.New("no media session mounted")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrRecordingTimedOut = errors.New("recorder did not finish in time")
)

// DeviceErrorKind classifies capture and encoder failures.
type DeviceErrorKind int

const (
	PermissionDenied DeviceErrorKind = iota + 1
	DeviceNotFound
	DeviceInUse
	FormatUnsupported
	Unknown
)

func (k DeviceErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceNotFound:
		return "device_not_found"
	case DeviceInUse:
		return "device_in_use"
	case FormatUnsupported:
		return "format_unsupported"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// DeviceError is the only error type surfaced to the presentation layer.
type DeviceError struct {
	Kind    DeviceErrorKind
	Message string
	Cause   error
}

// Sentinels for errors.Is; they match any DeviceError of the same kind.
var (
	ErrPermissionDenied  = &DeviceError{Kind: PermissionDenied, Message: "permission denied"}
	ErrDeviceNotFound    = &DeviceError{Kind: DeviceNotFound, Message: "device not found"}
	ErrDeviceInUse       = &DeviceError{Kind: DeviceInUse, Message: "device in use"}
	ErrFormatUnsupported = &DeviceError{Kind: FormatUnsupported, Message: "no supported recording format"}
	ErrNoDataRecorded    = &DeviceError{Kind: Unknown, Message: "no data recorded"}
)

func NewDeviceError(kind DeviceErrorKind, message string, cause error) *DeviceError {
	return &DeviceError{Kind: kind, Message: message, Cause: cause}
}

// NewUnknownError builds Unknown(message).
func NewUnknownError(message string, cause error) *DeviceError {
	return &DeviceError{Kind: Unknown, Message: message, Cause: cause}
}

func (e *DeviceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// ErrorKind names the classification for traces and metrics.
func (e *DeviceError) ErrorKind() string {
	return e.Kind.String()
}

// Is matches on kind. Unknown errors additionally match on message so that
// ErrNoDataRecorded stays distinguishable from other Unknown failures.
func (e *DeviceError) Is(target error) bool {
	t, ok := target.(*DeviceError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if e.Kind == Unknown && t.Message != "" {
		return t.Message == e.Message
	}
	return true
}

// AsDeviceError extracts a DeviceError from err, wrapping anything else as
// Unknown.
func AsDeviceError(err error) *DeviceError {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	return NewUnknownError(err.Error(), err)
}

// TransitionError reports an event that is not valid in the current state.
// Callers facing the UI treat it as a no-op.
type TransitionError struct {
	Machine string
	State   string
	Event   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s not allowed in state %s", e.Machine, e.Event, e.State)
}

// IsRejectedTransition reports whether err is a TransitionError.
func IsRejectedTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
