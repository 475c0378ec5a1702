package ports

import (
	"context"
	"time"

	"huddle/internal/core/domain"

	"github.com/pion/webrtc/v3/pkg/media"
)

// Track is one handle on a capture device. Handles created by Clone are
// independent: stopping a clone never stops the original.
type Track interface {
	ID() domain.TrackID
	Kind() domain.TrackKind
	Label() string

	// Enabled toggles whether the handle produces media. A disabled handle
	// keeps the device open.
	Enabled() bool
	SetEnabled(enabled bool)

	// Live is false once Stop was called or the platform ended the source.
	Live() bool

	// Stop releases this handle. It is idempotent and does not fire the
	// OnEnded callback.
	Stop()

	// OnEnded registers a callback for platform-initiated ends, for example
	// the user revoking a screen share from the OS chrome. Passing nil
	// detaches the callback.
	OnEnded(callback func())

	Clone() (Track, error)
}

// SampleSource is implemented by tracks that can hand out encoded media.
type SampleSource interface {
	ReadSample(ctx context.Context) (media.Sample, error)
	Codec() string
}

// MediaDevices is the platform's capture entry point.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints domain.UserMediaConstraints) ([]Track, error)
	GetDisplayMedia(ctx context.Context, constraints domain.DisplayMediaConstraints) ([]Track, error)
	EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error)
}

// Recorder mirrors a platform media recorder. Callbacks must be registered
// before Start and may be invoked from any goroutine.
type Recorder interface {
	MimeType() string
	Start(timeslice time.Duration) error
	// Stop flushes pending data; OnData may fire once more before OnStop.
	Stop() error
	OnData(callback func(chunk []byte))
	OnError(callback func(err error))
	OnStop(callback func())

	// ReplaceTrack switches the input fed by old to next without ending the
	// recording. next must have the kind of old. An input whose track has
	// ended stays open, silent, until it is replaced.
	ReplaceTrack(old, next Track) error
}

type RecorderFactory interface {
	IsTypeSupported(mimeType string) bool
	NewRecorder(tracks []Track, mimeType string) (Recorder, error)
}
