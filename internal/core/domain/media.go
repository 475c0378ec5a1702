package domain

import "time"

type RoomID string
type SessionID string
type TrackID string

// TrackKind is the media type carried by a track.
type TrackKind int

const (
	TrackKindAudio TrackKind = iota + 1
	TrackKindVideo
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindAudio:
		return "audio"
	case TrackKindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// VideoSource says where the session's video track comes from.
type VideoSource string

const (
	VideoSourceNone   VideoSource = "none"
	VideoSourceCamera VideoSource = "camera"
	VideoSourceScreen VideoSource = "screen"
)

// CaptureRequest is built per acquisition attempt.
type CaptureRequest struct {
	WantVideo bool `json:"want_video"`
	WantAudio bool `json:"want_audio"`
}

// DeviceKind mirrors MediaDeviceInfo.kind.
type DeviceKind string

const (
	DeviceKindVideoInput  DeviceKind = "videoinput"
	DeviceKindAudioInput  DeviceKind = "audioinput"
	DeviceKindAudioOutput DeviceKind = "audiooutput"
)

type DeviceInfo struct {
	DeviceID string     `json:"device_id"`
	Kind     DeviceKind `json:"kind"`
	Label    string     `json:"label"`
}

// VideoConstraints for camera capture. Zero values mean "any".
type VideoConstraints struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate int
}

// AudioConstraints for microphone capture.
type AudioConstraints struct {
	DeviceID         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// UserMediaConstraints is a getUserMedia request; nil members are not
// requested.
type UserMediaConstraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

// DisplaySurface is the platform name of a screen-capture origin.
type DisplaySurface string

const (
	DisplaySurfaceMonitor DisplaySurface = "monitor"
	DisplaySurfaceWindow  DisplaySurface = "window"
	DisplaySurfaceBrowser DisplaySurface = "browser"
)

// DisplayMediaConstraints is a getDisplayMedia request.
type DisplayMediaConstraints struct {
	Surface     DisplaySurface
	Width       int
	Height      int
	FrameRate   int
	Cursor      CursorPolicy
	ContentHint string
	Audio       bool
}

// StreamDescription is what the preview sink is told after every
// composition change.
type StreamDescription struct {
	SessionID   SessionID   `json:"session_id"`
	Source      VideoSource `json:"source"`
	VideoTrack  TrackID     `json:"video_track,omitempty"`
	AudioTrack  TrackID     `json:"audio_track,omitempty"`
	SourceAudio TrackID     `json:"source_audio,omitempty"`
	BoundAt     time.Time   `json:"bound_at"`
}
