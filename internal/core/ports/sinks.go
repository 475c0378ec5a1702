package ports

import (
	"context"
	"time"

	"huddle/internal/core/domain"
)

// PreviewSink displays the composed stream.
type PreviewSink interface {
	Bind(stream domain.StreamDescription)
}

// ArtifactSink persists finished recordings for the host.
type ArtifactSink interface {
	Deliver(ctx context.Context, artifact *domain.Artifact) error
}

// SessionObserver receives everything the presentation layer renders.
type SessionObserver interface {
	OnStateChange(state domain.SessionState)
	OnNotice(notice domain.Notice)
	OnArtifact(info domain.ArtifactInfo)
}

type MetricsRecorder interface {
	RecordAcquisition(result string, duration time.Duration)
	RecordDeviceError(operation string, kind domain.DeviceErrorKind)
	RecordShareTransition(from, to domain.ShareState)
	RecordRecording(result string, info *domain.ArtifactInfo)
	SetLiveTracks(kind domain.TrackKind, count int)
}
