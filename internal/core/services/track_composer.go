package services

import (
	"context"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/tracing"

	"go.uber.org/zap"
)

// TrackComposer swaps the video slot of a live session without touching its
// microphone track, and re-binds the preview after every change.
type TrackComposer struct {
	capture *CaptureService
	preview ports.PreviewSink
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewTrackComposer(capture *CaptureService, preview ports.PreviewSink, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *TrackComposer {
	return &TrackComposer{
		capture: capture,
		preview: preview,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ReplaceVideoSource stops the current video track and installs track in its
// place.
func (c *TrackComposer) ReplaceVideoSource(session *MediaSession, track ports.Track, source domain.VideoSource) {
	session.swapVideo(track, source)
	c.rebind(session)
	c.logger.Debugw("video source replaced", "session_id", session.ID(), "source", source)
}

// AttachSourceAudio adds captured system/tab audio alongside the microphone.
func (c *TrackComposer) AttachSourceAudio(session *MediaSession, track ports.Track) {
	session.setSourceAudio(track)
	c.rebind(session)
}

// DetachSourceAudio stops and removes the captured source audio, if any.
func (c *TrackComposer) DetachSourceAudio(session *MediaSession) {
	if session.SourceAudio() == nil {
		return
	}
	session.setSourceAudio(nil)
	c.rebind(session)
}

// RestoreCamera drops the current video track and reacquires the camera.
// enabled is the camera state wanted by the user. On failure the session is
// left with audio only and the classified error is returned.
func (c *TrackComposer) RestoreCamera(ctx context.Context, session *MediaSession, enabled bool) error {
	ctx, span := tracing.TraceCapture(ctx, "restore_camera", string(session.ID()))
	defer span.End()

	session.swapVideo(nil, domain.VideoSourceNone)

	camera, err := c.capture.RequestCamera(ctx)
	if err != nil {
		de := domain.AsDeviceError(err)
		tracing.RecordError(ctx, de)
		c.metrics.RecordDeviceError("restore_camera", de.Kind)
		c.rebind(session)
		c.logger.Warnw("camera restore failed, continuing audio only",
			"session_id", session.ID(), "kind", de.Kind.String(), "error", de)
		return de
	}

	if session.Released() {
		camera.Stop()
		return domain.ErrSessionClosed
	}

	camera.SetEnabled(enabled)
	c.ReplaceVideoSource(session, camera, domain.VideoSourceCamera)
	return nil
}

func (c *TrackComposer) rebind(session *MediaSession) {
	if session.Released() {
		return
	}
	c.preview.Bind(session.Describe(c.now()))
}
