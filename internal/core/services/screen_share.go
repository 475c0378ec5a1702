package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ShareSnapshot is a consistent read of the share machine.
type ShareSnapshot struct {
	State   domain.ShareState
	Kind    domain.SourceKind
	Options domain.ShareOptions
	Track   domain.TrackID
}

// ScreenShare drives Idle -> Requesting -> Active <-> Paused -> Ended -> Idle.
// Exactly one screen video track is live while Active or Paused, and none
// otherwise.
type ScreenShare struct {
	mu         sync.RWMutex
	state      domain.ShareState
	kind       domain.SourceKind
	options    domain.ShareOptions
	track      ports.Track
	generation uint64

	devices           ports.MediaDevices
	composer          *TrackComposer
	metrics           ports.MetricsRecorder
	permissionTimeout time.Duration
	logger            *zap.SugaredLogger
}

func NewScreenShare(
	devices ports.MediaDevices,
	composer *TrackComposer,
	metrics ports.MetricsRecorder,
	permissionTimeout time.Duration,
	logger *zap.SugaredLogger,
) *ScreenShare {
	return &ScreenShare{
		state:             domain.ShareIdle,
		devices:           devices,
		composer:          composer,
		metrics:           metrics,
		permissionTimeout: permissionTimeout,
		logger:            logger,
	}
}

func (m *ScreenShare) Snapshot() ShareSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := ShareSnapshot{State: m.state, Kind: m.kind, Options: m.options}
	if m.track != nil {
		snap.Track = m.track.ID()
	}
	return snap
}

// Generation identifies the current share. Platform end notifications carry
// the generation they were registered under.
func (m *ScreenShare) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Request asks the platform for a display capture of kind and composes it
// into session. onEnded is called, from a platform goroutine, with the
// share's generation when the platform ends the source.
func (m *ScreenShare) Request(
	ctx context.Context,
	session *MediaSession,
	kind domain.SourceKind,
	opts domain.ShareOptions,
	onEnded func(generation uint64),
) error {
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return domain.NewUnknownError(err.Error(), err)
	}

	m.mu.Lock()
	if m.state != domain.ShareIdle {
		state := m.state
		m.mu.Unlock()
		return &domain.TransitionError{Machine: "screen_share", State: string(state), Event: "request"}
	}
	m.setStateLocked(domain.ShareRequesting)
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	ctx, span := tracing.TraceCapture(ctx, "display_media", string(session.ID()))
	defer span.End()
	span.SetAttributes(
		tracing.SourceKindKey.String(string(kind)),
		tracing.QualityKey.String(string(opts.Quality)),
		attribute.Int("share.frame_rate", opts.FrameRate),
	)

	tracks, err := m.getDisplayMedia(ctx, opts.DisplayConstraints(kind))
	if err != nil {
		m.reset(gen)
		tracing.RecordError(ctx, err)
		m.metrics.RecordDeviceError("start_share", err.Kind)
		m.logger.Warnw("screen share request failed", "kind", err.Kind.String(), "error", err)
		return err
	}

	var video, audio ports.Track
	for _, t := range tracks {
		switch {
		case t.Kind() == domain.TrackKindVideo && video == nil:
			video = t
		case t.Kind() == domain.TrackKindAudio && audio == nil && opts.IncludeAudio:
			audio = t
		default:
			t.Stop()
		}
	}
	if video == nil {
		if audio != nil {
			audio.Stop()
		}
		m.reset(gen)
		return domain.NewDeviceError(domain.DeviceNotFound, "display capture returned no video", nil)
	}

	if m.Generation() != gen || session.Released() {
		video.Stop()
		if audio != nil {
			audio.Stop()
		}
		m.reset(gen)
		return domain.ErrStaleResult
	}

	video.SetEnabled(true)
	video.OnEnded(func() {
		if onEnded != nil {
			onEnded(gen)
		}
	})
	m.composer.ReplaceVideoSource(session, video, domain.VideoSourceScreen)
	if audio != nil {
		m.composer.AttachSourceAudio(session, audio)
	}

	m.mu.Lock()
	m.track = video
	m.kind = kind
	m.options = opts
	m.setStateLocked(domain.ShareActive)
	m.mu.Unlock()

	m.logger.Infow("screen share started",
		"session_id", session.ID(),
		"source_kind", kind,
		"quality", opts.Quality,
		"frame_rate", opts.FrameRate,
		"source_audio", audio != nil,
	)
	return nil
}

// Pause disables the screen track. The source audio keeps flowing.
func (m *ScreenShare) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.ShareActive {
		return &domain.TransitionError{Machine: "screen_share", State: string(m.state), Event: "pause"}
	}
	m.track.SetEnabled(false)
	m.setStateLocked(domain.SharePaused)
	return nil
}

func (m *ScreenShare) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.SharePaused {
		return &domain.TransitionError{Machine: "screen_share", State: string(m.state), Event: "resume"}
	}
	m.track.SetEnabled(true)
	m.setStateLocked(domain.ShareActive)
	return nil
}

// Stop ends the share and hands the video slot back to the camera. The share
// returns to Idle even when the camera cannot be restored; that error is
// returned for the caller to surface.
func (m *ScreenShare) Stop(ctx context.Context, session *MediaSession, cameraEnabled bool) error {
	m.mu.Lock()
	if m.state != domain.ShareActive && m.state != domain.SharePaused {
		state := m.state
		m.mu.Unlock()
		return &domain.TransitionError{Machine: "screen_share", State: string(state), Event: "stop"}
	}
	m.setStateLocked(domain.ShareEnded)
	m.generation++
	track := m.track
	m.mu.Unlock()

	if track != nil {
		track.OnEnded(nil)
	}
	m.composer.DetachSourceAudio(session)
	err := m.composer.RestoreCamera(ctx, session, cameraEnabled)

	m.mu.Lock()
	m.track = nil
	m.kind = domain.SourceKindNone
	m.setStateLocked(domain.ShareIdle)
	m.mu.Unlock()

	m.logger.Infow("screen share stopped", "session_id", session.ID(), "camera_restored", err == nil)
	return err
}

// HandleEnded processes a platform end notification. Notifications for a
// superseded share return ErrStaleResult.
func (m *ScreenShare) HandleEnded(ctx context.Context, session *MediaSession, generation uint64, cameraEnabled bool) error {
	m.mu.RLock()
	current := m.generation
	state := m.state
	m.mu.RUnlock()

	if generation != current || (state != domain.ShareActive && state != domain.SharePaused) {
		return domain.ErrStaleResult
	}
	m.logger.Infow("screen share ended by platform", "session_id", session.ID())
	return m.Stop(ctx, session, cameraEnabled)
}

// Abort drops the share without restoring the camera, used when the whole
// session is being released.
func (m *ScreenShare) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.track != nil {
		m.track.OnEnded(nil)
		m.track.Stop()
	}
	m.track = nil
	m.kind = domain.SourceKindNone
	m.generation++
	if m.state != domain.ShareIdle {
		m.setStateLocked(domain.ShareIdle)
	}
}

func (m *ScreenShare) getDisplayMedia(ctx context.Context, constraints domain.DisplayMediaConstraints) ([]ports.Track, *domain.DeviceError) {
	pctx := ctx
	if m.permissionTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, m.permissionTimeout)
		defer cancel()
	}
	tracks, err := m.devices.GetDisplayMedia(pctx, constraints)
	if err != nil {
		return nil, classifyPlatformError(ctx, pctx, err)
	}
	return tracks, nil
}

// reset returns a failed request to Idle unless something newer took over.
func (m *ScreenShare) reset(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation == generation && m.state == domain.ShareRequesting {
		m.setStateLocked(domain.ShareIdle)
	}
}

func (m *ScreenShare) setStateLocked(next domain.ShareState) {
	if m.state == next {
		return
	}
	m.metrics.RecordShareTransition(m.state, next)
	m.state = next
}

// IsStale reports whether err marks a discarded result.
func IsStale(err error) bool {
	return errors.Is(err, domain.ErrStaleResult)
}
