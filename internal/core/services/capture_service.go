package services

import (
	"context"
	"errors"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/retry"
	"huddle/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CaptureConfig tunes device acquisition.
type CaptureConfig struct {
	// SettleDelay is waited between releasing old handles and requesting
	// new ones. Some drivers report the camera busy for a short while after
	// the last handle is closed.
	SettleDelay       time.Duration
	PermissionTimeout time.Duration
	InUseRetry        retry.Config
	Video             domain.VideoConstraints
	Audio             domain.AudioConstraints
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SettleDelay:       100 * time.Millisecond,
		PermissionTimeout: 30 * time.Second,
		InUseRetry: retry.Config{
			MaxRetries:   3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
		},
		Video: domain.VideoConstraints{Width: 1280, Height: 720, FrameRate: 30},
		Audio: domain.AudioConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true},
	}
}

// CaptureService turns capture requests into media sessions.
type CaptureService struct {
	devices ports.MediaDevices
	preview ports.PreviewSink
	metrics ports.MetricsRecorder
	cfg     CaptureConfig
	logger  *zap.SugaredLogger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() domain.SessionID
}

func NewCaptureService(
	devices ports.MediaDevices,
	preview ports.PreviewSink,
	metrics ports.MetricsRecorder,
	cfg CaptureConfig,
	logger *zap.SugaredLogger,
) *CaptureService {
	return &CaptureService{
		devices: devices,
		preview: preview,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
		newID: func() domain.SessionID {
			return domain.SessionID(uuid.New().String())
		},
	}
}

// Acquire releases previous (if any), waits the settle delay and opens a new
// session. Both kinds are requested whenever either is wanted so the
// permission prompt and device handles cover both; the unwanted kind is
// muted. When the broad request finds no device, exactly the wanted kinds are
// requested once more. The new session is bound to the preview sink before
// it is returned.
func (s *CaptureService) Acquire(ctx context.Context, previous *MediaSession, req domain.CaptureRequest) (*MediaSession, error) {
	started := time.Now()
	ctx, span := tracing.TraceCapture(ctx, "acquire", "")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("capture.want_video", req.WantVideo),
		attribute.Bool("capture.want_audio", req.WantAudio),
	)

	if previous != nil && !previous.Released() {
		previous.Release()
		s.logger.Debugw("released previous session before acquire", "session_id", previous.ID())
		if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
			return nil, classifyPlatformError(ctx, ctx, err)
		}
	}

	if !req.WantVideo && !req.WantAudio {
		session := NewMediaSession(s.newID(), nil, s.now())
		s.bind(session)
		s.metrics.RecordAcquisition("empty", time.Since(started))
		return session, nil
	}

	tracks, err := s.request(ctx, s.constraints(true, true))
	if err != nil && errors.Is(err, domain.ErrDeviceNotFound) && !(req.WantVideo && req.WantAudio) {
		s.logger.Infow("broad capture found no device, retrying with wanted kinds only",
			"want_video", req.WantVideo, "want_audio", req.WantAudio)
		tracks, err = s.request(ctx, s.constraints(req.WantVideo, req.WantAudio))
	}
	if err != nil {
		de := domain.AsDeviceError(err)
		s.metrics.RecordAcquisition("error", time.Since(started))
		s.metrics.RecordDeviceError("acquire", de.Kind)
		tracing.RecordError(ctx, de)
		s.logger.Warnw("device acquisition failed", "kind", de.Kind.String(), "error", de)
		return nil, de
	}

	session := s.assemble(tracks, req, started)
	span.SetAttributes(tracing.SessionIDKey.String(string(session.ID())))
	return session, nil
}

// AcquireExact requests only the wanted kinds, without releasing anything
// first. It backs the audio-only fallback when a camera re-acquire fails.
func (s *CaptureService) AcquireExact(ctx context.Context, req domain.CaptureRequest) (*MediaSession, error) {
	started := time.Now()
	ctx, span := tracing.TraceCapture(ctx, "acquire_exact", "")
	defer span.End()

	if !req.WantVideo && !req.WantAudio {
		return nil, domain.NewUnknownError("nothing to acquire", nil)
	}
	tracks, err := s.request(ctx, s.constraints(req.WantVideo, req.WantAudio))
	if err != nil {
		de := domain.AsDeviceError(err)
		s.metrics.RecordAcquisition("error", time.Since(started))
		s.metrics.RecordDeviceError("acquire", de.Kind)
		tracing.RecordError(ctx, de)
		return nil, de
	}
	session := s.assemble(tracks, req, started)
	span.SetAttributes(tracing.SessionIDKey.String(string(session.ID())))
	return session, nil
}

func (s *CaptureService) assemble(tracks []ports.Track, req domain.CaptureRequest, started time.Time) *MediaSession {
	session := NewMediaSession(s.newID(), tracks, s.now())
	if v := session.Video(); v != nil {
		v.SetEnabled(req.WantVideo)
	}
	if a := session.Audio(); a != nil {
		a.SetEnabled(req.WantAudio)
	}

	s.bind(session)
	s.metrics.RecordAcquisition("success", time.Since(started))
	s.logger.Infow("media session acquired",
		"session_id", session.ID(),
		"video", session.Video() != nil,
		"audio", session.Audio() != nil,
	)
	return session
}

// RequestCamera opens a single camera handle, used when screen share hands
// the video slot back.
func (s *CaptureService) RequestCamera(ctx context.Context) (ports.Track, error) {
	tracks, err := s.request(ctx, s.constraints(true, false))
	if err != nil {
		return nil, err
	}
	var camera ports.Track
	for _, t := range tracks {
		if t.Kind() == domain.TrackKindVideo && camera == nil {
			camera = t
			continue
		}
		t.Stop()
	}
	if camera == nil {
		return nil, domain.NewDeviceError(domain.DeviceNotFound, "no camera returned", nil)
	}
	return camera, nil
}

func (s *CaptureService) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	devices, err := s.devices.EnumerateDevices(ctx)
	if err != nil {
		return nil, classifyPlatformError(ctx, ctx, err)
	}
	return devices, nil
}

// request runs one getUserMedia call under the permission timeout, retrying
// while the device reports busy.
func (s *CaptureService) request(ctx context.Context, constraints domain.UserMediaConstraints) ([]ports.Track, error) {
	retryCfg := s.cfg.InUseRetry
	retryCfg.RetryIf = func(err error) bool {
		return errors.Is(err, domain.ErrDeviceInUse)
	}

	tracks, err := retry.Value(ctx, retryCfg, func(ctx context.Context) ([]ports.Track, error) {
		pctx, cancel := s.permissionContext(ctx)
		defer cancel()

		tracks, err := s.devices.GetUserMedia(pctx, constraints)
		if err != nil {
			return nil, classifyPlatformError(ctx, pctx, err)
		}
		return tracks, nil
	})
	if err != nil {
		return nil, classifyPlatformError(ctx, ctx, err)
	}
	return tracks, nil
}

func (s *CaptureService) permissionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.PermissionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.PermissionTimeout)
}

func (s *CaptureService) constraints(video, audio bool) domain.UserMediaConstraints {
	var c domain.UserMediaConstraints
	if video {
		v := s.cfg.Video
		c.Video = &v
	}
	if audio {
		a := s.cfg.Audio
		c.Audio = &a
	}
	return c
}

func (s *CaptureService) bind(session *MediaSession) {
	s.preview.Bind(session.Describe(s.now()))
}

// classifyPlatformError maps anything the platform returns onto the closed
// DeviceError set. parent is the caller's context, call the one the platform
// saw; a deadline on call alone means the user never answered the prompt.
func classifyPlatformError(parent, call context.Context, err error) *domain.DeviceError {
	var de *domain.DeviceError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil && call.Err() != nil {
		return domain.NewUnknownError("timed out waiting for device permission", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewUnknownError("operation cancelled", err)
	}
	return domain.NewUnknownError(err.Error(), err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
