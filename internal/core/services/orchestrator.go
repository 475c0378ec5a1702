package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ ports.SessionController = (*SessionOrchestrator)(nil)

// OrchestratorConfig configures one room's local media.
type OrchestratorConfig struct {
	RoomID     domain.RoomID
	Capture    CaptureConfig
	Recording  RecordingConfig
	MaxNotices int
}

func DefaultOrchestratorConfig(room domain.RoomID) OrchestratorConfig {
	return OrchestratorConfig{
		RoomID:     room,
		Capture:    DefaultCaptureConfig(),
		Recording:  DefaultRecordingConfig(),
		MaxNotices: 20,
	}
}

// Dependencies are the platform and host adapters. Nil sinks and metrics
// are replaced with no-ops.
type Dependencies struct {
	Devices   ports.MediaDevices
	Recorders ports.RecorderFactory
	Preview   ports.PreviewSink
	Artifacts ports.ArtifactSink
	Metrics   ports.MetricsRecorder
	Observers []ports.SessionObserver
}

// SessionOrchestrator owns the current media session and serializes every
// user intent against it. Results that land after Close, or after a newer
// operation took over, are released instead of applied.
type SessionOrchestrator struct {
	opMu sync.Mutex

	mu          sync.RWMutex
	session     *MediaSession
	mounted     bool
	closed      bool
	videoWanted bool
	audioWanted bool
	notices     []domain.Notice
	observers   []ports.SessionObserver

	lifetime context.Context
	cancel   context.CancelFunc

	room       domain.RoomID
	maxNotices int
	capture    *CaptureService
	composer   *TrackComposer
	share      *ScreenShare
	recording  *RecordingController
	metrics    ports.MetricsRecorder
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewSessionOrchestrator(cfg OrchestratorConfig, deps Dependencies, logger *zap.SugaredLogger) *SessionOrchestrator {
	var (
		metrics   ports.MetricsRecorder = NopMetrics{}
		preview   ports.PreviewSink     = nopPreview{}
		artifacts ports.ArtifactSink    = nopArtifactSink{}
	)
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	if deps.Preview != nil {
		preview = deps.Preview
	}
	if deps.Artifacts != nil {
		artifacts = deps.Artifacts
	}
	if cfg.MaxNotices <= 0 {
		cfg.MaxNotices = 20
	}

	logger = logger.With("room", cfg.RoomID)
	capture := NewCaptureService(deps.Devices, preview, metrics, cfg.Capture, logger.With("component", "capture"))
	composer := NewTrackComposer(capture, preview, metrics, logger.With("component", "composer"))
	share := NewScreenShare(deps.Devices, composer, metrics, cfg.Capture.PermissionTimeout, logger.With("component", "screen_share"))
	recording := NewRecordingController(cfg.RoomID, deps.Recorders, artifacts, metrics, cfg.Recording, logger.With("component", "recording"))

	lifetime, cancel := context.WithCancel(context.Background())
	o := &SessionOrchestrator{
		audioWanted: true,
		videoWanted: true,
		observers:   append([]ports.SessionObserver(nil), deps.Observers...),
		lifetime:    lifetime,
		cancel:      cancel,
		room:        cfg.RoomID,
		maxNotices:  cfg.MaxNotices,
		capture:     capture,
		composer:    composer,
		share:       share,
		recording:   recording,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
	recording.SetCallbacks(o.onRecordingFailure, o.onArtifact)
	return o
}

// Subscribe adds an observer. It immediately receives the current state.
func (o *SessionOrchestrator) Subscribe(observer ports.SessionObserver) {
	o.mu.Lock()
	o.observers = append(o.observers, observer)
	o.mu.Unlock()
	observer.OnStateChange(o.State())
}

// Mount acquires devices for the room. Mounting again replaces the current
// session.
func (o *SessionOrchestrator) Mount(ctx context.Context, req domain.CaptureRequest) error {
	ctx, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	o.share.Abort()
	o.recording.Abandon()

	o.mu.Lock()
	previous := o.session
	o.videoWanted = req.WantVideo
	o.audioWanted = req.WantAudio
	o.mounted = true
	o.mu.Unlock()

	session, err := o.capture.Acquire(ctx, previous, req)
	if err := o.install(session, err); err != nil {
		o.fail("mount", err)
		o.publish()
		return err
	}

	o.logger.Infow("session mounted", "session_id", session.ID())
	o.publish()
	return nil
}

// Close releases every device handle. Operations still running see their
// results discarded.
func (o *SessionOrchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	o.opMu.Lock()
	defer o.opMu.Unlock()

	if o.recording.Snapshot().State == domain.RecordingActive {
		if _, err := o.recording.Stop(ctx); err != nil {
			o.logger.Warnw("recording finalized with error on close", "error", err)
		}
	} else {
		o.recording.Abandon()
	}
	o.share.Abort()

	o.mu.Lock()
	session := o.session
	o.session = nil
	o.mounted = false
	o.mu.Unlock()

	if session != nil {
		session.Release()
	}
	o.updateLiveTracks()
	o.logger.Infow("session closed")
	o.publish()
	return nil
}

// ToggleVideo flips the camera. The full release/reacquire cycle runs so the
// hardware indicator follows the toggle. While a screen share holds the
// video slot only the wanted camera state is recorded; it is applied when
// the share ends. If the re-acquire fails the microphone is requested on its
// own, so a camera problem never costs the user their audio.
func (o *SessionOrchestrator) ToggleVideo(ctx context.Context) error {
	ctx, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return domain.ErrNoSession
	}
	o.videoWanted = !o.videoWanted
	req := domain.CaptureRequest{WantVideo: o.videoWanted, WantAudio: o.audioWanted}
	previous := o.session
	o.mu.Unlock()

	if o.share.Snapshot().State != domain.ShareIdle {
		o.logger.Infow("camera preference recorded during screen share", "want_video", req.WantVideo)
		o.publish()
		return nil
	}

	session, err := o.capture.Acquire(ctx, previous, req)
	var cause error
	if err != nil && ctx.Err() == nil {
		if fallback := o.keepMicrophone(ctx, req.WantAudio, err); fallback != nil {
			session, cause, err = fallback, err, nil
		}
	}
	if err := o.install(session, err); err != nil {
		o.mu.Lock()
		o.videoWanted = false
		o.mu.Unlock()
		o.fail("toggle_video", err)
		o.followRecording()
		o.publish()
		return err
	}
	o.followRecording()

	if cause != nil {
		o.mu.Lock()
		o.videoWanted = false
		o.mu.Unlock()
		o.fail("toggle_video", cause)
		o.publish()
		return cause
	}
	o.publish()
	return nil
}

// keepMicrophone acquires an audio-only session after a failed camera
// re-acquire. It returns nil when the microphone is unavailable too.
func (o *SessionOrchestrator) keepMicrophone(ctx context.Context, audioOn bool, cause error) *MediaSession {
	o.logger.Infow("camera re-acquire failed, requesting microphone alone", "error", cause)
	session, err := o.capture.AcquireExact(ctx, domain.CaptureRequest{WantAudio: true})
	if err != nil {
		o.logger.Warnw("microphone fallback failed", "error", err)
		return nil
	}
	if a := session.Audio(); a != nil {
		a.SetEnabled(audioOn)
	}
	return session
}

// ToggleAudio mutes or unmutes the microphone handle in place.
func (o *SessionOrchestrator) ToggleAudio(ctx context.Context) error {
	_, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	o.mu.Lock()
	if !o.mounted {
		o.mu.Unlock()
		return domain.ErrNoSession
	}
	o.audioWanted = !o.audioWanted
	want := o.audioWanted
	session := o.session
	o.mu.Unlock()

	if session != nil {
		if audio := session.Audio(); audio != nil {
			audio.SetEnabled(want)
		}
	}
	o.publish()
	return nil
}

func (o *SessionOrchestrator) StartShare(ctx context.Context, kind domain.SourceKind, opts domain.ShareOptions) error {
	ctx, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	session := o.currentSession()
	if session == nil {
		return domain.ErrNoSession
	}

	err = o.share.Request(ctx, session, kind, opts, o.onShareEnded)
	if o.ignorable(err, "start_share") {
		return nil
	}
	o.followRecording()
	if err != nil {
		o.fail("start_share", err)
		o.publish()
		return err
	}
	o.updateLiveTracks()
	o.publish()
	return nil
}

func (o *SessionOrchestrator) StopShare(ctx context.Context) error {
	ctx, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	session := o.currentSession()
	if session == nil {
		return domain.ErrNoSession
	}

	err = o.share.Stop(ctx, session, o.wantsVideo())
	if o.ignorable(err, "stop_share") {
		return nil
	}
	o.updateLiveTracks()
	o.followRecording()
	if err != nil {
		o.fail("stop_share", err)
		o.publish()
		return err
	}
	o.publish()
	return nil
}

func (o *SessionOrchestrator) PauseShare(ctx context.Context) error {
	_, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	if err := o.share.Pause(); o.ignorable(err, "pause_share") {
		return nil
	} else if err != nil {
		return err
	}
	o.publish()
	return nil
}

func (o *SessionOrchestrator) ResumeShare(ctx context.Context) error {
	_, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	if err := o.share.Resume(); o.ignorable(err, "resume_share") {
		return nil
	} else if err != nil {
		return err
	}
	o.publish()
	return nil
}

func (o *SessionOrchestrator) StartRecording(ctx context.Context) error {
	ctx, end, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer end()

	session := o.currentSession()
	if session == nil {
		return domain.ErrNoSession
	}

	err = o.recording.Start(ctx, session)
	if o.ignorable(err, "start_recording") {
		return nil
	}
	if err != nil {
		o.fail("start_recording", err)
		o.publish()
		return err
	}
	o.publish()
	return nil
}

// StopRecording finalizes the recording. A partial artifact can come back
// together with an error.
func (o *SessionOrchestrator) StopRecording(ctx context.Context) (*domain.Artifact, error) {
	ctx, end, err := o.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	artifact, err := o.recording.Stop(ctx)
	if o.ignorable(err, "stop_recording") {
		return nil, nil
	}
	if err != nil {
		o.fail("stop_recording", err)
	}
	o.publish()
	return artifact, err
}

func (o *SessionOrchestrator) State() domain.SessionState {
	o.mu.RLock()
	session := o.session
	st := domain.SessionState{
		RoomID:      o.room,
		Mounted:     o.mounted,
		VideoSource: domain.VideoSourceNone,
		Notices:     append([]domain.Notice{}, o.notices...),
	}
	o.mu.RUnlock()

	share := o.share.Snapshot()
	st.ShareState = share.State
	st.ShareKind = share.Kind
	st.SharePaused = share.State == domain.SharePaused

	rec := o.recording.Snapshot()
	st.RecordingState = rec.State
	st.Recording = rec.State != domain.RecordingIdle
	st.RecordingFormat = rec.Format

	if session != nil && !session.Released() {
		st.SessionID = session.ID()
		st.VideoEnabled = session.VideoEnabled()
		st.AudioEnabled = session.AudioEnabled()
		st.VideoSource = session.Source()
	}
	return st
}

func (o *SessionOrchestrator) DismissNotice(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, n := range o.notices {
		if n.ID == id {
			o.notices = append(o.notices[:i], o.notices[i+1:]...)
			return true
		}
	}
	return false
}

func (o *SessionOrchestrator) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	return o.capture.EnumerateDevices(ctx)
}

// begin serializes an operation and ties its context to the orchestrator's
// lifetime.
func (o *SessionOrchestrator) begin(ctx context.Context) (context.Context, func(), error) {
	o.opMu.Lock()
	if o.isClosed() {
		o.opMu.Unlock()
		return nil, nil, domain.ErrSessionClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
		o.opMu.Unlock()
	}, nil
}

// install adopts the result of an acquisition. A result produced after
// Close is released on the spot.
func (o *SessionOrchestrator) install(session *MediaSession, err error) error {
	o.mu.Lock()
	if o.closed {
		o.session = nil
		o.mu.Unlock()
		if session != nil {
			session.Release()
		}
		return domain.ErrSessionClosed
	}
	if err != nil {
		o.session = nil
		o.mu.Unlock()
		o.updateLiveTracks()
		return err
	}
	o.session = session
	o.mu.Unlock()
	o.updateLiveTracks()
	return nil
}

func (o *SessionOrchestrator) onShareEnded(generation uint64) {
	go func() {
		o.opMu.Lock()
		defer o.opMu.Unlock()

		session := o.currentSession()
		if o.isClosed() || session == nil {
			return
		}
		err := o.share.HandleEnded(o.lifetime, session, generation, o.wantsVideo())
		if IsStale(err) {
			return
		}
		o.updateLiveTracks()
		o.followRecording()
		if err != nil {
			o.fail("share_ended", err)
		}
		o.publish()
	}()
}

// followRecording points an active recording at the tracks the session now
// composes. A recording that cannot follow ends with what it has.
func (o *SessionOrchestrator) followRecording() {
	if err := o.recording.Follow(o.currentSession()); err != nil {
		o.fail("recording", err)
	}
}

func (o *SessionOrchestrator) onRecordingFailure(err *domain.DeviceError) {
	o.fail("recording", err)
	o.publish()
}

func (o *SessionOrchestrator) onArtifact(info domain.ArtifactInfo) {
	for _, obs := range o.snapshotObservers() {
		obs.OnArtifact(info)
	}
}

// ignorable reports results the UI treats as a no-op: rejected transitions
// and superseded results.
func (o *SessionOrchestrator) ignorable(err error, op string) bool {
	if err == nil {
		return false
	}
	if domain.IsRejectedTransition(err) || IsStale(err) {
		o.logger.Debugw("operation ignored", "operation", op, "reason", err)
		return true
	}
	return false
}

// fail turns err into a dismissible notice.
func (o *SessionOrchestrator) fail(op string, err error) {
	if err == nil ||
		errors.Is(err, domain.ErrSessionClosed) ||
		errors.Is(err, domain.ErrNoSession) ||
		IsStale(err) {
		return
	}
	de := domain.AsDeviceError(err)
	notice := domain.Notice{
		ID:        uuid.New().String(),
		Kind:      de.Kind.String(),
		Message:   de.Message,
		Operation: op,
		CreatedAt: o.now(),
	}

	o.mu.Lock()
	o.notices = append(o.notices, notice)
	if len(o.notices) > o.maxNotices {
		o.notices = o.notices[len(o.notices)-o.maxNotices:]
	}
	observers := append([]ports.SessionObserver(nil), o.observers...)
	o.mu.Unlock()

	o.logger.Warnw("operation failed", "operation", op, "kind", notice.Kind, "error", err)
	for _, obs := range observers {
		obs.OnNotice(notice)
	}
}

func (o *SessionOrchestrator) publish() {
	state := o.State()
	for _, obs := range o.snapshotObservers() {
		obs.OnStateChange(state)
	}
}

func (o *SessionOrchestrator) updateLiveTracks() {
	var video, audio int
	if session := o.currentSession(); session != nil {
		for _, t := range session.Tracks() {
			switch t.Kind() {
			case domain.TrackKindVideo:
				video++
			case domain.TrackKindAudio:
				audio++
			}
		}
	}
	o.metrics.SetLiveTracks(domain.TrackKindVideo, video)
	o.metrics.SetLiveTracks(domain.TrackKindAudio, audio)
}

func (o *SessionOrchestrator) snapshotObservers() []ports.SessionObserver {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]ports.SessionObserver(nil), o.observers...)
}

func (o *SessionOrchestrator) currentSession() *MediaSession {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session
}

func (o *SessionOrchestrator) wantsVideo() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.videoWanted
}

func (o *SessionOrchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}
