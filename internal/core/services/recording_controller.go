package services

import (
	"bytes"
	"context"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/tracing"

	"go.uber.org/zap"
)

// RecordingConfig tunes the local recorder.
type RecordingConfig struct {
	Formats         []string
	Timeslice       time.Duration
	FinalizeTimeout time.Duration
	DeliverTimeout  time.Duration
}

func DefaultRecordingConfig() RecordingConfig {
	return RecordingConfig{
		Formats:         domain.DefaultRecordingFormats,
		Timeslice:       time.Second,
		FinalizeTimeout: 10 * time.Second,
		DeliverTimeout:  30 * time.Second,
	}
}

// RecordingSnapshot is a consistent read of the recorder state.
type RecordingSnapshot struct {
	State     domain.RecordingState
	Format    string
	StartedAt time.Time
	Chunks    int
	Bytes     int64
}

type recordingResult struct {
	artifact *domain.Artifact
	err      error
}

// trackSlot is the role a track plays in the composed stream.
type trackSlot int

const (
	slotVideo trackSlot = iota
	slotMicrophone
	slotSourceAudio
)

var slotOrder = []trackSlot{slotVideo, slotMicrophone, slotSourceAudio}

func (s trackSlot) String() string {
	switch s {
	case slotVideo:
		return "video"
	case slotMicrophone:
		return "microphone"
	default:
		return "source_audio"
	}
}

// recordedInput pairs a session handle with the clone the recorder reads.
// origin is nil once the session dropped the handle; the clone is then
// stopped and the input silent.
type recordedInput struct {
	slot   trackSlot
	origin ports.Track
	clone  ports.Track
}

// liveSlots returns the session's live tracks by role.
func liveSlots(session *MediaSession) map[trackSlot]ports.Track {
	out := make(map[trackSlot]ports.Track, len(slotOrder))
	if session == nil || session.Released() {
		return out
	}
	for slot, t := range map[trackSlot]ports.Track{
		slotVideo:       session.Video(),
		slotMicrophone:  session.Audio(),
		slotSourceAudio: session.SourceAudio(),
	} {
		if t != nil && t.Live() {
			out[slot] = t
		}
	}
	return out
}

// RecordingController records cloned handles of the composed stream into an
// ordered chunk buffer and assembles the artifact on stop. It never stops the
// session's own tracks. Follow moves the recorder onto a new composition.
type RecordingController struct {
	mu         sync.Mutex
	state      domain.RecordingState
	generation uint64
	format     domain.Format
	recorder   ports.Recorder
	inputs     []recordedInput
	chunks     [][]byte
	size       int64
	startedAt  time.Time
	sessionID  domain.SessionID
	done       chan recordingResult
	starting   bool

	room       domain.RoomID
	factory    ports.RecorderFactory
	sink       ports.ArtifactSink
	metrics    ports.MetricsRecorder
	cfg        RecordingConfig
	logger     *zap.SugaredLogger
	clock      func() time.Time
	onFailure  func(err *domain.DeviceError)
	onArtifact func(info domain.ArtifactInfo)
}

func NewRecordingController(
	room domain.RoomID,
	factory ports.RecorderFactory,
	sink ports.ArtifactSink,
	metrics ports.MetricsRecorder,
	cfg RecordingConfig,
	logger *zap.SugaredLogger,
) *RecordingController {
	return &RecordingController{
		state:   domain.RecordingIdle,
		room:    room,
		factory: factory,
		sink:    sink,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		clock:   time.Now,
	}
}

// SetCallbacks registers the handlers for failures and artifacts that happen
// outside Start/Stop, for example a recorder error mid-recording.
func (r *RecordingController) SetCallbacks(onFailure func(*domain.DeviceError), onArtifact func(domain.ArtifactInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = onFailure
	r.onArtifact = onArtifact
}

func (r *RecordingController) Snapshot() RecordingSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecordingSnapshot{
		State:     r.state,
		Format:    r.format.MimeType,
		StartedAt: r.startedAt,
		Chunks:    len(r.chunks),
		Bytes:     r.size,
	}
}

// Start negotiates a format, clones the live tracks of session and starts a
// recorder on the clones.
func (r *RecordingController) Start(ctx context.Context, session *MediaSession) error {
	r.mu.Lock()
	if r.state != domain.RecordingIdle {
		state := r.state
		r.mu.Unlock()
		return &domain.TransitionError{Machine: "recording", State: string(state), Event: "start"}
	}
	r.state = domain.RecordingNegotiating
	r.generation++
	gen := r.generation
	r.chunks = nil
	r.size = 0
	r.mu.Unlock()

	ctx, span := tracing.TraceRecording(ctx, "start", string(r.room))
	defer span.End()

	format, err := NegotiateFormat(r.factory, r.cfg.Formats)
	if err != nil {
		r.abortStart(gen, nil)
		tracing.RecordError(ctx, err)
		r.metrics.RecordRecording("unsupported", nil)
		r.logger.Warnw("no supported recording format", "preferences", r.cfg.Formats)
		return err
	}
	span.SetAttributes(tracing.MimeTypeKey.String(format.MimeType))

	inputs, err := cloneSlots(liveSlots(session))
	clones := handles(inputs)
	if err != nil {
		r.abortStart(gen, clones)
		return domain.NewUnknownError("could not clone tracks for recording", err)
	}
	if len(clones) == 0 {
		r.abortStart(gen, nil)
		return domain.NewUnknownError("nothing to record", nil)
	}

	rec, err := r.factory.NewRecorder(clones, format.MimeType)
	if err != nil {
		r.abortStart(gen, clones)
		de := classifyPlatformError(ctx, ctx, err)
		tracing.RecordError(ctx, de)
		return de
	}

	rec.OnData(func(chunk []byte) { r.appendChunk(gen, chunk) })
	rec.OnError(func(err error) { r.complete(gen, err, true) })
	rec.OnStop(func() { r.complete(gen, nil, false) })

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		stopTracks(clones)
		return domain.ErrStaleResult
	}
	done := make(chan recordingResult, 1)
	r.format = format
	r.recorder = rec
	r.inputs = inputs
	r.sessionID = session.ID()
	r.startedAt = r.clock()
	r.done = done
	r.state = domain.RecordingActive
	r.starting = true
	r.mu.Unlock()

	err = rec.Start(r.cfg.Timeslice)

	r.mu.Lock()
	r.starting = false
	failed := r.generation != gen || r.state != domain.RecordingActive
	r.mu.Unlock()

	if err != nil {
		res := r.complete(gen, err, false)
		if res.err != nil && !IsStale(res.err) {
			return res.err
		}
		failed = true
	}
	if failed {
		// The recorder failed while starting; its result is the caller's.
		select {
		case res := <-done:
			if res.err != nil {
				tracing.RecordError(ctx, res.err)
				return res.err
			}
		default:
		}
		return domain.NewUnknownError("recorder failed to start", err)
	}

	r.logger.Infow("recording started",
		"room", r.room,
		"session_id", session.ID(),
		"mime_type", format.MimeType,
		"tracks", len(clones),
	)
	return nil
}

// Stop asks the recorder to flush and waits for the artifact. If the
// recorder does not report completion within the finalize timeout, the
// chunks gathered so far are assembled into a partial artifact.
func (r *RecordingController) Stop(ctx context.Context) (*domain.Artifact, error) {
	r.mu.Lock()
	if r.state != domain.RecordingActive {
		state := r.state
		r.mu.Unlock()
		return nil, &domain.TransitionError{Machine: "recording", State: string(state), Event: "stop"}
	}
	r.state = domain.RecordingFinalizing
	gen := r.generation
	rec := r.recorder
	done := r.done
	r.mu.Unlock()

	ctx, span := tracing.TraceRecording(ctx, "finalize", string(r.room))
	defer span.End()

	if err := rec.Stop(); err != nil {
		r.complete(gen, err, false)
	}

	timeout := r.cfg.FinalizeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res recordingResult
	select {
	case res = <-done:
	case <-timer.C:
		r.logger.Warnw("recorder did not finish in time, assembling partial artifact", "room", r.room)
		r.complete(gen, domain.ErrRecordingTimedOut, false)
		res = <-done
	case <-ctx.Done():
		r.complete(gen, ctx.Err(), false)
		res = <-done
	}

	if res.err != nil {
		tracing.RecordError(ctx, res.err)
	}
	return res.artifact, res.err
}

// Abandon drops an in-flight recording without assembling anything.
func (r *RecordingController) Abandon() {
	r.mu.Lock()
	if r.state == domain.RecordingIdle {
		r.mu.Unlock()
		return
	}
	r.generation++
	rec := r.recorder
	clones := handles(r.inputs)
	r.resetLocked()
	r.mu.Unlock()

	if rec != nil {
		_ = rec.Stop()
	}
	stopTracks(clones)
}

// Follow keeps an active recording on session's current composition. An
// input whose handle was replaced is switched to a clone of the replacement
// and its old clone stopped; an input whose handle is gone has its clone
// stopped and goes silent. Tracks that joined after Start are not added. If
// the recorder cannot switch, or session is nil, the recording ends and the
// chunks so far are delivered as a partial artifact.
func (r *RecordingController) Follow(session *MediaSession) error {
	r.mu.Lock()
	if r.state != domain.RecordingActive {
		r.mu.Unlock()
		return nil
	}
	gen := r.generation
	rec := r.recorder
	inputs := append([]recordedInput(nil), r.inputs...)
	r.mu.Unlock()

	if session == nil {
		return r.complete(gen, domain.NewUnknownError("media session ended", nil), false).err
	}

	current := liveSlots(session)
	for i, in := range inputs {
		next := current[in.slot]
		if next == in.origin {
			continue
		}

		if next == nil {
			if err := r.commitInput(gen, i, recordedInput{slot: in.slot, clone: in.clone}); err != nil {
				return err
			}
			in.clone.Stop()
			r.logger.Debugw("recorded track ended, input silent", "slot", in.slot.String())
			continue
		}

		clone, err := next.Clone()
		if err == nil {
			if err = rec.ReplaceTrack(in.clone, clone); err != nil {
				clone.Stop()
			}
		}
		if err != nil {
			r.logger.Warnw("recorder could not follow the composed stream", "slot", in.slot.String(), "error", err)
			return r.complete(gen, err, false).err
		}
		if err := r.commitInput(gen, i, recordedInput{slot: in.slot, origin: next, clone: clone}); err != nil {
			clone.Stop()
			return err
		}
		in.clone.Stop()
		r.logger.Infow("recording switched input", "slot", in.slot.String(), "track", next.Label())
	}
	return nil
}

func (r *RecordingController) commitInput(gen uint64, i int, in recordedInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen || r.state != domain.RecordingActive {
		return domain.ErrStaleResult
	}
	r.inputs[i] = in
	return nil
}

func (r *RecordingController) appendChunk(gen uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		return
	}
	if r.state != domain.RecordingActive && r.state != domain.RecordingFinalizing {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	r.chunks = append(r.chunks, buf)
	r.size += int64(len(buf))
}

// complete moves generation gen to Idle exactly once. cause is the recorder
// failure, if any. async marks failures nobody is waiting on, which are
// reported through the failure callback instead.
func (r *RecordingController) complete(gen uint64, cause error, async bool) recordingResult {
	r.mu.Lock()
	if gen != r.generation || (r.state != domain.RecordingActive && r.state != domain.RecordingFinalizing) {
		r.mu.Unlock()
		return recordingResult{err: domain.ErrStaleResult}
	}
	waiting := r.state == domain.RecordingFinalizing
	starting := r.starting
	chunks := r.chunks
	clones := handles(r.inputs)
	rec := r.recorder
	format := r.format
	startedAt := r.startedAt
	sessionID := r.sessionID
	done := r.done
	onFailure, onArtifact := r.onFailure, r.onArtifact
	endedAt := r.clock()
	r.resetLocked()
	r.mu.Unlock()

	stopTracks(clones)
	if cause != nil && rec != nil {
		_ = rec.Stop()
	}

	var res recordingResult
	if len(chunks) == 0 {
		res.err = domain.NewDeviceError(domain.Unknown, domain.ErrNoDataRecorded.Message, cause)
	} else {
		res.artifact = &domain.Artifact{
			ArtifactInfo: domain.ArtifactInfo{
				Name:       domain.ArtifactName(r.room, startedAt, format.Extension()),
				RoomID:     r.room,
				SessionID:  sessionID,
				MimeType:   format.MimeType,
				Extension:  format.Extension(),
				StartedAt:  startedAt,
				Duration:   endedAt.Sub(startedAt),
				ChunkCount: len(chunks),
				Size:       totalSize(chunks),
				Partial:    cause != nil,
				CreatedAt:  endedAt,
			},
			Data: bytes.Join(chunks, nil),
		}
		if cause != nil {
			res.err = domain.NewUnknownError("recording ended early", cause)
		}
	}

	if res.artifact != nil {
		r.deliver(res.artifact)
		if onArtifact != nil {
			onArtifact(res.artifact.ArtifactInfo)
		}
	}

	switch {
	case res.err != nil && res.artifact != nil:
		r.metrics.RecordRecording("partial", &res.artifact.ArtifactInfo)
	case res.err != nil:
		r.metrics.RecordRecording("empty", nil)
	default:
		r.metrics.RecordRecording("success", &res.artifact.ArtifactInfo)
	}

	if res.err != nil {
		r.logger.Warnw("recording finished with error", "room", r.room, "chunks", len(chunks), "error", res.err)
	} else {
		r.logger.Infow("recording finalized",
			"room", r.room,
			"artifact", res.artifact.Name,
			"chunks", res.artifact.ChunkCount,
			"bytes", res.artifact.Size,
		)
	}

	if async && !waiting && !starting && res.err != nil && onFailure != nil {
		onFailure(domain.AsDeviceError(res.err))
	}
	if done != nil {
		done <- res
	}
	return res
}

func (r *RecordingController) deliver(artifact *domain.Artifact) {
	timeout := r.cfg.DeliverTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.sink.Deliver(ctx, artifact); err != nil {
		r.logger.Errorw("failed to deliver recording artifact", "artifact", artifact.Name, "error", err)
	}
}

func (r *RecordingController) abortStart(gen uint64, clones []ports.Track) {
	stopTracks(clones)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation == gen {
		r.resetLocked()
	}
}

func (r *RecordingController) resetLocked() {
	r.state = domain.RecordingIdle
	r.recorder = nil
	r.inputs = nil
	r.chunks = nil
	r.size = 0
	r.format = domain.Format{}
	r.startedAt = time.Time{}
	r.sessionID = ""
	r.done = nil
}

// cloneSlots clones the live tracks in slot order: video, microphone,
// source audio.
func cloneSlots(live map[trackSlot]ports.Track) ([]recordedInput, error) {
	inputs := make([]recordedInput, 0, len(live))
	for _, slot := range slotOrder {
		t, ok := live[slot]
		if !ok {
			continue
		}
		c, err := t.Clone()
		if err != nil {
			return inputs, err
		}
		inputs = append(inputs, recordedInput{slot: slot, origin: t, clone: c})
	}
	return inputs, nil
}

func handles(inputs []recordedInput) []ports.Track {
	out := make([]ports.Track, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, in.clone)
	}
	return out
}

func stopTracks(tracks []ports.Track) {
	for _, t := range tracks {
		t.Stop()
	}
}

func totalSize(chunks [][]byte) int64 {
	var n int64
	for _, c := range chunks {
		n += int64(len(c))
	}
	return n
}
