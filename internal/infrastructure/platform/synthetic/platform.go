// Package synthetic is an in-process capture platform. It counts handles per
// device so callers can check which hardware indicators would be lit, and
// lets tests script permission prompts and device failures.
package synthetic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a Platform.
type Option func(*Platform)

func WithDevices(devices ...domain.DeviceInfo) Option {
	return func(p *Platform) {
		p.devices = append([]domain.DeviceInfo(nil), devices...)
	}
}

// WithDisplayAudio controls whether display captures can carry system audio.
func WithDisplayAudio(enabled bool) Option {
	return func(p *Platform) { p.displayAudio = enabled }
}

func WithFrameInterval(video, audio time.Duration) Option {
	return func(p *Platform) {
		p.videoInterval = video
		p.audioInterval = audio
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Platform) { p.logger = logger }
}

// DefaultDevices is one camera, one microphone and one speaker.
func DefaultDevices() []domain.DeviceInfo {
	return []domain.DeviceInfo{
		{DeviceID: "cam-0", Kind: domain.DeviceKindVideoInput, Label: "Synthetic Camera"},
		{DeviceID: "mic-0", Kind: domain.DeviceKindAudioInput, Label: "Synthetic Microphone"},
		{DeviceID: "spk-0", Kind: domain.DeviceKindAudioOutput, Label: "Synthetic Speaker"},
	}
}

// Platform implements ports.MediaDevices.
type Platform struct {
	mu            sync.Mutex
	devices       []domain.DeviceInfo
	handles       map[domain.TrackID]*Track
	userErrs      []error
	displayErrs   []error
	gate          chan struct{}
	displayAudio  bool
	videoInterval time.Duration
	audioInterval time.Duration

	userCalls    []domain.UserMediaConstraints
	displayCalls []domain.DisplayMediaConstraints

	logger *zap.SugaredLogger
}

var _ ports.MediaDevices = (*Platform)(nil)

func New(opts ...Option) *Platform {
	p := &Platform{
		devices:       DefaultDevices(),
		handles:       make(map[domain.TrackID]*Track),
		displayAudio:  true,
		videoInterval: 33 * time.Millisecond,
		audioInterval: 20 * time.Millisecond,
		logger:        zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FailUserMedia queues errors returned by the next GetUserMedia calls, one
// per call.
func (p *Platform) FailUserMedia(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userErrs = append(p.userErrs, errs...)
}

func (p *Platform) FailDisplayMedia(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayErrs = append(p.displayErrs, errs...)
}

// HoldPrompts makes every capture request block until ReleasePrompts, like a
// permission prompt nobody answers.
func (p *Platform) HoldPrompts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate == nil {
		p.gate = make(chan struct{})
	}
}

func (p *Platform) ReleasePrompts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

func (p *Platform) RemoveDevices(kind domain.DeviceKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.devices[:0]
	for _, d := range p.devices {
		if d.Kind != kind {
			kept = append(kept, d)
		}
	}
	p.devices = kept
}

func (p *Platform) GetUserMedia(ctx context.Context, constraints domain.UserMediaConstraints) ([]ports.Track, error) {
	p.mu.Lock()
	p.userCalls = append(p.userCalls, constraints)
	gate := p.gate
	p.mu.Unlock()

	if err := p.wait(ctx, gate); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if len(p.userErrs) > 0 {
		err := p.userErrs[0]
		p.userErrs = p.userErrs[1:]
		p.mu.Unlock()
		return nil, err
	}

	var camera, mic *domain.DeviceInfo
	if constraints.Video != nil {
		camera = p.findLocked(domain.DeviceKindVideoInput, constraints.Video.DeviceID)
		if camera == nil {
			p.mu.Unlock()
			return nil, domain.NewDeviceError(domain.DeviceNotFound, "no camera matches the request", nil)
		}
	}
	if constraints.Audio != nil {
		mic = p.findLocked(domain.DeviceKindAudioInput, constraints.Audio.DeviceID)
		if mic == nil {
			p.mu.Unlock()
			return nil, domain.NewDeviceError(domain.DeviceNotFound, "no microphone matches the request", nil)
		}
	}
	p.mu.Unlock()

	var tracks []ports.Track
	if camera != nil {
		tracks = append(tracks, p.open(domain.TrackKindVideo, SourceCamera, camera.Label, camera.DeviceID))
	}
	if mic != nil {
		tracks = append(tracks, p.open(domain.TrackKindAudio, SourceMicrophone, mic.Label, mic.DeviceID))
	}
	return tracks, nil
}

func (p *Platform) GetDisplayMedia(ctx context.Context, constraints domain.DisplayMediaConstraints) ([]ports.Track, error) {
	p.mu.Lock()
	p.displayCalls = append(p.displayCalls, constraints)
	gate := p.gate
	p.mu.Unlock()

	if err := p.wait(ctx, gate); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if len(p.displayErrs) > 0 {
		err := p.displayErrs[0]
		p.displayErrs = p.displayErrs[1:]
		p.mu.Unlock()
		return nil, err
	}
	withAudio := constraints.Audio && p.displayAudio
	p.mu.Unlock()

	label := fmt.Sprintf("%s %dx%d@%d", constraints.Surface, constraints.Width, constraints.Height, constraints.FrameRate)
	tracks := []ports.Track{p.open(domain.TrackKindVideo, SourceScreen, label, string(constraints.Surface))}
	if withAudio {
		tracks = append(tracks, p.open(domain.TrackKindAudio, SourceSystemAudio, "System Audio", string(constraints.Surface)))
	}
	return tracks, nil
}

func (p *Platform) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DeviceInfo(nil), p.devices...), nil
}

// EndDisplayCapture simulates the user ending every screen share from the
// OS chrome.
func (p *Platform) EndDisplayCapture() {
	for _, t := range p.liveTracks(SourceScreen) {
		t.end()
	}
	for _, t := range p.liveTracks(SourceSystemAudio) {
		t.end()
	}
}

// LiveHandles counts open handles on source.
func (p *Platform) LiveHandles(source Source) int {
	return len(p.liveTracks(source))
}

// IndicatorLit reports whether any open handle on source is enabled.
func (p *Platform) IndicatorLit(source Source) bool {
	for _, t := range p.liveTracks(source) {
		if t.Enabled() {
			return true
		}
	}
	return false
}

// UserMediaCalls returns every getUserMedia request seen so far.
func (p *Platform) UserMediaCalls() []domain.UserMediaConstraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.UserMediaConstraints(nil), p.userCalls...)
}

func (p *Platform) DisplayMediaCalls() []domain.DisplayMediaConstraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DisplayMediaConstraints(nil), p.displayCalls...)
}

func (p *Platform) open(kind domain.TrackKind, source Source, label, deviceID string) *Track {
	interval := p.videoInterval
	if kind == domain.TrackKindAudio {
		interval = p.audioInterval
	}
	t := &Track{
		id:       domain.TrackID(uuid.New().String()),
		kind:     kind,
		label:    label,
		source:   source,
		deviceID: deviceID,
		platform: p,
		enabled:  true,
		live:     true,
		interval: interval,
	}

	p.mu.Lock()
	p.handles[t.id] = t
	p.mu.Unlock()

	p.logger.Debugw("synthetic handle opened", "track_id", t.id, "source", source)
	return t
}

func (p *Platform) release(t *Track) {
	p.mu.Lock()
	delete(p.handles, t.id)
	p.mu.Unlock()
	p.logger.Debugw("synthetic handle closed", "track_id", t.id, "source", t.source)
}

func (p *Platform) liveTracks(source Source) []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Track
	for _, t := range p.handles {
		if t.source == source {
			out = append(out, t)
		}
	}
	return out
}

func (p *Platform) findLocked(kind domain.DeviceKind, id string) *domain.DeviceInfo {
	for i := range p.devices {
		d := p.devices[i]
		if d.Kind != kind {
			continue
		}
		if id == "" || d.DeviceID == id {
			return &d
		}
	}
	return nil
}

func (p *Platform) wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return ctx.Err()
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
