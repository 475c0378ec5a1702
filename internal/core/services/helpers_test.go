package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/platform/synthetic"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

type MockArtifactSink struct {
	mock.Mock
}

func (m *MockArtifactSink) Deliver(ctx context.Context, artifact *domain.Artifact) error {
	args := m.Called(ctx, artifact)
	return args.Error(0)
}

type MockPreviewSink struct {
	mock.Mock
}

func (m *MockPreviewSink) Bind(stream domain.StreamDescription) {
	m.Called(stream)
}

// eventLog is a SessionObserver that keeps everything it is told.
type eventLog struct {
	mu        sync.Mutex
	states    []domain.SessionState
	notices   []domain.Notice
	artifacts []domain.ArtifactInfo
}

func (l *eventLog) OnStateChange(state domain.SessionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *eventLog) OnNotice(notice domain.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, notice)
}

func (l *eventLog) OnArtifact(info domain.ArtifactInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.artifacts = append(l.artifacts, info)
}

func (l *eventLog) Notices() []domain.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Notice(nil), l.notices...)
}

func (l *eventLog) Artifacts() []domain.ArtifactInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ArtifactInfo(nil), l.artifacts...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testRig struct {
	orchestrator *SessionOrchestrator
	platform     *synthetic.Platform
	recorders    *synthetic.RecorderFactory
	sink         *MockArtifactSink
	events       *eventLog
	clock        *fakeClock

	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *testRig) Sleeps() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func testConfig(room domain.RoomID) OrchestratorConfig {
	cfg := DefaultOrchestratorConfig(room)
	cfg.Capture.InUseRetry.InitialDelay = time.Millisecond
	cfg.Capture.InUseRetry.MaxDelay = 5 * time.Millisecond
	cfg.Capture.PermissionTimeout = 2 * time.Second
	cfg.Recording.FinalizeTimeout = 200 * time.Millisecond
	return cfg
}

func newTestRig(t *testing.T, room domain.RoomID, opts ...synthetic.Option) *testRig {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	platform := synthetic.New(append([]synthetic.Option{synthetic.WithLogger(logger)}, opts...)...)
	recorders := synthetic.NewRecorderFactory("video/webm;codecs=vp9,opus", "video/webm")
	sink := &MockArtifactSink{}
	sink.On("Deliver", mock.Anything, mock.AnythingOfType("*domain.Artifact")).Return(nil).Maybe()
	events := &eventLog{}

	o := NewSessionOrchestrator(testConfig(room), Dependencies{
		Devices:   platform,
		Recorders: recorders,
		Artifacts: sink,
		Observers: nil,
	}, logger)
	o.Subscribe(events)

	rig := &testRig{
		orchestrator: o,
		platform:     platform,
		recorders:    recorders,
		sink:         sink,
		events:       events,
		clock:        newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
	}
	o.capture.sleep = func(ctx context.Context, d time.Duration) error {
		rig.mu.Lock()
		rig.sleeps = append(rig.sleeps, d)
		rig.mu.Unlock()
		return ctx.Err()
	}
	o.recording.clock = rig.clock.Now
	o.now = rig.clock.Now

	t.Cleanup(func() {
		_ = o.Close(context.Background())
	})
	return rig
}
