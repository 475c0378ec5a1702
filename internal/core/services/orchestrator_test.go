package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/platform/synthetic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var both = domain.CaptureRequest{WantVideo: true, WantAudio: true}

func TestOrchestrator_MountAcquiresBothDevices(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()

	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	state := rig.orchestrator.State()
	assert.True(t, state.Mounted)
	assert.True(t, state.VideoEnabled)
	assert.True(t, state.AudioEnabled)
	assert.Equal(t, domain.VideoSourceCamera, state.VideoSource)
	assert.NotEmpty(t, state.SessionID)

	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceMicrophone))
	assert.True(t, rig.platform.IndicatorLit(synthetic.SourceCamera))
}

func TestOrchestrator_AudioOnlyRequestMutesCamera(t *testing.T) {
	rig := newTestRig(t, "standup")

	require.NoError(t, rig.orchestrator.Mount(context.Background(), domain.CaptureRequest{WantAudio: true}))

	calls := rig.platform.UserMediaCalls()
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Video, "both kinds are requested broadly")
	assert.NotNil(t, calls[0].Audio)

	state := rig.orchestrator.State()
	assert.False(t, state.VideoEnabled)
	assert.True(t, state.AudioEnabled)
	assert.False(t, rig.platform.IndicatorLit(synthetic.SourceCamera))
}

func TestOrchestrator_ToggleVideoOffThenOn(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))
	assert.False(t, rig.orchestrator.State().VideoEnabled)
	assert.False(t, rig.platform.IndicatorLit(synthetic.SourceCamera))
	assert.LessOrEqual(t, rig.platform.LiveHandles(synthetic.SourceCamera), 1)

	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))
	state := rig.orchestrator.State()
	assert.True(t, state.VideoEnabled)
	assert.True(t, state.AudioEnabled)
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceMicrophone))
	assert.True(t, rig.platform.IndicatorLit(synthetic.SourceCamera))

	// Each toggle released the previous handles and waited the settle delay.
	assert.Equal(t, []time.Duration{
		DefaultCaptureConfig().SettleDelay,
		DefaultCaptureConfig().SettleDelay,
	}, rig.Sleeps())
}

func TestOrchestrator_ToggleAudioKeepsHandle(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	require.NoError(t, rig.orchestrator.ToggleAudio(ctx))
	assert.False(t, rig.orchestrator.State().AudioEnabled)
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceMicrophone))

	require.NoError(t, rig.orchestrator.ToggleAudio(ctx))
	assert.True(t, rig.orchestrator.State().AudioEnabled)
	assert.Len(t, rig.platform.UserMediaCalls(), 1)
}

func TestOrchestrator_ToggleBeforeMount(t *testing.T) {
	rig := newTestRig(t, "standup")

	err := rig.orchestrator.ToggleVideo(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoSession)
	assert.Empty(t, rig.events.Notices())
}

func TestOrchestrator_ShareWindowThenStopRestoresCamera(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.ToggleAudio(ctx))

	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindWindow, domain.DefaultShareOptions()))
	state := rig.orchestrator.State()
	assert.Equal(t, domain.ShareActive, state.ShareState)
	assert.Equal(t, domain.SourceKindWindow, state.ShareKind)
	assert.Equal(t, domain.VideoSourceScreen, state.VideoSource)
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceScreen))

	calls := rig.platform.DisplayMediaCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.DisplaySurfaceWindow, calls[0].Surface)

	require.NoError(t, rig.orchestrator.StopShare(ctx))
	state = rig.orchestrator.State()
	assert.Equal(t, domain.ShareIdle, state.ShareState)
	assert.Equal(t, domain.SourceKindNone, state.ShareKind)
	assert.Equal(t, domain.VideoSourceCamera, state.VideoSource)
	assert.True(t, state.VideoEnabled)
	assert.False(t, state.AudioEnabled, "audio flag is untouched by the share")
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceScreen))
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceSystemAudio))
}

func TestOrchestrator_PauseResumeKeepsTrackIdentity(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindScreen, domain.DefaultShareOptions()))

	before := rig.orchestrator.share.Snapshot().Track
	require.NotEmpty(t, before)

	require.NoError(t, rig.orchestrator.PauseShare(ctx))
	state := rig.orchestrator.State()
	assert.Equal(t, domain.SharePaused, state.ShareState)
	assert.True(t, state.SharePaused)
	assert.False(t, state.VideoEnabled)
	assert.False(t, rig.platform.IndicatorLit(synthetic.SourceScreen))
	assert.True(t, rig.platform.IndicatorLit(synthetic.SourceSystemAudio), "pause leaves source audio alone")

	require.NoError(t, rig.orchestrator.ResumeShare(ctx))
	assert.Equal(t, before, rig.orchestrator.share.Snapshot().Track)
	assert.Equal(t, domain.ShareActive, rig.orchestrator.State().ShareState)
	assert.True(t, rig.platform.IndicatorLit(synthetic.SourceScreen))
}

func TestOrchestrator_InvalidShareTransitionsAreNoOps(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	assert.NoError(t, rig.orchestrator.PauseShare(ctx))
	assert.NoError(t, rig.orchestrator.ResumeShare(ctx))
	assert.NoError(t, rig.orchestrator.StopShare(ctx))
	assert.Equal(t, domain.ShareIdle, rig.orchestrator.State().ShareState)

	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindScreen, domain.DefaultShareOptions()))
	assert.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindTab, domain.DefaultShareOptions()))
	assert.Len(t, rig.platform.DisplayMediaCalls(), 1)
	assert.Empty(t, rig.events.Notices())
}

func TestOrchestrator_TabShareUltraWithoutAudio(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	opts := domain.DefaultShareOptions()
	opts.Quality = domain.QualityUltra
	opts.IncludeAudio = false
	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindTab, opts))

	calls := rig.platform.DisplayMediaCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.DisplaySurfaceBrowser, calls[0].Surface)
	assert.Equal(t, 3840, calls[0].Width)
	assert.Equal(t, 2160, calls[0].Height)
	assert.False(t, calls[0].Audio)

	assert.Nil(t, rig.orchestrator.currentSession().SourceAudio())
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceSystemAudio))
}

func TestOrchestrator_ShareWithSourceAudio(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindTab, domain.DefaultShareOptions()))
	session := rig.orchestrator.currentSession()
	require.NotNil(t, session.SourceAudio())
	assert.NotNil(t, session.Audio(), "microphone stays next to source audio")
	assert.Len(t, session.Tracks(), 3)
}

func TestOrchestrator_PlatformEndedShareRestoresCamera(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindScreen, domain.DefaultShareOptions()))

	rig.platform.EndDisplayCapture()

	require.Eventually(t, func() bool {
		state := rig.orchestrator.State()
		return state.ShareState == domain.ShareIdle && state.VideoSource == domain.VideoSourceCamera
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Empty(t, rig.events.Notices(), "a platform-ended share is not an error")
}

func TestOrchestrator_ToggleVideoDuringShareAppliesOnRestore(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindScreen, domain.DefaultShareOptions()))
	callsBefore := len(rig.platform.UserMediaCalls())

	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))
	assert.Equal(t, domain.VideoSourceScreen, rig.orchestrator.State().VideoSource)
	assert.Len(t, rig.platform.UserMediaCalls(), callsBefore)

	require.NoError(t, rig.orchestrator.StopShare(ctx))
	state := rig.orchestrator.State()
	assert.Equal(t, domain.VideoSourceCamera, state.VideoSource)
	assert.False(t, state.VideoEnabled)
	assert.False(t, rig.platform.IndicatorLit(synthetic.SourceCamera))
}

func TestOrchestrator_CameraRestoreFailureKeepsAudio(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindScreen, domain.DefaultShareOptions()))

	rig.platform.FailUserMedia(domain.NewDeviceError(domain.PermissionDenied, "camera revoked", nil))
	err := rig.orchestrator.StopShare(ctx)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	state := rig.orchestrator.State()
	assert.Equal(t, domain.ShareIdle, state.ShareState)
	assert.Equal(t, domain.VideoSourceNone, state.VideoSource)
	assert.True(t, state.AudioEnabled)
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "stop_share", state.Notices[0].Operation)
}

func TestOrchestrator_PermissionDeniedRaisesNotice(t *testing.T) {
	rig := newTestRig(t, "standup")
	rig.platform.FailUserMedia(domain.NewDeviceError(domain.PermissionDenied, "user dismissed the prompt", nil))

	err := rig.orchestrator.Mount(context.Background(), both)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	state := rig.orchestrator.State()
	assert.True(t, state.Mounted)
	assert.Empty(t, state.SessionID)
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "permission_denied", state.Notices[0].Kind)
	assert.Equal(t, "mount", state.Notices[0].Operation)
	assert.Len(t, rig.events.Notices(), 1)

	assert.True(t, rig.orchestrator.DismissNotice(state.Notices[0].ID))
	assert.Empty(t, rig.orchestrator.State().Notices)
	assert.False(t, rig.orchestrator.DismissNotice(state.Notices[0].ID))
}

func TestOrchestrator_DeviceInUseIsRetried(t *testing.T) {
	rig := newTestRig(t, "standup")
	inUse := domain.NewDeviceError(domain.DeviceInUse, "camera busy", nil)
	rig.platform.FailUserMedia(inUse, inUse)

	require.NoError(t, rig.orchestrator.Mount(context.Background(), both))
	assert.Len(t, rig.platform.UserMediaCalls(), 3)
	assert.Empty(t, rig.orchestrator.State().Notices)
}

func TestOrchestrator_NoCameraFallsBackToWantedKinds(t *testing.T) {
	rig := newTestRig(t, "standup")
	rig.platform.RemoveDevices(domain.DeviceKindVideoInput)

	require.NoError(t, rig.orchestrator.Mount(context.Background(), domain.CaptureRequest{WantAudio: true}))

	calls := rig.platform.UserMediaCalls()
	require.Len(t, calls, 2)
	assert.NotNil(t, calls[0].Video)
	assert.Nil(t, calls[1].Video)
	assert.NotNil(t, calls[1].Audio)
	assert.True(t, rig.orchestrator.State().AudioEnabled)
}

func TestOrchestrator_ToggleVideoWithoutCameraKeepsMicrophone(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, domain.CaptureRequest{WantAudio: true}))
	rig.platform.RemoveDevices(domain.DeviceKindVideoInput)

	err := rig.orchestrator.ToggleVideo(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)

	state := rig.orchestrator.State()
	assert.NotEmpty(t, state.SessionID)
	assert.False(t, state.VideoEnabled)
	assert.True(t, state.AudioEnabled)
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceMicrophone))
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "toggle_video", state.Notices[0].Operation)

	calls := rig.platform.UserMediaCalls()
	last := calls[len(calls)-1]
	assert.Nil(t, last.Video)
	assert.NotNil(t, last.Audio)
}

func TestOrchestrator_ToggleVideoCameraBusyKeepsMicrophone(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))
	require.NoError(t, rig.orchestrator.ToggleAudio(ctx))

	inUse := domain.NewDeviceError(domain.DeviceInUse, "camera busy", nil)
	rig.platform.FailUserMedia(inUse, inUse, inUse, inUse)

	err := rig.orchestrator.ToggleVideo(ctx)
	assert.ErrorIs(t, err, domain.ErrDeviceInUse)

	state := rig.orchestrator.State()
	assert.NotEmpty(t, state.SessionID)
	assert.False(t, state.VideoEnabled)
	assert.False(t, state.AudioEnabled, "mute survives the fallback")
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceMicrophone))
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceCamera))
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "device_in_use", state.Notices[0].Kind)

	// The preference was reset, so the next toggle asks for the camera again.
	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))
	assert.True(t, rig.orchestrator.State().VideoEnabled)
}

func TestOrchestrator_CloseDuringPendingPrompt(t *testing.T) {
	rig := newTestRig(t, "standup")
	rig.platform.HoldPrompts()

	done := make(chan error, 1)
	go func() {
		done <- rig.orchestrator.Mount(context.Background(), both)
	}()
	require.Eventually(t, func() bool {
		return len(rig.platform.UserMediaCalls()) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, rig.orchestrator.Close(context.Background()))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mount did not return after close")
	}
	rig.platform.ReleasePrompts()

	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceMicrophone))
	assert.ErrorIs(t, rig.orchestrator.ToggleVideo(context.Background()), domain.ErrSessionClosed)
	assert.False(t, rig.orchestrator.State().Mounted)
}

func TestOrchestrator_CloseReleasesEverything(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindTab, domain.DefaultShareOptions()))
	require.NoError(t, rig.orchestrator.StartRecording(ctx))
	rig.recorders.Last().Emit([]byte("chunk"))

	require.NoError(t, rig.orchestrator.Close(ctx))
	require.NoError(t, rig.orchestrator.Close(ctx))

	for _, src := range []synthetic.Source{
		synthetic.SourceCamera, synthetic.SourceMicrophone, synthetic.SourceScreen, synthetic.SourceSystemAudio,
	} {
		assert.Equal(t, 0, rig.platform.LiveHandles(src), string(src))
	}
	rig.sink.AssertNumberOfCalls(t, "Deliver", 1)
	assert.Len(t, rig.events.Artifacts(), 1)
}

func TestOrchestrator_RecordingArtifactName(t *testing.T) {
	rig := newTestRig(t, "AB12CD")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	start := rig.clock.Now()

	require.NoError(t, rig.orchestrator.StartRecording(ctx))
	assert.Equal(t, domain.RecordingActive, rig.orchestrator.State().RecordingState)
	assert.Equal(t, "video/webm;codecs=vp9,opus", rig.orchestrator.State().RecordingFormat)

	rec := rig.recorders.Last()
	require.NotNil(t, rec)
	assert.Equal(t, time.Second, rec.Timeslice())
	for i := 0; i < 5; i++ {
		rig.clock.Advance(time.Second)
		rec.Emit([]byte{byte('a' + i)})
	}

	artifact, err := rig.orchestrator.StopRecording(ctx)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Contains(t, artifact.Name, "AB12CD")
	assert.Contains(t, artifact.Name, start.UTC().Format("2006-01-02T15-04-05"))
	assert.True(t, strings.HasSuffix(artifact.Name, ".webm"))
	assert.Equal(t, []byte("abcde"), artifact.Data)
	assert.Equal(t, 5, artifact.ChunkCount)
	assert.Equal(t, 5*time.Second, artifact.Duration)
	assert.False(t, artifact.Partial)
	assert.Equal(t, domain.RecordingIdle, rig.orchestrator.State().RecordingState)

	rig.sink.AssertCalled(t, "Deliver", mock.Anything, artifact)
	require.Len(t, rig.events.Artifacts(), 1)
	assert.Equal(t, artifact.Name, rig.events.Artifacts()[0].Name)
}

func TestOrchestrator_RecordingDoesNotStopSessionTracks(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	require.NoError(t, rig.orchestrator.StartRecording(ctx))
	assert.Equal(t, 2, rig.platform.LiveHandles(synthetic.SourceCamera), "recorder holds a clone")
	rig.recorders.Last().Emit([]byte("x"))

	_, err := rig.orchestrator.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.True(t, rig.orchestrator.State().VideoEnabled)
}

func TestOrchestrator_RecorderFailsBeforeData(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	rig.recorders.FailOnStart(errors.New("encoder crashed"))

	err := rig.orchestrator.StartRecording(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoDataRecorded)

	state := rig.orchestrator.State()
	assert.Equal(t, domain.RecordingIdle, state.RecordingState)
	assert.False(t, state.Recording)
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "unknown", state.Notices[0].Kind)
	assert.Equal(t, "no data recorded", state.Notices[0].Message)
	rig.sink.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceCamera), "clones are released")
}

func recordedSources(t *testing.T, rec *synthetic.Recorder) []synthetic.Source {
	t.Helper()
	var out []synthetic.Source
	for _, track := range rec.Tracks() {
		st, ok := track.(*synthetic.Track)
		require.True(t, ok)
		require.True(t, st.Live(), "recorded handle %s is live", st.Label())
		out = append(out, st.Source())
	}
	return out
}

func TestOrchestrator_ToggleVideoDuringRecordingFollowsCamera(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartRecording(ctx))
	rec := rig.recorders.Last()
	rec.Emit([]byte("before"))

	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))
	assert.False(t, rig.platform.IndicatorLit(synthetic.SourceCamera), "camera goes dark while recording")
	assert.Equal(t, 2, rig.platform.LiveHandles(synthetic.SourceMicrophone))
	assert.Equal(t, domain.RecordingActive, rig.orchestrator.State().RecordingState)
	assert.Equal(t, []synthetic.Source{synthetic.SourceCamera, synthetic.SourceMicrophone}, recordedSources(t, rec))
	assert.False(t, rec.Tracks()[0].Enabled())

	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))
	assert.True(t, rig.platform.IndicatorLit(synthetic.SourceCamera))
	assert.True(t, rec.Tracks()[0].Enabled())
	rec.Emit([]byte("after"))

	artifact, err := rig.orchestrator.StopRecording(ctx)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, 2, artifact.ChunkCount)
	assert.False(t, artifact.Partial)
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceMicrophone))
}

func TestOrchestrator_ShareDuringRecordingFollowsScreen(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartRecording(ctx))
	rec := rig.recorders.Last()

	require.NoError(t, rig.orchestrator.StartShare(ctx, domain.SourceKindWindow, domain.DefaultShareOptions()))
	assert.Equal(t, []synthetic.Source{synthetic.SourceScreen, synthetic.SourceMicrophone}, recordedSources(t, rec))
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.False(t, rig.platform.IndicatorLit(synthetic.SourceCamera))

	require.NoError(t, rig.orchestrator.StopShare(ctx))
	assert.Equal(t, []synthetic.Source{synthetic.SourceCamera, synthetic.SourceMicrophone}, recordedSources(t, rec))
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceScreen))
	assert.Equal(t, 2, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, domain.RecordingActive, rig.orchestrator.State().RecordingState)
	assert.Empty(t, rig.orchestrator.State().Notices)
}

func TestOrchestrator_RecordingEndsWhenInputCannotSwitch(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	rig.recorders.FailReplace(errors.New("encoder reconfigure failed"))
	require.NoError(t, rig.orchestrator.StartRecording(ctx))
	rig.recorders.Last().Emit([]byte("partial"))

	require.NoError(t, rig.orchestrator.ToggleVideo(ctx))

	state := rig.orchestrator.State()
	assert.Equal(t, domain.RecordingIdle, state.RecordingState)
	assert.True(t, state.Mounted)
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "recording", state.Notices[0].Operation)

	artifacts := rig.events.Artifacts()
	require.Len(t, artifacts, 1)
	assert.True(t, artifacts[0].Partial)
	assert.False(t, rig.platform.IndicatorLit(synthetic.SourceCamera))
	assert.Equal(t, 1, rig.platform.LiveHandles(synthetic.SourceMicrophone))
}

func TestOrchestrator_RecordingEndsWhenSessionIsLost(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartRecording(ctx))
	rig.recorders.Last().Emit([]byte("partial"))

	denied := domain.NewDeviceError(domain.PermissionDenied, "revoked", nil)
	rig.platform.FailUserMedia(denied, denied)
	err := rig.orchestrator.ToggleVideo(ctx)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	state := rig.orchestrator.State()
	assert.Empty(t, state.SessionID)
	assert.Equal(t, domain.RecordingIdle, state.RecordingState)
	require.Len(t, rig.events.Artifacts(), 1)
	assert.True(t, rig.events.Artifacts()[0].Partial)
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceCamera))
	assert.Equal(t, 0, rig.platform.LiveHandles(synthetic.SourceMicrophone))
}

func TestOrchestrator_RecorderErrorMidRecordingDeliversPartial(t *testing.T) {
	rig := newTestRig(t, "standup")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))
	require.NoError(t, rig.orchestrator.StartRecording(ctx))

	rec := rig.recorders.Last()
	rec.Emit([]byte("one"))
	rec.Emit([]byte("two"))
	rec.Fail(errors.New("disk full"))

	state := rig.orchestrator.State()
	assert.Equal(t, domain.RecordingIdle, state.RecordingState)
	assert.True(t, state.Mounted, "recorder errors never end the session")
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "recording", state.Notices[0].Operation)

	artifacts := rig.events.Artifacts()
	require.Len(t, artifacts, 1)
	assert.True(t, artifacts[0].Partial)
	assert.Equal(t, int64(6), artifacts[0].Size)

	// Stop after the failure is a no-op.
	artifact, err := rig.orchestrator.StopRecording(ctx)
	assert.NoError(t, err)
	assert.Nil(t, artifact)
}

func TestOrchestrator_UnsupportedFormat(t *testing.T) {
	rig := newTestRig(t, "standup")
	rig.orchestrator.recording.factory = synthetic.NewRecorderFactory("video/x-unknown")
	ctx := context.Background()
	require.NoError(t, rig.orchestrator.Mount(ctx, both))

	err := rig.orchestrator.StartRecording(ctx)
	assert.ErrorIs(t, err, domain.ErrFormatUnsupported)
	state := rig.orchestrator.State()
	assert.Equal(t, domain.RecordingIdle, state.RecordingState)
	require.Len(t, state.Notices, 1)
	assert.Equal(t, "format_unsupported", state.Notices[0].Kind)
}

func TestOrchestrator_ObserversSeeStateChanges(t *testing.T) {
	rig := newTestRig(t, "standup")
	require.NoError(t, rig.orchestrator.Mount(context.Background(), both))

	rig.events.mu.Lock()
	defer rig.events.mu.Unlock()
	require.GreaterOrEqual(t, len(rig.events.states), 2)
	assert.False(t, rig.events.states[0].Mounted)
	assert.True(t, rig.events.states[len(rig.events.states)-1].Mounted)
}
