package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("acquire: %w", NewDeviceError(PermissionDenied, "user said no", nil))

	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NotErrorIs(t, err, ErrDeviceInUse)

	de := AsDeviceError(err)
	require.NotNil(t, de)
	assert.Equal(t, "user said no", de.Message)
}

func TestDeviceError_UnknownMatchesMessage(t *testing.T) {
	noData := NewDeviceError(Unknown, "no data recorded", errors.New("encoder crashed"))
	other := NewUnknownError("recorder failed", nil)

	assert.ErrorIs(t, noData, ErrNoDataRecorded)
	assert.NotErrorIs(t, other, ErrNoDataRecorded)
	assert.Equal(t, "unknown: no data recorded: encoder crashed", noData.Error())
}

func TestAsDeviceError_WrapsForeignErrors(t *testing.T) {
	assert.Nil(t, AsDeviceError(nil))

	de := AsDeviceError(errors.New("boom"))
	assert.Equal(t, Unknown, de.Kind)
	assert.Equal(t, "boom", de.Message)
}

func TestTransitionError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &TransitionError{Machine: "screen_share", State: "idle", Event: "pause"})
	assert.True(t, IsRejectedTransition(err))
	assert.False(t, IsRejectedTransition(ErrDeviceInUse))
	assert.Contains(t, err.Error(), "pause not allowed in state idle")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in        string
		container string
		codecs    []string
		ext       string
		wantErr   bool
	}{
		{in: "video/webm;codecs=vp9,opus", container: "webm", codecs: []string{"vp9", "opus"}, ext: "webm"},
		{in: `video/mp4; codecs="avc1, mp4a"`, container: "mp4", codecs: []string{"avc1", "mp4a"}, ext: "mp4"},
		{in: "video/x-matroska", container: "x-matroska", ext: "mkv"},
		{in: "audio/ogg;codecs=opus", container: "ogg", codecs: []string{"opus"}, ext: "ogg"},
		{in: "text/plain", wantErr: true},
		{in: "video", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.container, f.Container)
			assert.Equal(t, tt.codecs, f.Codecs)
			assert.Equal(t, tt.ext, f.Extension())
		})
	}
}

func TestFormat_BaseType(t *testing.T) {
	f, err := ParseFormat("video/webm;codecs=vp8,opus")
	require.NoError(t, err)
	assert.Equal(t, "video/webm", f.BaseType())
}

func TestArtifactName(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 123_000_000, time.FixedZone("CET", 3600))
	assert.Equal(t, "video-call-AB12CD-2024-03-01T09-00-00.123Z.webm", ArtifactName("AB12CD", start, "webm"))
}

func TestShareOptions_Normalize(t *testing.T) {
	opts := ShareOptions{FrameRate: 500}.Normalize()
	assert.Equal(t, QualityHigh, opts.Quality)
	assert.Equal(t, MaxShareFrameRate, opts.FrameRate)
	assert.Equal(t, CursorMotion, opts.Cursor)
	assert.Equal(t, OptimizeAuto, opts.Optimization)
	assert.NoError(t, opts.Validate())

	assert.Equal(t, MinShareFrameRate, ShareOptions{FrameRate: 1}.Normalize().FrameRate)
	assert.Equal(t, DefaultShareFrameRate, ShareOptions{}.Normalize().FrameRate)

	bad := DefaultShareOptions()
	bad.Quality = "extreme"
	assert.Error(t, bad.Validate())
}

func TestShareOptions_DisplayConstraints(t *testing.T) {
	opts := DefaultShareOptions()
	opts.Quality = QualityUltra
	opts.IncludeAudio = false
	opts.Optimization = OptimizeText

	c := opts.DisplayConstraints(SourceKindTab)
	assert.Equal(t, DisplaySurfaceBrowser, c.Surface)
	assert.Equal(t, 3840, c.Width)
	assert.Equal(t, 2160, c.Height)
	assert.Equal(t, DefaultShareFrameRate, c.FrameRate)
	assert.Equal(t, "text", c.ContentHint)
	assert.False(t, c.Audio)
}

func TestQualityTier_Targets(t *testing.T) {
	assert.Equal(t, Resolution{Width: 1280, Height: 720, BitrateBps: 500_000}, QualityLow.Target())
	assert.Equal(t, 1920, QualityHigh.Target().Width)
	assert.Equal(t, QualityLow.Target(), QualityTier("bogus").Target())
	assert.False(t, QualityTier("bogus").Valid())
}

func TestParseSourceKind(t *testing.T) {
	for _, s := range []string{"screen", "window", "tab"} {
		k, err := ParseSourceKind(s)
		require.NoError(t, err)
		assert.Equal(t, SourceKind(s), k)
	}
	_, err := ParseSourceKind("desktop")
	assert.Error(t, err)
	assert.Equal(t, DisplaySurfaceMonitor, SourceKindScreen.Surface())
	assert.Equal(t, DisplaySurfaceWindow, SourceKindWindow.Surface())
}
