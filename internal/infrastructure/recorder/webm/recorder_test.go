package webm

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/platform/synthetic"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

type collector struct {
	mu      sync.Mutex
	chunks  [][]byte
	errs    []error
	stopped chan struct{}
}

func newCollector(r ports.Recorder) *collector {
	c := &collector{stopped: make(chan struct{})}
	r.OnData(func(chunk []byte) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.chunks = append(c.chunks, chunk)
	})
	r.OnError(func(err error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.errs = append(c.errs, err)
	})
	r.OnStop(func() { close(c.stopped) })
	return c
}

func (c *collector) data() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.chunks, nil)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

func (c *collector) errorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func cameraAndMic(t *testing.T) (*synthetic.Platform, []ports.Track) {
	t.Helper()
	platform := synthetic.New(synthetic.WithFrameInterval(2*time.Millisecond, 2*time.Millisecond))
	tracks, err := platform.GetUserMedia(context.Background(), domain.UserMediaConstraints{
		Video: &domain.VideoConstraints{}, Audio: &domain.AudioConstraints{},
	})
	require.NoError(t, err)
	return platform, tracks
}

func TestFactory_IsTypeSupported(t *testing.T) {
	f := NewFactory(DefaultConfig(), zaptest.NewLogger(t).Sugar())

	tests := []struct {
		mime string
		want bool
	}{
		{"video/webm;codecs=vp8,opus", true},
		{"video/webm;codecs=vp8", true},
		{"video/webm", true},
		{"video/webm;codecs=vp9,opus", false},
		{"video/mp4;codecs=avc1,mp4a", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.IsTypeSupported(tt.mime), tt.mime)
	}
}

func TestFactory_NewRecorderRejectsUnsupported(t *testing.T) {
	f := NewFactory(DefaultConfig(), zaptest.NewLogger(t).Sugar())
	_, tracks := cameraAndMic(t)

	_, err := f.NewRecorder(tracks, "video/mp4")
	assert.ErrorIs(t, err, domain.ErrFormatUnsupported)

	_, err = f.NewRecorder(nil, "video/webm")
	assert.Error(t, err)
}

func TestRecorder_ProducesWebMInTimeslices(t *testing.T) {
	f := NewFactory(DefaultConfig(), zaptest.NewLogger(t).Sugar())
	_, tracks := cameraAndMic(t)

	rec, err := f.NewRecorder(tracks, "video/webm;codecs=vp8,opus")
	require.NoError(t, err)
	c := newCollector(rec)

	require.NoError(t, rec.Start(10*time.Millisecond))
	assert.Error(t, rec.Start(10*time.Millisecond))

	require.Eventually(t, func() bool { return c.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())

	select {
	case <-c.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder never reported stop")
	}

	data := c.data()
	require.True(t, bytes.HasPrefix(data, ebmlMagic), "output starts with an EBML header")
	assert.True(t, bytes.Contains(data, []byte("webm")))
	assert.True(t, bytes.Contains(data, []byte("V_VP8")))
	assert.True(t, bytes.Contains(data, []byte("A_OPUS")))
	assert.Zero(t, c.errorCount())
}

func TestRecorder_ReplaceTrackKeepsRecording(t *testing.T) {
	f := NewFactory(DefaultConfig(), zaptest.NewLogger(t).Sugar())
	platform, tracks := cameraAndMic(t)

	rec, err := f.NewRecorder(tracks, "video/webm;codecs=vp8,opus")
	require.NoError(t, err)
	c := newCollector(rec)
	require.NoError(t, rec.Start(10*time.Millisecond))
	require.Eventually(t, func() bool { return c.count() >= 1 }, 2*time.Second, 5*time.Millisecond)

	// An ended input stays open and silent.
	tracks[0].Stop()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, c.errorCount())

	next, err := platform.GetUserMedia(context.Background(), domain.UserMediaConstraints{
		Video: &domain.VideoConstraints{},
	})
	require.NoError(t, err)
	require.NoError(t, rec.ReplaceTrack(tracks[0], next[0]))

	assert.Error(t, rec.ReplaceTrack(next[0], tracks[1]), "kinds must match")
	assert.Error(t, rec.ReplaceTrack(tracks[0], next[0]), "old is no longer recorded")

	before := c.count()
	require.Eventually(t, func() bool { return c.count() >= before+2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop())
	select {
	case <-c.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder never reported stop")
	}
	assert.Zero(t, c.errorCount())

	assert.Error(t, rec.ReplaceTrack(next[0], tracks[0]), "a stopped recorder takes no inputs")
}

type brokenTrack struct {
	*synthetic.Track
}

func (b brokenTrack) ReadSample(ctx context.Context) (media.Sample, error) {
	return media.Sample{}, errors.New("encoder crashed")
}

func TestRecorder_ReadFailureReportsError(t *testing.T) {
	f := NewFactory(DefaultConfig(), zaptest.NewLogger(t).Sugar())
	_, tracks := cameraAndMic(t)

	broken := []ports.Track{brokenTrack{tracks[0].(*synthetic.Track)}}
	rec, err := f.NewRecorder(broken, "video/webm")
	require.NoError(t, err)
	c := newCollector(rec)

	require.NoError(t, rec.Start(time.Second))
	require.Eventually(t, func() bool { return c.errorCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, rec.Stop())
	select {
	case <-c.stopped:
		t.Fatal("a failed recorder must not report a clean stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIsKeyframe(t *testing.T) {
	assert.True(t, isKeyframe("vp8", []byte{0x00}))
	assert.False(t, isKeyframe("vp8", []byte{0x01}))
	assert.True(t, isKeyframe("vp9", []byte{0x82}))
	assert.False(t, isKeyframe("vp9", []byte{0x86}))
	assert.True(t, isKeyframe("opus", []byte{0xfc}))
	assert.False(t, isKeyframe("vp8", nil))
}
