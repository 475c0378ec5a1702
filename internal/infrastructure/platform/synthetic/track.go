package synthetic

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/webrtc/v3/pkg/media"
)

// Source names the device behind a handle.
type Source string

const (
	SourceCamera      Source = "camera"
	SourceMicrophone  Source = "microphone"
	SourceScreen      Source = "screen"
	SourceSystemAudio Source = "system-audio"
)

const keyframeInterval = 30

// Track is one handle on a synthetic device. It produces deterministic
// encoded samples so the real container writers can be exercised without
// hardware.
type Track struct {
	id       domain.TrackID
	kind     domain.TrackKind
	label    string
	source   Source
	deviceID string
	platform *Platform

	mu       sync.Mutex
	enabled  bool
	live     bool
	onEnded  func()
	seq      uint32
	interval time.Duration
}

var _ ports.Track = (*Track)(nil)
var _ ports.SampleSource = (*Track)(nil)

func (t *Track) ID() domain.TrackID     { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.kind }
func (t *Track) Label() string          { return t.label }
func (t *Track) Source() Source         { return t.source }
func (t *Track) DeviceID() string       { return t.deviceID }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *Track) Stop() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	t.mu.Unlock()
	t.platform.release(t)
}

func (t *Track) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = callback
}

// Clone opens an independent handle on the same device.
func (t *Track) Clone() (ports.Track, error) {
	if !t.Live() {
		return nil, domain.NewUnknownError("cannot clone an ended track", nil)
	}
	c := t.platform.open(t.kind, t.source, t.label, t.deviceID)
	c.SetEnabled(t.Enabled())
	return c, nil
}

// end is a platform-initiated stop; the ended callback runs on its own
// goroutine like a platform event would.
func (t *Track) end() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	cb := t.onEnded
	t.mu.Unlock()

	t.platform.release(t)
	if cb != nil {
		go cb()
	}
}

func (t *Track) Codec() string {
	if t.kind == domain.TrackKindAudio {
		return "opus"
	}
	return "vp8"
}

// ReadSample paces samples at the track interval. Disabled handles produce
// empty payloads (black frames, silence).
func (t *Track) ReadSample(ctx context.Context) (media.Sample, error) {
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	case <-timer.C:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return media.Sample{}, io.EOF
	}
	seq := t.seq
	t.seq++

	return media.Sample{
		Data:     t.payload(seq),
		Duration: t.interval,
	}, nil
}

// payload mimics the first bytes of real frames: VP8 keyframes clear the low
// bit of the first byte.
func (t *Track) payload(seq uint32) []byte {
	if !t.enabled {
		if t.kind == domain.TrackKindVideo {
			return []byte{0x01}
		}
		return []byte{0xf8}
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[4:], seq)
	copy(buf[8:], string(t.id))
	if t.kind == domain.TrackKindVideo {
		if seq%keyframeInterval == 0 {
			buf[0] = 0x00
		} else {
			buf[0] = 0x01
		}
	} else {
		buf[0] = 0xfc
	}
	return buf
}
