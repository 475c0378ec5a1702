package pionmd

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

var errNoEncoder = errors.New("capture was opened without encoders")

// source is one opened device shared by every handle cloned from it. The
// device is closed when the last handle stops.
type source struct {
	track    mediadevices.Track
	kind     domain.TrackKind
	label    string
	codec    string
	encoders bool

	mu      sync.Mutex
	refs    int
	closed  bool
	ended   bool
	handles map[*Track]struct{}
}

func newSource(t mediadevices.Track, kind domain.TrackKind, label, codec string, encoders bool) *source {
	s := &source{
		track:    t,
		kind:     kind,
		label:    label,
		codec:    codec,
		encoders: encoders,
		handles:  make(map[*Track]struct{}),
	}
	t.OnEnded(func(error) { s.endAll() })
	return s
}

func (s *source) acquire(h *Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended {
		return false
	}
	s.refs++
	s.handles[h] = struct{}{}
	return true
}

func (s *source) release(h *Track, logger *zap.SugaredLogger) {
	s.mu.Lock()
	delete(s.handles, h)
	s.refs--
	last := s.refs == 0 && !s.closed
	if last {
		s.closed = true
	}
	s.mu.Unlock()

	if last {
		if err := s.track.Close(); err != nil {
			logger.Warnw("failed to close capture device", "source", s.label, "error", err)
		}
	}
}

// endAll handles a driver-initiated end: every handle goes dead and fires its
// callback.
func (s *source) endAll() {
	s.mu.Lock()
	if s.closed || s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	handles := make([]*Track, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.end()
	}
}

// Track is one handle on a mediadevices track.
type Track struct {
	id     domain.TrackID
	src    *source
	logger *zap.SugaredLogger

	mu      sync.Mutex
	enabled bool
	live    bool
	onEnded func()
	reader  mediadevices.EncodedReadCloser
}

var _ ports.Track = (*Track)(nil)
var _ ports.SampleSource = (*Track)(nil)

func newTrack(src *source, logger *zap.SugaredLogger) *Track {
	t := &Track{id: newHandleID(), src: src, logger: logger, enabled: true, live: true}
	if !src.acquire(t) {
		t.live = false
	}
	return t
}

func (t *Track) ID() domain.TrackID     { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.src.kind }
func (t *Track) Label() string          { return t.src.label }
func (t *Track) Codec() string          { return t.src.codec }

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

func (t *Track) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = callback
}

func (t *Track) Stop() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	reader := t.reader
	t.reader = nil
	t.mu.Unlock()

	if reader != nil {
		_ = reader.Close()
	}
	t.src.release(t, t.logger)
}

func (t *Track) Clone() (ports.Track, error) {
	if !t.Live() {
		return nil, domain.NewUnknownError("cannot clone an ended track", nil)
	}
	c := newTrack(t.src, t.logger)
	if !c.Live() {
		return nil, domain.NewUnknownError("cannot clone an ended track", nil)
	}
	c.SetEnabled(t.Enabled())
	return c, nil
}

func (t *Track) end() {
	t.mu.Lock()
	if !t.live {
		t.mu.Unlock()
		return
	}
	t.live = false
	cb := t.onEnded
	reader := t.reader
	t.reader = nil
	t.mu.Unlock()

	if reader != nil {
		_ = reader.Close()
	}
	t.src.release(t, t.logger)
	if cb != nil {
		go cb()
	}
}

// ReadSample blocks on the encoder. Disabled handles return empty samples
// with the frame's duration so timestamps keep advancing.
func (t *Track) ReadSample(ctx context.Context) (media.Sample, error) {
	reader, err := t.encodedReader()
	if err != nil {
		return media.Sample{}, err
	}

	type result struct {
		sample media.Sample
		err    error
	}
	done := make(chan result, 1)
	go func() {
		buf, release, err := reader.Read()
		if err != nil {
			done <- result{err: err}
			return
		}
		data := make([]byte, len(buf.Data))
		copy(data, buf.Data)
		release()
		done <- result{sample: media.Sample{Data: data, Duration: t.sampleDuration(buf.Samples)}}
	}()

	select {
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			if !t.Live() {
				return media.Sample{}, io.EOF
			}
			return media.Sample{}, r.err
		}
		if !t.Enabled() {
			r.sample.Data = nil
		}
		return r.sample, nil
	}
}

func (t *Track) encodedReader() (mediadevices.EncodedReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return nil, io.EOF
	}
	if t.reader != nil {
		return t.reader, nil
	}
	if !t.src.encoders {
		return nil, errNoEncoder
	}
	r, err := t.src.track.NewEncodedReader(t.src.codec)
	if err != nil {
		return nil, err
	}
	t.reader = r
	return r, nil
}

func (t *Track) sampleDuration(samples uint32) time.Duration {
	rate := 48000
	if t.src.kind == domain.TrackKindVideo {
		rate = 90000
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
