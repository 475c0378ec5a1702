// Package webm records sample-producing tracks into a WebM container with
// ebml-go, emitting the container bytes in timeslice-sized chunks.
package webm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"go.uber.org/zap"
)

var codecIDs = map[string]string{
	"vp8":  "V_VP8",
	"vp9":  "V_VP9",
	"opus": "A_OPUS",
}

// Config describes what the local encoders produce.
type Config struct {
	VideoCodecs []string
	AudioCodecs []string
	Width       int
	Height      int
}

func DefaultConfig() Config {
	return Config{
		VideoCodecs: []string{"vp8"},
		AudioCodecs: []string{"opus"},
		Width:       1280,
		Height:      720,
	}
}

// Factory implements ports.RecorderFactory for WebM output.
type Factory struct {
	cfg    Config
	logger *zap.SugaredLogger
}

var _ ports.RecorderFactory = (*Factory)(nil)

func NewFactory(cfg Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// IsTypeSupported accepts WebM with codecs the local encoders produce. A bare
// "video/webm" is accepted and recorded with the first configured codecs.
func (f *Factory) IsTypeSupported(mimeType string) bool {
	format, err := domain.ParseFormat(mimeType)
	if err != nil || format.Container != "webm" {
		return false
	}
	for _, c := range format.Codecs {
		if !contains(f.cfg.VideoCodecs, c) && !contains(f.cfg.AudioCodecs, c) {
			return false
		}
	}
	return true
}

func (f *Factory) NewRecorder(tracks []ports.Track, mimeType string) (ports.Recorder, error) {
	if !f.IsTypeSupported(mimeType) {
		return nil, domain.NewDeviceError(domain.FormatUnsupported, mimeType, nil)
	}
	if len(tracks) == 0 {
		return nil, errors.New("no tracks to record")
	}

	r := &Recorder{
		mimeType: mimeType,
		logger:   f.logger.With("mime_type", mimeType),
	}
	for _, t := range tracks {
		src, ok := t.(ports.SampleSource)
		if !ok {
			return nil, fmt.Errorf("track %s does not expose encoded samples", t.ID())
		}
		codec := src.Codec()
		if _, known := codecIDs[codec]; !known {
			return nil, fmt.Errorf("track %s: codec %q cannot be muxed into webm", t.ID(), codec)
		}
		r.inputs = append(r.inputs, &input{track: t, source: src, codec: codec})
	}
	r.entries = f.trackEntries(r.inputs)
	return r, nil
}

func (f *Factory) trackEntries(inputs []*input) []webm.TrackEntry {
	entries := make([]webm.TrackEntry, 0, len(inputs))
	for i, in := range inputs {
		n := uint64(i + 1)
		entry := webm.TrackEntry{
			Name:        in.track.Label(),
			TrackNumber: n,
			TrackUID:    n,
			CodecID:     codecIDs[in.codec],
		}
		if in.track.Kind() == domain.TrackKindVideo {
			entry.TrackType = 1
			entry.DefaultDuration = 33333333
			entry.Video = &webm.Video{
				PixelWidth:  uint64(f.cfg.Width),
				PixelHeight: uint64(f.cfg.Height),
			}
		} else {
			entry.TrackType = 2
			entry.DefaultDuration = 20000000
			entry.Audio = &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// input is one muxed track. track and source change when the recorded
// handle is replaced; reads on the old source are cancelled through
// cancelRead. Guarded by Recorder.mu.
type input struct {
	track  ports.Track
	source ports.SampleSource
	codec  string

	readCtx    context.Context
	cancelRead context.CancelFunc
}

// Recorder muxes its inputs into an in-memory WebM stream. Bytes written by
// the muxer accumulate in buf and are handed out every timeslice.
type Recorder struct {
	mimeType string
	inputs   []*input
	entries  []webm.TrackEntry
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	buf     bytes.Buffer
	writers []webm.BlockWriteCloser
	started bool
	stopped bool
	failed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	readers sync.WaitGroup
	flusher sync.WaitGroup

	onData  func([]byte)
	onError func(error)
	onStop  func()
}

var _ ports.Recorder = (*Recorder)(nil)

func (r *Recorder) MimeType() string { return r.mimeType }

func (r *Recorder) OnData(callback func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onData = callback
}

func (r *Recorder) OnError(callback func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = callback
}

func (r *Recorder) OnStop(callback func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStop = callback
}

func (r *Recorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("recorder already started")
	}
	r.started = true
	r.mu.Unlock()

	writers, err := webm.NewSimpleBlockWriter(&chunkWriter{r: r}, r.entries,
		mkvcore.WithOnFatalHandler(func(err error) {
			r.fail(fmt.Errorf("webm muxer: %w", err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create webm writer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.writers = writers
	r.ctx = ctx
	r.cancel = cancel
	for _, in := range r.inputs {
		in.readCtx, in.cancelRead = context.WithCancel(ctx)
	}
	r.mu.Unlock()

	for i, in := range r.inputs {
		r.readers.Add(1)
		go r.pump(ctx, writers[i], in)
	}

	if timeslice > 0 {
		r.flusher.Add(1)
		go r.flushEvery(ctx, timeslice)
	}

	r.logger.Debugw("webm recorder started", "tracks", len(r.inputs), "timeslice", timeslice)
	return nil
}

// Stop ends the inputs, closes the container and reports the final chunk
// followed by OnStop from a separate goroutine.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	go func() {
		if cancel != nil {
			cancel()
		}
		r.readers.Wait()
		r.flusher.Wait()

		r.mu.Lock()
		writers := r.writers
		r.writers = nil
		r.mu.Unlock()
		for _, w := range writers {
			if err := w.Close(); err != nil {
				r.logger.Warnw("webm writer close error", "error", err)
			}
		}

		r.flush()

		r.mu.Lock()
		onStop, failed := r.onStop, r.failed
		r.mu.Unlock()
		if onStop != nil && !failed {
			onStop()
		}
	}()
	return nil
}

// ReplaceTrack points the input recording old at next. Timestamps carry on
// from where old left off. next must produce the codec old was muxed with.
func (r *Recorder) ReplaceTrack(old, next ports.Track) error {
	if next.Kind() != old.Kind() {
		return fmt.Errorf("cannot replace %s track with %s track", old.Kind(), next.Kind())
	}
	src, ok := next.(ports.SampleSource)
	if !ok {
		return fmt.Errorf("track %s does not expose encoded samples", next.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.failed {
		return errors.New("recorder is not running")
	}
	for _, in := range r.inputs {
		if in.track != old {
			continue
		}
		if src.Codec() != in.codec {
			return fmt.Errorf("track %s: codec %q cannot replace %q", next.ID(), src.Codec(), in.codec)
		}
		in.track, in.source = next, src
		if in.cancelRead != nil {
			in.cancelRead()
			in.readCtx, in.cancelRead = context.WithCancel(r.ctx)
		}
		return nil
	}
	return fmt.Errorf("track %s is not recorded", old.ID())
}

func (r *Recorder) current(in *input) (ports.Track, ports.SampleSource, context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return in.track, in.source, in.readCtx
}

func (r *Recorder) pump(ctx context.Context, w webm.BlockWriteCloser, in *input) {
	defer r.readers.Done()

	var elapsed time.Duration
	for ctx.Err() == nil {
		track, src, readCtx := r.current(in)
		sample, err := src.ReadSample(readCtx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case readCtx.Err() != nil:
				continue
			case errors.Is(err, io.EOF):
				// The handle ended; the input stays silent until it is
				// replaced, and its timeline keeps up with the wall clock.
				silentSince := time.Now()
				<-readCtx.Done()
				elapsed += time.Since(silentSince)
				continue
			}
			r.fail(fmt.Errorf("track %s: %w", track.ID(), err))
			return
		}
		if len(sample.Data) == 0 {
			elapsed += sample.Duration
			continue
		}

		keyframe := isKeyframe(in.codec, sample.Data)
		if _, err := w.Write(keyframe, elapsed.Milliseconds(), sample.Data); err != nil {
			r.fail(fmt.Errorf("track %s: write block: %w", track.ID(), err))
			return
		}
		elapsed += sample.Duration
	}
}

func (r *Recorder) flushEvery(ctx context.Context, timeslice time.Duration) {
	defer r.flusher.Done()
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	if r.buf.Len() == 0 {
		r.mu.Unlock()
		return
	}
	chunk := make([]byte, r.buf.Len())
	copy(chunk, r.buf.Bytes())
	r.buf.Reset()
	cb := r.onData
	r.mu.Unlock()

	if cb != nil {
		cb(chunk)
	}
}

func (r *Recorder) fail(err error) {
	r.mu.Lock()
	if r.failed {
		r.mu.Unlock()
		return
	}
	r.failed = true
	cancel := r.cancel
	cb := r.onError
	r.mu.Unlock()

	r.logger.Warnw("webm recorder failed", "error", err)
	if cancel != nil {
		cancel()
	}
	if cb != nil {
		go cb(err)
	}
}

// chunkWriter is the muxer's sink.
type chunkWriter struct {
	r *Recorder
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	return w.r.buf.Write(p)
}

func (w *chunkWriter) Close() error {
	return nil
}

func isKeyframe(codec string, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch codec {
	case "vp8":
		return data[0]&0x01 == 0
	case "vp9":
		return (data[0]>>2)&0x01 == 0
	default:
		return true
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
