package synthetic

import (
	"errors"
	"sync"
	"time"

	"huddle/internal/core/ports"
)

// RecorderFactory hands out scripted recorders. Data, errors and stops are
// driven by the caller so recording flows can be replayed exactly.
type RecorderFactory struct {
	mu          sync.Mutex
	supported   map[string]bool
	failOnStart error
	failReplace error
	silentStop  bool
	recorders   []*Recorder
}

var _ ports.RecorderFactory = (*RecorderFactory)(nil)

func NewRecorderFactory(supported ...string) *RecorderFactory {
	f := &RecorderFactory{supported: make(map[string]bool)}
	for _, m := range supported {
		f.supported[m] = true
	}
	return f
}

// FailOnStart makes the next recorders raise err as soon as they start,
// before any data.
func (f *RecorderFactory) FailOnStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOnStart = err
}

// FailReplace makes the next recorders refuse input switches with err.
func (f *RecorderFactory) FailReplace(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReplace = err
}

// SilentStop makes recorders never confirm Stop, like a recorder that hangs
// while flushing.
func (f *RecorderFactory) SilentStop(silent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silentStop = silent
}

func (f *RecorderFactory) IsTypeSupported(mimeType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supported[mimeType]
}

func (f *RecorderFactory) NewRecorder(tracks []ports.Track, mimeType string) (ports.Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.supported[mimeType] {
		return nil, errors.New("unsupported mime type " + mimeType)
	}
	r := &Recorder{
		mimeType:    mimeType,
		tracks:      append([]ports.Track(nil), tracks...),
		failOnStart: f.failOnStart,
		failReplace: f.failReplace,
		silentStop:  f.silentStop,
	}
	f.recorders = append(f.recorders, r)
	return r, nil
}

// Last returns the most recently created recorder.
func (f *RecorderFactory) Last() *Recorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recorders) == 0 {
		return nil
	}
	return f.recorders[len(f.recorders)-1]
}

// Recorder is a scripted ports.Recorder.
type Recorder struct {
	mu          sync.Mutex
	mimeType    string
	tracks      []ports.Track
	timeslice   time.Duration
	started     bool
	stopped     bool
	failOnStart error
	failReplace error
	silentStop  bool
	pending     [][]byte

	onData  func([]byte)
	onError func(error)
	onStop  func()
}

func (r *Recorder) MimeType() string { return r.mimeType }

func (r *Recorder) Tracks() []ports.Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ports.Track(nil), r.tracks...)
}

func (r *Recorder) Timeslice() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeslice
}

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
	r.timeslice = timeslice
	failure := r.failOnStart
	onError := r.onError
	r.mu.Unlock()

	if failure != nil && onError != nil {
		onError(failure)
	}
	return nil
}

// ReplaceTrack swaps old for next in Tracks.
func (r *Recorder) ReplaceTrack(old, next ports.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReplace != nil {
		return r.failReplace
	}
	if next.Kind() != old.Kind() {
		return errors.New("replacement track kind mismatch")
	}
	for i, t := range r.tracks {
		if t == old {
			r.tracks[i] = next
			return nil
		}
	}
	return errors.New("track is not recorded")
}

// Emit delivers one chunk as a timeslice boundary would.
func (r *Recorder) Emit(chunk []byte) {
	r.mu.Lock()
	cb := r.onData
	active := r.started && !r.stopped
	r.mu.Unlock()
	if active && cb != nil {
		cb(chunk)
	}
}

// QueueFinal sets a chunk that is flushed when Stop is called.
func (r *Recorder) QueueFinal(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, chunk)
}

// Fail raises a runtime error.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	cb := r.onError
	r.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	pending := r.pending
	r.pending = nil
	onData, onStop := r.onData, r.onStop
	silent := r.silentStop
	r.mu.Unlock()

	for _, chunk := range pending {
		if onData != nil {
			onData(chunk)
		}
	}
	if !silent && onStop != nil {
		onStop()
	}
	return nil
}

func (r *Recorder) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
