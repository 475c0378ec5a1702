package services

import (
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// MediaSession owns the live handles of one acquisition: at most one
// microphone track, at most one video track (camera or screen) and, while a
// share carries it, the captured source audio. Nothing outside the session
// stops these handles.
type MediaSession struct {
	mu sync.RWMutex

	id          domain.SessionID
	audio       ports.Track
	video       ports.Track
	source      domain.VideoSource
	sourceAudio ports.Track
	released    bool
	createdAt   time.Time
}

// NewMediaSession adopts tracks. Surplus tracks of a kind already taken are
// stopped immediately so no handle escapes ownership.
func NewMediaSession(id domain.SessionID, tracks []ports.Track, now time.Time) *MediaSession {
	s := &MediaSession{
		id:        id,
		source:    domain.VideoSourceNone,
		createdAt: now,
	}
	for _, t := range tracks {
		if t == nil {
			continue
		}
		switch {
		case t.Kind() == domain.TrackKindAudio && s.audio == nil:
			s.audio = t
		case t.Kind() == domain.TrackKindVideo && s.video == nil:
			s.video = t
			s.source = domain.VideoSourceCamera
		default:
			t.Stop()
		}
	}
	return s
}

func (s *MediaSession) ID() domain.SessionID {
	return s.id
}

func (s *MediaSession) Audio() ports.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

func (s *MediaSession) Video() ports.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

func (s *MediaSession) SourceAudio() ports.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceAudio
}

func (s *MediaSession) Source() domain.VideoSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *MediaSession) VideoEnabled() bool {
	v := s.Video()
	return v != nil && v.Live() && v.Enabled()
}

func (s *MediaSession) AudioEnabled() bool {
	a := s.Audio()
	return a != nil && a.Live() && a.Enabled()
}

func (s *MediaSession) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// Tracks returns the live composed tracks: video, microphone, source audio.
func (s *MediaSession) Tracks() []ports.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.Track, 0, 3)
	for _, t := range []ports.Track{s.video, s.audio, s.sourceAudio} {
		if t != nil && t.Live() {
			out = append(out, t)
		}
	}
	return out
}

// Describe snapshots the composition for the preview sink.
func (s *MediaSession) Describe(now time.Time) domain.StreamDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := domain.StreamDescription{
		SessionID: s.id,
		Source:    s.source,
		BoundAt:   now,
	}
	if s.video != nil {
		d.VideoTrack = s.video.ID()
	}
	if s.audio != nil {
		d.AudioTrack = s.audio.ID()
	}
	if s.sourceAudio != nil {
		d.SourceAudio = s.sourceAudio.ID()
	}
	return d
}

// swapVideo stops the current video track before installing next, so the
// composed stream never carries two video tracks.
func (s *MediaSession) swapVideo(next ports.Track, source domain.VideoSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.video != nil {
		s.video.OnEnded(nil)
		s.video.Stop()
	}
	s.video = next
	if next == nil {
		s.source = domain.VideoSourceNone
		return
	}
	s.source = source
}

func (s *MediaSession) setSourceAudio(track ports.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sourceAudio != nil && s.sourceAudio != track {
		s.sourceAudio.Stop()
	}
	s.sourceAudio = track
}

// Release stops every handle. Calling it twice is harmless.
func (s *MediaSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.released = true
	for _, t := range []ports.Track{s.video, s.audio, s.sourceAudio} {
		if t != nil {
			t.OnEnded(nil)
			t.Stop()
		}
	}
	s.video, s.audio, s.sourceAudio = nil, nil, nil
	s.source = domain.VideoSourceNone
}
