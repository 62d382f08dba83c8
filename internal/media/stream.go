package media

import "sync"

// Stream groups the tracks of one capture or one remote peer.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

// NewStream returns a stream holding tracks in order.
func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: append([]Track(nil), tracks...)}
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

// Tracks returns a snapshot of every track.
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// AudioTracks returns the audio tracks in insertion order.
func (s *Stream) AudioTracks() []Track { return s.byKind(KindAudio) }

// VideoTracks returns the video tracks in insertion order.
func (s *Stream) VideoTracks() []Track { return s.byKind(KindVideo) }

func (s *Stream) byKind(kind Kind) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// LocalTracks returns the tracks that can be sent to peers.
func (s *Stream) LocalTracks() []*LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*LocalTrack
	for _, t := range s.tracks {
		if lt, ok := t.(*LocalTrack); ok {
			out = append(out, lt)
		}
	}
	return out
}

// AddTrack appends t unless it is already present.
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing == t {
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

// RemoveTrack drops t and reports whether it was present.
func (s *Stream) RemoveTrack(t Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tracks {
		if existing == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return true
		}
	}
	return false
}

// ReplaceTrack swaps old for next in place, keeping track order. It
// reports false when old is not in the stream.
func (s *Stream) ReplaceTrack(old, next Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tracks {
		if existing == old {
			s.tracks[i] = next
			return true
		}
	}
	return false
}

// TapAudio taps the first audio track. ok is false when the stream has no
// audio.
func (s *Stream) TapAudio(fn func(Frame)) (untap func(), ok bool) {
	audio := s.AudioTracks()
	if len(audio) == 0 {
		return func() {}, false
	}
	return audio[0].Tap(fn), true
}

// Stop stops every track.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
