package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Kind is the media type of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Frame is one unit of media flowing through a track. Audio frames carry
// PCM for local consumers and, once encoded, Data for the wire. Video
// frames carry only Data.
type Frame struct {
	Data     []byte
	PCM      []int16
	Duration time.Duration
}

// Track is the common surface of local and remote tracks.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	Ended() bool
	OnEnded(fn func())
	// Tap registers fn for every frame the track delivers and returns a
	// function that removes it.
	Tap(fn func(Frame)) (untap func())
}

// trackState is the bookkeeping shared by local and remote tracks.
type trackState struct {
	id   string
	kind Kind

	mu      sync.Mutex
	enabled bool
	ended   bool
	onEnded []func()
	taps    map[int]func(Frame)
	nextTap int
	stopFn  func()
}

func (s *trackState) init(id string, kind Kind) {
	s.id = id
	s.kind = kind
	s.enabled = true
	s.taps = make(map[int]func(Frame))
}

func (s *trackState) ID() string { return s.id }

func (s *trackState) Kind() Kind { return s.kind }

func (s *trackState) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *trackState) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *trackState) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// OnEnded runs fn once the track ends. If it already has, fn runs now.
func (s *trackState) OnEnded(fn func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		fn()
		return
	}
	s.onEnded = append(s.onEnded, fn)
	s.mu.Unlock()
}

func (s *trackState) Tap(fn func(Frame)) func() {
	s.mu.Lock()
	id := s.nextTap
	s.nextTap++
	s.taps[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.taps, id)
			s.mu.Unlock()
		})
	}
}

// setStop installs the producer cancel func run by end.
func (s *trackState) setStop(fn func()) {
	s.mu.Lock()
	s.stopFn = fn
	s.mu.Unlock()
}

// end marks the track ended and fires callbacks exactly once.
func (s *trackState) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	callbacks := s.onEnded
	s.onEnded = nil
	stop := s.stopFn
	s.stopFn = nil
	s.taps = make(map[int]func(Frame))
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, fn := range callbacks {
		fn()
	}
}

// deliver fans f out to the taps and reports whether the track is enabled.
func (s *trackState) deliver(f Frame) (enabled bool, ok bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false, false
	}
	enabled = s.enabled
	taps := make([]func(Frame), 0, len(s.taps))
	for _, fn := range s.taps {
		taps = append(taps, fn)
	}
	s.mu.Unlock()

	if !enabled {
		if s.kind == KindVideo {
			return false, true
		}
		f = Frame{PCM: make([]int16, len(f.PCM)), Duration: f.Duration}
	}
	for _, fn := range taps {
		fn(f)
	}
	return enabled, true
}

// LocalTrack is a captured or synthesized track that can be attached to
// outbound connections.
type LocalTrack struct {
	trackState
	deviceID string
	rtp      *webrtc.TrackLocalStaticSample
}

// NewLocalTrack creates a local track for kind. mimeType selects the wire
// codec; an empty value picks Opus for audio and VP8 for video.
func NewLocalTrack(kind Kind, id, streamID, deviceID, mimeType string) (*LocalTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: mimeType}
	switch kind {
	case KindAudio:
		if capability.MimeType == "" {
			capability.MimeType = webrtc.MimeTypeOpus
		}
		capability.ClockRate = SampleRate
		capability.Channels = 2
	case KindVideo:
		if capability.MimeType == "" {
			capability.MimeType = webrtc.MimeTypeVP8
		}
		capability.ClockRate = 90000
	default:
		return nil, fmt.Errorf("unknown track kind %q", kind)
	}

	rtp, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create local %s track: %w", kind, err)
	}
	t := &LocalTrack{deviceID: deviceID, rtp: rtp}
	t.init(id, kind)
	return t, nil
}

// DeviceID is the capture device the track was opened from.
func (t *LocalTrack) DeviceID() string { return t.deviceID }

// RTP is the pion track handed to senders.
func (t *LocalTrack) RTP() *webrtc.TrackLocalStaticSample { return t.rtp }

// Push feeds one frame from the producer. Disabled audio reaches taps as
// silence and disabled video is dropped; only enabled encoded frames are
// written to the wire.
func (t *LocalTrack) Push(f Frame) error {
	enabled, ok := t.deliver(f)
	if !ok || !enabled || len(f.Data) == 0 {
		return nil
	}
	return t.rtp.WriteSample(pionmedia.Sample{Data: f.Data, Duration: f.Duration})
}

// Stop ends the track and its producer. Safe to call more than once.
func (t *LocalTrack) Stop() { t.end() }

// Bind attaches a producer cancel func that Stop will run.
func (t *LocalTrack) Bind(stop func()) { t.setStop(stop) }
