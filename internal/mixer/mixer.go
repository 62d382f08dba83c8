// Package mixer combines the microphone and a secondary PCM source into
// the one audio track a session sends.
package mixer

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Source is a pull-based PCM input at media.SampleRate, mono. A source
// returning io.EOF is detached.
type Source interface {
	Read(pcm []int16) (int, error)
}

// Options configures a Mixer. Zero gains default to 1.
type Options struct {
	MicGain       float64
	SecondaryGain float64
	Encoder       media.Encoder
	Clock         clock.Clock
	Logger        *slog.Logger
}

// maxBuffered bounds mic latency; older samples are dropped.
const maxBuffered = media.FrameSamples * 5

// Mixer produces the single outgoing audio track: mic plus an optional
// secondary source, each with its own gain.
type Mixer struct {
	clock  clock.Clock
	logger *slog.Logger
	enc    media.Encoder

	mu        sync.Mutex
	micGain   float64
	secGain   float64
	micUntap  func()
	micBuf    []int16
	secondary Source
	out       *media.LocalTrack
	mixed     *media.Stream
	done      chan struct{}
	closed    bool
}

// New creates a mixer. Nothing runs until CreateMixedStream.
func New(opts Options) *Mixer {
	if opts.MicGain == 0 {
		opts.MicGain = 1
	}
	if opts.SecondaryGain == 0 {
		opts.SecondaryGain = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Mixer{
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "mixer"),
		enc:     opts.Encoder,
		micGain: opts.MicGain,
		secGain: opts.SecondaryGain,
		done:    make(chan struct{}),
	}
}

// CreateMixedStream builds the outgoing stream from local: its video tracks
// by reference and one mixed audio track. A local stream without audio
// still gets the mixed track, silent until a mic or secondary source is
// connected. Later calls return the same stream.
func (m *Mixer) CreateMixedStream(local *media.Stream) (*media.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mixed != nil {
		return m.mixed, nil
	}
	if m.closed {
		return nil, errors.New("mixer: closed")
	}

	if m.enc == nil {
		enc, err := media.NewOpusEncoder()
		if err != nil {
			return nil, err
		}
		m.enc = enc
	}

	streamID := uuid.NewString()
	out, err := media.NewLocalTrack(media.KindAudio, uuid.NewString(), streamID, "mixer", "")
	if err != nil {
		return nil, err
	}

	tracks := []media.Track{out}
	for _, v := range local.VideoTracks() {
		tracks = append(tracks, v)
	}

	m.out = out
	m.mixed = media.NewStream(streamID, tracks...)
	if mic := local.AudioTracks(); len(mic) > 0 {
		m.micUntap = mic[0].Tap(m.bufferMic)
	}

	go m.loop()

	m.logger.Debug("Mixed stream created", "stream", streamID)
	return m.mixed, nil
}

// Output is the mixed audio track, nil before CreateMixedStream.
func (m *Mixer) Output() *media.LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out
}

// AttachSecondary routes src into the mix, replacing any previous source.
func (m *Mixer) AttachSecondary(src Source) {
	m.mu.Lock()
	m.secondary = src
	m.mu.Unlock()
}

// SecondaryActive reports whether a secondary source is attached.
func (m *Mixer) SecondaryActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secondary != nil
}

// SetSecondaryGain sets the gain applied to the secondary source.
func (m *Mixer) SetSecondaryGain(g float64) {
	m.mu.Lock()
	m.secGain = g
	m.mu.Unlock()
}

// ReplaceMicrophone re-points the mic input at track. The outgoing track
// is unchanged.
func (m *Mixer) ReplaceMicrophone(track media.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.micUntap != nil {
		m.micUntap()
	}
	m.micBuf = m.micBuf[:0]
	m.micUntap = track.Tap(m.bufferMic)
}

func (m *Mixer) bufferMic(f media.Frame) {
	m.mu.Lock()
	m.micBuf = append(m.micBuf, f.PCM...)
	if over := len(m.micBuf) - maxBuffered; over > 0 {
		m.micBuf = append(m.micBuf[:0], m.micBuf[over:]...)
	}
	m.mu.Unlock()
}

func (m *Mixer) loop() {
	ticker := m.clock.Ticker(media.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		if err := m.mix(); err != nil {
			m.logger.Debug("Mix frame failed", "error", err)
		}
	}
}

// mix renders one frame and pushes it to the output track.
func (m *Mixer) mix() error {
	m.mu.Lock()
	frame := make([]float64, media.FrameSamples)

	n := min(len(m.micBuf), media.FrameSamples)
	for i := 0; i < n; i++ {
		frame[i] = float64(m.micBuf[i]) * m.micGain
	}
	m.micBuf = append(m.micBuf[:0], m.micBuf[n:]...)

	src, gain := m.secondary, m.secGain
	out := m.out
	enc := m.enc
	m.mu.Unlock()

	if src != nil {
		buf := make([]int16, media.FrameSamples)
		got, err := readFrame(src, buf)
		for i := 0; i < got; i++ {
			frame[i] += float64(buf[i]) * gain
		}
		if err != nil {
			m.detachSecondary(src, err)
		}
	}

	pcm := make([]int16, media.FrameSamples)
	for i, v := range frame {
		pcm[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}

	data, err := enc.Encode(pcm)
	if err != nil {
		return err
	}
	return out.Push(media.Frame{Data: data, PCM: pcm, Duration: media.FrameDuration})
}

// readFrame fills buf from src. A source with nothing buffered yet leaves
// the rest of the frame silent.
func readFrame(src Source, buf []int16) (int, error) {
	got := 0
	for got < len(buf) {
		n, err := src.Read(buf[got:])
		got += n
		if err != nil {
			return got, err
		}
		if n == 0 {
			break
		}
	}
	return got, nil
}

func (m *Mixer) detachSecondary(src Source, err error) {
	m.mu.Lock()
	if m.secondary == src {
		m.secondary = nil
	}
	m.mu.Unlock()
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		m.logger.Warn("Secondary source failed", "error", err)
	}
}

// Close stops mixing and ends the output track.
func (m *Mixer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	untap := m.micUntap
	out := m.out
	m.mu.Unlock()

	if untap != nil {
		untap()
	}
	if out != nil {
		out.Stop()
	}
}
