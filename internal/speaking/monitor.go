package speaking

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/benbjohnson/clock"
)

// SelfID is the reserved key for the local participant.
const SelfID = "self"

// Defaults for Options. DefaultThreshold is on the raw 0..255 magnitude
// scale, not the normalized Sample scale.
const (
	DefaultThreshold = 20.0
	DefaultHold      = 500 * time.Millisecond
	DefaultInterval  = 16 * time.Millisecond
)

// ErrNoAudio is returned by Attach for a stream without audio.
var ErrNoAudio = errors.New("speaking: stream has no audio track")

// Options configures a Monitor. Zero fields take the defaults.
type Options struct {
	Threshold float64
	Hold      time.Duration
	Interval  time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Handle is one attached stream.
type Handle struct {
	id       string
	analyser *Analyser
	untap    func()

	once     sync.Once
	released bool
	mu       sync.Mutex
}

// ID is the participant id the handle was attached under.
func (h *Handle) ID() string { return h.id }

func (h *Handle) release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		h.untap()
	})
}

func (h *Handle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Monitor samples attached streams and publishes who is speaking.
type Monitor struct {
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	handles  map[string]*Handle
	detector *Detector
}

// New creates a monitor. Sampling starts with StartLoop.
func New(opts Options) *Monitor {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Hold <= 0 {
		opts.Hold = DefaultHold
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		interval: opts.Interval,
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "speaking"),
		handles:  make(map[string]*Handle),
		detector: NewDetector(opts.Threshold, opts.Hold),
	}
}

// Attach taps the first audio track of stream under id, replacing any
// previous handle for that id.
func (m *Monitor) Attach(stream *media.Stream, id string) (*Handle, error) {
	if stream == nil {
		return nil, ErrNoAudio
	}
	analyser := NewAnalyser()
	untap, ok := stream.TapAudio(func(f media.Frame) { analyser.Write(f.PCM) })
	if !ok {
		return nil, ErrNoAudio
	}
	h := &Handle{id: id, analyser: analyser, untap: untap}

	m.mu.Lock()
	old := m.handles[id]
	m.handles[id] = h
	m.mu.Unlock()

	if old != nil {
		old.release()
	}
	m.logger.Debug("Attached analyser", "id", id)
	return h, nil
}

// Sample returns the current amplitude of h in [0,100]. Released handles
// read as silent.
func (m *Monitor) Sample(h *Handle) float64 {
	if h == nil || h.isReleased() {
		return 0
	}
	return h.analyser.Level()
}

func (m *Monitor) magnitude(h *Handle) float64 {
	if h.isReleased() {
		return 0
	}
	return h.analyser.Magnitude()
}

// Detach releases the handle for id. Unknown ids are ignored.
func (m *Monitor) Detach(id string) {
	m.mu.Lock()
	h := m.handles[id]
	delete(m.handles, id)
	m.detector.Forget(id)
	m.mu.Unlock()

	if h != nil {
		h.release()
		m.logger.Debug("Detached analyser", "id", id)
	}
}

// Attached reports whether id currently has a handle.
func (m *Monitor) Attached(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[id]
	return ok
}

// Tick samples every handle once and returns the speaking map.
func (m *Monitor) Tick() map[string]bool {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	levels := make(map[string]float64, len(handles))
	for _, h := range handles {
		levels[h.id] = m.magnitude(h)
	}
	return m.decide(levels, m.clock.Now())
}

// decide runs the detector over raw magnitudes, skipping ids detached
// while sampling.
func (m *Monitor) decide(levels map[string]float64, now time.Time) map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(levels))
	for id, level := range levels {
		if m.handles[id] == nil {
			continue
		}
		out[id] = m.detector.Update(id, level, now)
	}
	return out
}

// StartLoop samples on every interval until ctx is done, calling publish
// whenever the speaking map changes.
func (m *Monitor) StartLoop(ctx context.Context, publish func(map[string]bool)) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	var last map[string]bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current := m.Tick()
		if maps.Equal(current, last) {
			continue
		}
		last = current
		publish(maps.Clone(current))
	}
}
