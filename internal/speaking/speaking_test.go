package speaking

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/benbjohnson/clock"
)

func TestDetectorHoldSequence(t *testing.T) {
	d := NewDetector(20, 500*time.Millisecond)
	start := time.Unix(0, 0)
	step := 16 * time.Millisecond

	samples := []float64{0, 0, 0, 25, 25, 0, 0, 0, 0, 0, 0}
	want := []bool{false, false, false, true, true, true, true, true, true, true, true}
	for i, level := range samples {
		got := d.Update("u1", level, start.Add(time.Duration(i)*step))
		if got != want[i] {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], got)
		}
	}

	lastCrossing := start.Add(4 * step)
	if !d.Update("u1", 0, lastCrossing.Add(499*time.Millisecond)) {
		t.Error("Expected speaking inside the hold window")
	}
	if d.Update("u1", 0, lastCrossing.Add(500*time.Millisecond)) {
		t.Error("Expected silence once the hold window passed")
	}
}

func TestDetectorThresholdIsInclusive(t *testing.T) {
	d := NewDetector(20, time.Second)
	if !d.Update("u1", 20, time.Unix(0, 0)) {
		t.Error("A sample equal to the threshold should count as speech")
	}
	d.Forget("u1")
	if d.Update("u1", 19.9, time.Unix(0, 0)) {
		t.Error("Forgotten id below threshold should be silent")
	}
}

// noise returns deterministic broadband samples in [-amplitude, amplitude].
func noise(n int, amplitude float64) []int16 {
	pcm := make([]int16, n)
	seed := uint32(1)
	for i := range pcm {
		seed = seed*1664525 + 1013904223
		u := float64(seed)/math.MaxUint32*2 - 1
		pcm[i] = int16(amplitude * 32767 * u)
	}
	return pcm
}

func TestAnalyserLevels(t *testing.T) {
	a := NewAnalyser()
	if lvl := a.Level(); lvl != 0 {
		t.Fatalf("Expected silent analyser at 0, got %v", lvl)
	}

	a.Write(noise(FFTSize, 0.8))
	var lvl float64
	for i := 0; i < 5; i++ {
		lvl = a.Level()
	}
	if lvl < DefaultThreshold || lvl > 100 {
		t.Fatalf("Expected loud noise above threshold, got %v", lvl)
	}
	if mag := a.Magnitude(); mag < DefaultThreshold || mag > 255 {
		t.Fatalf("Expected loud noise magnitude above threshold, got %v", mag)
	}
}

func TestThresholdAppliesToRawMagnitude(t *testing.T) {
	m := New(Options{Clock: clock.NewMock()})
	stream, _ := audioStream(t)
	if _, err := m.Attach(stream, "u1"); err != nil {
		t.Fatal(err)
	}

	// 18 reads as about 21 on the meter scale but is below the raw threshold.
	if Normalize(18) < DefaultThreshold {
		t.Fatalf("Normalize(18) = %v, expected it above the threshold", Normalize(18))
	}
	now := time.Unix(0, 0)
	if got := m.decide(map[string]float64{"u1": 18}, now); got["u1"] {
		t.Error("Raw magnitude 18 should not count as speech")
	}
	if got := m.decide(map[string]float64{"u1": 20}, now); !got["u1"] {
		t.Error("Raw magnitude 20 should count as speech")
	}
}

func TestTickIgnoresQuietStream(t *testing.T) {
	m := New(Options{Clock: clock.NewMock()})
	stream, track := audioStream(t)
	h, err := m.Attach(stream, "u1")
	if err != nil {
		t.Fatal(err)
	}

	track.Push(media.Frame{PCM: make([]int16, FFTSize)})
	for i := 0; i < 5; i++ {
		if got := m.Tick(); got["u1"] {
			t.Fatalf("Silent stream reported speaking, level %v", m.Sample(h))
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(64); got != 75 {
		t.Errorf("Normalize(64) = %v, want 75", got)
	}
	if got := Normalize(255); got != 100 {
		t.Errorf("Normalize(255) = %v, want 100", got)
	}
}

func audioStream(t *testing.T) (*media.Stream, *media.LocalTrack) {
	t.Helper()
	track, err := media.NewLocalTrack(media.KindAudio, "a", "s", "mic", "")
	if err != nil {
		t.Fatal(err)
	}
	return media.NewStream("s", track), track
}

func TestAttachDetach(t *testing.T) {
	m := New(Options{Clock: clock.NewMock()})
	stream, track := audioStream(t)

	h, err := m.Attach(stream, "u1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	track.Push(media.Frame{PCM: noise(FFTSize, 0.8)})
	if m.Sample(h) == 0 {
		t.Fatal("Expected non-zero sample after audio")
	}

	m.Detach("u1")
	m.Detach("u1")
	if m.Attached("u1") {
		t.Error("Handle should be gone after Detach")
	}
	if m.Sample(h) != 0 {
		t.Error("Released handle should sample as silent")
	}

	if _, err := m.Attach(media.NewStream("empty"), "u2"); err != ErrNoAudio {
		t.Errorf("Expected ErrNoAudio, got %v", err)
	}
}

func TestStartLoopPublishesChanges(t *testing.T) {
	mock := clock.NewMock()
	m := New(Options{Clock: mock})
	stream, track := audioStream(t)
	if _, err := m.Attach(stream, SelfID); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan map[string]bool, 16)
	go m.StartLoop(ctx, func(s map[string]bool) { updates <- s })

	track.Push(media.Frame{PCM: noise(FFTSize, 0.8)})

	deadline := time.After(2 * time.Second)
	for {
		mock.Add(DefaultInterval)
		select {
		case s := <-updates:
			if !s[SelfID] {
				t.Fatalf("Expected self speaking, got %v", s)
			}
			return
		case <-deadline:
			t.Fatal("No speaking update published")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
