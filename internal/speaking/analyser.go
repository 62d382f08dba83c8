package speaking

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser settings mirror a browser AnalyserNode.
const (
	FFTSize     = 512
	Smoothing   = 0.4
	MinDecibels = -100.0
	MaxDecibels = -30.0
)

// Analyser keeps the most recent FFTSize samples of a PCM stream and
// derives byte frequency data from them.
type Analyser struct {
	mu       sync.Mutex
	fft      *fourier.FFT
	ring     []float64
	pos      int
	seq      []float64
	coeff    []complex128
	smoothed []float64
	bytes    []uint8
}

// NewAnalyser creates a silent analyser.
func NewAnalyser() *Analyser {
	return &Analyser{
		fft:      fourier.NewFFT(FFTSize),
		ring:     make([]float64, FFTSize),
		seq:      make([]float64, FFTSize),
		coeff:    make([]complex128, FFTSize/2+1),
		smoothed: make([]float64, FFTSize/2),
		bytes:    make([]uint8, FFTSize/2),
	}
}

// Write appends PCM samples to the analysis window.
func (a *Analyser) Write(pcm []int16) {
	a.mu.Lock()
	for _, s := range pcm {
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % FFTSize
	}
	a.mu.Unlock()
}

// ByteFrequencyData returns FFTSize/2 bins scaled to 0..255 across the
// decibel range. The returned slice is owned by the caller.
func (a *Analyser) ByteFrequencyData() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.seq {
		a.seq[i] = a.ring[(a.pos+i)%FFTSize]
	}
	window.Blackman(a.seq)
	a.coeff = a.fft.Coefficients(a.coeff, a.seq)

	scale := 255 / (MaxDecibels - MinDecibels)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeff[k]) / FFTSize
		a.smoothed[k] = Smoothing*a.smoothed[k] + (1-Smoothing)*mag

		db := 20 * math.Log10(a.smoothed[k])
		v := (db - MinDecibels) * scale
		switch {
		case math.IsInf(db, -1) || v < 0:
			a.bytes[k] = 0
		case v > 255:
			a.bytes[k] = 255
		default:
			a.bytes[k] = uint8(v)
		}
	}

	return append([]uint8(nil), a.bytes...)
}

// Magnitude is the average of ByteFrequencyData on its 0..255 scale.
// Speaking detection compares this against the threshold.
func (a *Analyser) Magnitude() float64 {
	return Average(a.ByteFrequencyData())
}

// Level is Magnitude normalized to [0,100] for level meters.
func (a *Analyser) Level() float64 {
	return Normalize(a.Magnitude())
}

// Average is the mean of bins, 0 when empty.
func Average(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}

// Normalize maps an average byte magnitude onto [0,100] with the meter's
// 1.5x boost. It is for display only.
func Normalize(avg float64) float64 {
	return math.Min(100, avg/128*100*1.5)
}
