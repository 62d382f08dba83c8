package assistant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/hajimehoshi/go-mp3"
)

const decodeChunk = 4096

// Stream decodes MP3 in the background and serves 48 kHz mono PCM. Read
// never blocks: with nothing decoded yet it returns 0, nil.
type Stream struct {
	body   io.ReadCloser
	logger *slog.Logger

	mu   sync.Mutex
	buf  []int16
	done bool
	err  error
}

func newStream(body io.ReadCloser, logger *slog.Logger) *Stream {
	s := &Stream{body: body, logger: logger}
	go s.decode()
	return s
}

func (s *Stream) decode() {
	dec, err := mp3.NewDecoder(s.body)
	if err != nil {
		s.finish(fmt.Errorf("decode mp3: %w", err))
		return
	}

	rs := newResampler(dec.SampleRate(), media.SampleRate)
	raw := make([]byte, decodeChunk)
	for {
		n, err := dec.Read(raw)
		if n > 0 {
			out := rs.process(stereoToMono(raw[:n]))
			s.mu.Lock()
			s.buf = append(s.buf, out...)
			s.mu.Unlock()
		}
		if errors.Is(err, io.EOF) {
			s.finish(nil)
			return
		}
		if err != nil {
			s.finish(fmt.Errorf("decode mp3: %w", err))
			return
		}
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.done = true
	s.err = err
	s.mu.Unlock()
	s.body.Close()
	if err != nil {
		s.logger.Warn("Assistant audio ended early", "error", err)
	}
}

// Read implements the mixer source contract.
func (s *Stream) Read(pcm []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(pcm, s.buf)
	s.buf = s.buf[n:]
	if n == 0 && s.done {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	return n, nil
}

// Close abandons the download.
func (s *Stream) Close() error {
	return s.body.Close()
}

// stereoToMono averages interleaved 16-bit little-endian stereo frames.
func stereoToMono(raw []byte) []int16 {
	frames := len(raw) / 4
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		r := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		out[i] = int16((int32(l) + int32(r)) / 2)
	}
	return out
}

// resampler converts between rates by linear interpolation, carrying its
// position across chunks.
type resampler struct {
	step    float64
	pos     float64
	pending []int16
}

func newResampler(from, to int) *resampler {
	return &resampler{step: float64(from) / float64(to)}
}

func (r *resampler) process(in []int16) []int16 {
	r.pending = append(r.pending, in...)

	var out []int16
	for {
		i := int(r.pos)
		if i+1 >= len(r.pending) {
			break
		}
		frac := r.pos - float64(i)
		v := float64(r.pending[i])*(1-frac) + float64(r.pending[i+1])*frac
		out = append(out, int16(v))
		r.pos += r.step
	}

	drop := min(int(r.pos), len(r.pending)-1)
	if drop > 0 {
		r.pending = r.pending[drop:]
		r.pos -= float64(drop)
	}
	return out
}
