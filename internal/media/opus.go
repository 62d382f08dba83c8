package media

import (
	"fmt"
	"time"

	"github.com/hraban/opus"
)

// Audio format shared by capture, mixing and the wire.
const (
	SampleRate    = 48000
	Channels      = 1
	FrameDuration = 20 * time.Millisecond
	FrameSamples  = SampleRate / 1000 * int(FrameDuration/time.Millisecond)

	maxPacketSize  = 4000
	maxDecodeFrame = FrameSamples * 6
)

// Encoder turns one PCM frame into a wire packet.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder turns one wire packet into PCM samples.
type Decoder interface {
	Decode(packet []byte) ([]int16, error)
}

type opusEncoder struct {
	enc *opus.Encoder
	buf []byte
}

// NewOpusEncoder returns a VoIP-tuned mono encoder at SampleRate.
func NewOpusEncoder() (Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, buf: make([]byte, maxPacketSize)}, nil
}

func (e *opusEncoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

type opusDecoder struct {
	dec *opus.Decoder
	pcm []int16
}

// NewOpusDecoder returns a mono decoder at SampleRate.
func NewOpusDecoder() (Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, pcm: make([]int16, maxDecodeFrame)}, nil
}

func (d *opusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return nil, err
	}
	out := make([]int16, n)
	copy(out, d.pcm[:n])
	return out, nil
}
