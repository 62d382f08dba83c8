package media

import (
	"errors"
	"io"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack is a track received from a peer.
type RemoteTrack struct {
	trackState
}

// NewRemoteTrack creates an empty remote track; frames arrive via Deliver
// or Pump.
func NewRemoteTrack(id string, kind Kind) *RemoteTrack {
	t := &RemoteTrack{}
	t.init(id, kind)
	return t
}

// Deliver hands one received frame to the track's consumers.
func (t *RemoteTrack) Deliver(f Frame) { t.deliver(f) }

// Stop ends the track locally.
func (t *RemoteTrack) Stop() { t.end() }

// Pump reads RTP from src until it fails, decoding audio payloads with dec
// when one is given. The track ends when the read loop exits.
func (t *RemoteTrack) Pump(src *webrtc.TrackRemote, dec Decoder) error {
	defer t.end()

	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(pkt.Payload) == 0 || t.Ended() {
			continue
		}

		f := Frame{Data: pkt.Payload}
		if t.kind == KindAudio {
			f.Duration = FrameDuration
			if dec != nil {
				pcm, err := dec.Decode(pkt.Payload)
				if err != nil {
					continue
				}
				f.PCM = pcm
			}
		}
		t.deliver(f)
	}
}
