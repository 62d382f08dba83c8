package peer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/pion/webrtc/v4"
)

type pionCall struct {
	Events

	id        string
	peer      string
	md        Metadata
	pc        *webrtc.PeerConnection
	transport *PionTransport
	logger    *slog.Logger
	inbound   bool

	mu       sync.Mutex
	answered bool
	pending  []webrtc.ICECandidateInit
	tracks   map[*webrtc.RTPSender]*media.LocalTrack
	remote   *media.Stream
	expected int
	closing  bool
}

func (c *pionCall) ID() string         { return c.id }
func (c *pionCall) Peer() string       { return c.peer }
func (c *pionCall) Metadata() Metadata { return c.md }

func (c *pionCall) addStream(stream *media.Stream) error {
	if stream == nil {
		return nil
	}
	for _, t := range stream.LocalTracks() {
		sender, err := c.pc.AddTrack(t.RTP())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		c.mu.Lock()
		c.tracks[sender] = t
		c.mu.Unlock()
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP keeps interceptors fed until the sender closes.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *pionCall) Answer(stream *media.Stream) error {
	c.mu.Lock()
	if !c.inbound || c.answered {
		c.mu.Unlock()
		return ErrAlreadyAnswer
	}
	c.answered = true
	c.mu.Unlock()

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return ErrCallClosed
	}
	if err := c.addStream(stream); err != nil {
		return err
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	return c.transport.send(&signaling.PeerSignalPayload{
		To:     c.peer,
		CallID: c.id,
		Kind:   signaling.SignalAnswer,
		SDP:    c.pc.LocalDescription().SDP,
	})
}

// setRemote applies desc and flushes candidates that arrived early.
func (c *pionCall) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	expected, err := remoteSending(desc)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.expected = expected
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
	}
	return nil
}

// remoteSending counts the media sections the remote side sends on, which
// is how many tracks make up its stream.
func remoteSending(desc webrtc.SessionDescription) (int, error) {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return 0, fmt.Errorf("parse remote description: %w", err)
	}
	n := 0
	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media != "audio" && m.MediaName.Media != "video" {
			continue
		}
		if _, ok := m.Attribute("recvonly"); ok {
			continue
		}
		if _, ok := m.Attribute("inactive"); ok {
			continue
		}
		n++
	}
	return n, nil
}

func (c *pionCall) addCandidate(cand webrtc.ICECandidateInit) error {
	if c.pc.RemoteDescription() == nil {
		c.mu.Lock()
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (c *pionCall) handleTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := media.KindVideo
	var dec media.Decoder
	if remote.Kind() == webrtc.RTPCodecTypeAudio {
		kind = media.KindAudio
		d, err := media.NewOpusDecoder()
		if err != nil {
			c.logger.Warn("Remote audio will not be analysed", "error", err)
		} else {
			dec = d
		}
	}

	track := media.NewRemoteTrack(remote.ID(), kind)
	c.remote.AddTrack(track)

	go func() {
		if err := track.Pump(remote, dec); err != nil {
			c.logger.Debug("Remote track ended", "track", remote.ID(), "error", err)
		}
	}()

	c.mu.Lock()
	ready := len(c.remote.Tracks()) >= c.expected
	c.mu.Unlock()
	if ready {
		c.EmitStream(c.remote)
	}
}

func (c *pionCall) Senders() []media.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.Sender, 0, len(c.tracks))
	for rtp, track := range c.tracks {
		out = append(out, &pionSender{call: c, rtp: rtp, kind: track.Kind()})
	}
	return out
}

func (c *pionCall) Close() error {
	c.shutdown(true)
	return nil
}

// shutdown closes the connection once. notify sends a hangup to the peer.
func (c *pionCall) shutdown(notify bool) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.mu.Unlock()

	c.transport.forget(c.id)
	if notify {
		c.transport.send(&signaling.PeerSignalPayload{
			To:     c.peer,
			CallID: c.id,
			Kind:   signaling.SignalHangup,
		})
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Debug("Peer connection close failed", "error", err)
	}
	c.remote.Stop()
	c.EmitClose()
}

type pionSender struct {
	call *pionCall
	rtp  *webrtc.RTPSender
	kind media.Kind
}

func (s *pionSender) Kind() media.Kind { return s.kind }

func (s *pionSender) Track() *media.LocalTrack {
	s.call.mu.Lock()
	defer s.call.mu.Unlock()
	return s.call.tracks[s.rtp]
}

func (s *pionSender) ReplaceTrack(t *media.LocalTrack) error {
	if err := s.rtp.ReplaceTrack(t.RTP()); err != nil {
		return fmt.Errorf("replace %s track: %w", s.kind, err)
	}
	s.call.mu.Lock()
	s.call.tracks[s.rtp] = t
	s.call.mu.Unlock()
	return nil
}
