package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

const maxEarlyCandidates = 32

// SignalSender relays peer signals to the signaling server.
type SignalSender interface {
	Send(msgType string, payload any) error
}

// PionOptions configures a PionTransport.
type PionOptions struct {
	Config        webrtc.Configuration
	Sender        SignalSender
	Signals       <-chan *signaling.PeerSignalPayload
	LoggerFactory logging.LoggerFactory
	Logger        *slog.Logger
}

// PionTransport runs one pion PeerConnection per call and exchanges SDP
// and ICE through peer-signal messages.
type PionTransport struct {
	api     *webrtc.API
	config  webrtc.Configuration
	sender  SignalSender
	signals <-chan *signaling.PeerSignalPayload
	logger  *slog.Logger

	mu      sync.Mutex
	localID string
	calls   map[string]*pionCall
	early   map[string][]webrtc.ICECandidateInit
	onCall  func(Call)
	done    chan struct{}
	closed  bool
}

// NewPionTransport creates a transport. Call Open before placing calls.
func NewPionTransport(opts PionOptions) (*PionTransport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	s := webrtc.SettingEngine{}
	if opts.LoggerFactory != nil {
		s.LoggerFactory = opts.LoggerFactory
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PionTransport{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)),
		config:  opts.Config,
		sender:  opts.Sender,
		signals: opts.Signals,
		logger:  logger.With("component", "peer"),
		calls:   make(map[string]*pionCall),
		early:   make(map[string][]webrtc.ICECandidateInit),
		done:    make(chan struct{}),
	}, nil
}

// Open binds the transport to localID and starts consuming signals.
func (t *PionTransport) Open(ctx context.Context, localID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrNotOpen
	}
	t.localID = localID
	t.mu.Unlock()

	go t.route(ctx)
	return nil
}

// OnCall registers the handler for inbound calls.
func (t *PionTransport) OnCall(fn func(Call)) {
	t.mu.Lock()
	t.onCall = fn
	t.mu.Unlock()
}

func (t *PionTransport) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case sig, ok := <-t.signals:
			if !ok {
				return
			}
			t.handleSignal(sig)
		}
	}
}

func (t *PionTransport) handleSignal(sig *signaling.PeerSignalPayload) {
	t.mu.Lock()
	if sig.To != "" && sig.To != t.localID {
		t.mu.Unlock()
		return
	}
	call := t.calls[sig.CallID]
	t.mu.Unlock()

	if sig.Kind == signaling.SignalOffer {
		if call != nil {
			t.logger.Debug("Ignoring renegotiation offer", "call", sig.CallID)
			return
		}
		t.acceptOffer(sig)
		return
	}
	if call == nil {
		// Trickled candidates can overtake their offer.
		if sig.Kind == signaling.SignalCandidate && sig.Candidate != nil {
			t.mu.Lock()
			if len(t.early[sig.CallID]) < maxEarlyCandidates {
				t.early[sig.CallID] = append(t.early[sig.CallID], candidateInit(sig.Candidate))
			}
			t.mu.Unlock()
		}
		if sig.Kind == signaling.SignalHangup {
			t.forget(sig.CallID)
		}
		return
	}

	var err error
	switch sig.Kind {
	case signaling.SignalAnswer:
		err = call.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP})
	case signaling.SignalCandidate:
		if sig.Candidate != nil {
			err = call.addCandidate(candidateInit(sig.Candidate))
		}
	case signaling.SignalHangup:
		call.shutdown(false)
	}
	if err != nil {
		t.logger.Warn("Signal handling failed", "call", sig.CallID, "kind", sig.Kind, "error", err)
		call.shutdown(true)
	}
}

// Call dials remoteID with stream's local tracks.
func (t *PionTransport) Call(remoteID string, stream *media.Stream, md Metadata) (Call, error) {
	t.mu.Lock()
	localID, closed := t.localID, t.closed
	t.mu.Unlock()
	if closed || localID == "" {
		return nil, ErrNotOpen
	}

	call, err := t.newCall(uuid.NewString(), remoteID, md)
	if err != nil {
		return nil, err
	}
	if err := call.addStream(stream); err != nil {
		call.shutdown(false)
		return nil, err
	}

	offer, err := call.pc.CreateOffer(nil)
	if err != nil {
		call.shutdown(false)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := call.pc.SetLocalDescription(offer); err != nil {
		call.shutdown(false)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	err = t.send(&signaling.PeerSignalPayload{
		To:       remoteID,
		CallID:   call.id,
		Kind:     signaling.SignalOffer,
		SDP:      call.pc.LocalDescription().SDP,
		Metadata: md.wire(),
	})
	if err != nil {
		call.shutdown(false)
		return nil, err
	}

	t.logger.Debug("Placed call", "call", call.id, "peer", remoteID, "kind", md.Kind)
	return call, nil
}

func (t *PionTransport) acceptOffer(sig *signaling.PeerSignalPayload) {
	call, err := t.newCall(sig.CallID, sig.From, metadataFromWire(sig.Metadata))
	if err != nil {
		t.logger.Warn("Failed to create inbound call", "error", err)
		return
	}
	call.inbound = true

	if err := call.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}); err != nil {
		t.logger.Warn("Rejecting malformed offer", "call", sig.CallID, "error", err)
		call.shutdown(true)
		return
	}

	t.mu.Lock()
	early := t.early[sig.CallID]
	delete(t.early, sig.CallID)
	t.mu.Unlock()
	for _, cand := range early {
		if err := call.addCandidate(cand); err != nil {
			t.logger.Debug("Dropping early candidate", "call", sig.CallID, "error", err)
		}
	}

	t.mu.Lock()
	fn := t.onCall
	t.mu.Unlock()
	if fn == nil {
		call.shutdown(true)
		return
	}
	fn(call)
}

func (t *PionTransport) newCall(id, remoteID string, md Metadata) (*pionCall, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	call := &pionCall{
		id:        id,
		peer:      remoteID,
		md:        md,
		pc:        pc,
		transport: t,
		tracks:    make(map[*webrtc.RTPSender]*media.LocalTrack),
		logger:    t.logger.With("call", id, "peer", remoteID),
	}
	call.remote = media.NewStream(id)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.send(&signaling.PeerSignalPayload{
			To:     remoteID,
			CallID: id,
			Kind:   signaling.SignalCandidate,
			Candidate: &signaling.Candidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			},
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		call.logger.Debug("Connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			call.shutdown(state == webrtc.PeerConnectionStateFailed)
		}
	})

	pc.OnTrack(call.handleTrack)

	t.mu.Lock()
	t.calls[id] = call
	t.mu.Unlock()
	return call, nil
}

func (t *PionTransport) forget(id string) {
	t.mu.Lock()
	delete(t.calls, id)
	delete(t.early, id)
	t.mu.Unlock()
}

func candidateInit(c *signaling.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func (t *PionTransport) send(p *signaling.PeerSignalPayload) error {
	t.mu.Lock()
	p.From = t.localID
	t.mu.Unlock()
	if err := t.sender.Send(signaling.TypePeerSignal, p); err != nil {
		return fmt.Errorf("relay %s: %w", p.Kind, err)
	}
	return nil
}

// Close hangs up every call.
func (t *PionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	calls := make([]*pionCall, 0, len(t.calls))
	for _, c := range t.calls {
		calls = append(calls, c)
	}
	t.mu.Unlock()

	var errs []error
	for _, c := range calls {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
