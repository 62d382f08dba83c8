// Package peer defines the peer-to-peer media transport used by the
// session coordinator and implements it on pion/webrtc.
package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/signaling"
)

// CallKind tags what a call carries.
type CallKind string

const (
	KindPrimary     CallKind = "primary"
	KindScreenShare CallKind = "screen-share"
)

// Metadata travels with the offer so the callee can tell call kinds apart.
type Metadata struct {
	Kind     CallKind
	SharerID string
}

// Primary tags a participant's camera and microphone call.
func Primary() Metadata { return Metadata{Kind: KindPrimary} }

// ScreenShare tags a call carrying sharerID's screen.
func ScreenShare(sharerID string) Metadata {
	return Metadata{Kind: KindScreenShare, SharerID: sharerID}
}

func (m Metadata) wire() *signaling.CallMetadata {
	return &signaling.CallMetadata{Type: string(m.Kind), SharerID: m.SharerID}
}

func metadataFromWire(w *signaling.CallMetadata) Metadata {
	if w == nil || CallKind(w.Type) != KindScreenShare {
		return Primary()
	}
	return ScreenShare(w.SharerID)
}

var (
	ErrNotOpen       = errors.New("peer: transport not open")
	ErrCallClosed    = errors.New("peer: call closed")
	ErrAlreadyAnswer = errors.New("peer: call already answered")
)

// Call is one media association with a single remote peer.
type Call interface {
	ID() string
	Peer() string
	Metadata() Metadata
	// Answer accepts an inbound call, sending stream's tracks. A nil stream
	// answers receive-only.
	Answer(stream *media.Stream) error
	OnStream(fn func(*media.Stream))
	OnClose(fn func())
	Senders() []media.Sender
	// Close hangs up. Safe to call more than once.
	Close() error
}

// Transport places and receives calls.
type Transport interface {
	Open(ctx context.Context, localID string) error
	Call(remoteID string, stream *media.Stream, md Metadata) (Call, error)
	OnCall(fn func(Call))
	Close() error
}

// Events delivers a call's stream and close notifications exactly once,
// including to handlers registered after the fact.
type Events struct {
	mu       sync.Mutex
	stream   *media.Stream
	closed   bool
	onStream func(*media.Stream)
	onClose  func()
}

// OnStream registers fn for the remote stream. A stream that already
// arrived is delivered immediately.
func (e *Events) OnStream(fn func(*media.Stream)) {
	e.mu.Lock()
	e.onStream = fn
	s := e.stream
	e.mu.Unlock()
	if s != nil && fn != nil {
		fn(s)
	}
}

// OnClose registers fn for call closure, running it at once if the call
// is already closed.
func (e *Events) OnClose(fn func()) {
	e.mu.Lock()
	e.onClose = fn
	closed := e.closed
	e.mu.Unlock()
	if closed && fn != nil {
		fn()
	}
}

// EmitStream reports the remote stream once; later calls are ignored.
func (e *Events) EmitStream(s *media.Stream) {
	e.mu.Lock()
	if e.stream != nil || e.closed {
		e.mu.Unlock()
		return
	}
	e.stream = s
	fn := e.onStream
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitClose reports closure once and returns false if it already had.
func (e *Events) EmitClose() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	fn := e.onClose
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Closed reports whether the call has closed.
func (e *Events) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
