package session

import (
	"errors"
	"fmt"
)

var (
	ErrDevice                = errors.New("device error")
	ErrTransport             = errors.New("transport error")
	ErrSignalingDisconnected = errors.New("signaling server disconnected")
	ErrMeetingEnded          = errors.New("meeting ended by host")
	ErrLeft                  = errors.New("left the meeting")
	ErrNotStarted            = errors.New("session not started")
	ErrNotHost               = errors.New("only the host can end the meeting")
)

// SessionError wraps a session failure with the operation and, when
// known, the remote peer.
type SessionError struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *SessionError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewError creates a SessionError for op.
func NewError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

// NewPeerError creates a SessionError tied to one peer.
func NewPeerError(op, peer string, err error) *SessionError {
	return &SessionError{Op: op, Peer: peer, Err: err}
}

// WrapError creates a SessionError with extra details.
func WrapError(op string, err error, details string) *SessionError {
	return &SessionError{Op: op, Err: err, Details: details}
}

// classify tags cause with a sentinel while keeping it matchable.
func classify(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
