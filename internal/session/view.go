package session

import (
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/roster"
)

// RenderTarget shows one remote participant.
type RenderTarget interface {
	Attach(stream *media.Stream)
	SetLabel(name string)
	SetMuted(muted bool)
	SetCameraOff(off bool)
	SetSpeaking(speaking bool)
	Release()
}

// View is the presentation side of a meeting.
type View interface {
	NewTarget(userID string) RenderTarget
	ShowScreen(sharerID string, stream *media.Stream)
	ClearScreen()
	Notice(msg string)
}

// PeerState is the lifecycle of the primary connection to one remote id.
type PeerState int

const (
	StateAbsent PeerState = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the lower-case state name.
func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "absent"
	}
}

// Snapshot is the render-ready state published after every change.
type Snapshot struct {
	RoomID            string
	SelfID            string
	Tiles             []roster.Tile
	SharerID          string
	Sharing           bool
	CameraOn          bool
	MicOn             bool
	AssistantSpeaking bool
	Connections       map[string]PeerState
	Ended             bool
}

type nopView struct{}

func (nopView) NewTarget(string) RenderTarget    { return nopTarget{} }
func (nopView) ShowScreen(string, *media.Stream) {}
func (nopView) ClearScreen()                     {}
func (nopView) Notice(string)                    {}

type nopTarget struct{}

func (nopTarget) Attach(*media.Stream) {}
func (nopTarget) SetLabel(string)      {}
func (nopTarget) SetMuted(bool)        {}
func (nopTarget) SetCameraOff(bool)    {}
func (nopTarget) SetSpeaking(bool)     {}
func (nopTarget) Release()             {}
