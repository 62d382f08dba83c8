package ui

import (
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/session"
)

const maxNotices = 3

// Terminal is the session.View for a text terminal. Video cannot be drawn,
// so each target counts the frames it receives instead.
type Terminal struct {
	mu      sync.Mutex
	targets map[string]*Target
	screen  screenFeed
	notices []string

	// changed is signalled, without blocking, whenever anything visible
	// changes outside a snapshot.
	changed chan struct{}
}

type screenFeed struct {
	sharerID string
	frames   *atomic.Int64
	untap    []func()
}

// NewTerminal creates an empty terminal view.
func NewTerminal() *Terminal {
	return &Terminal{
		targets: make(map[string]*Target),
		changed: make(chan struct{}, 1),
	}
}

// NewTarget creates the render target for userID, replacing any older one.
func (t *Terminal) NewTarget(userID string) session.RenderTarget {
	target := &Target{userID: userID, term: t}
	t.mu.Lock()
	if old, ok := t.targets[userID]; ok {
		old.detach()
	}
	t.targets[userID] = target
	t.mu.Unlock()
	t.notify()
	return target
}

// ShowScreen displays the stream shared by sharerID.
func (t *Terminal) ShowScreen(sharerID string, stream *media.Stream) {
	t.mu.Lock()
	for _, fn := range t.screen.untap {
		fn()
	}
	frames := new(atomic.Int64)
	t.screen = screenFeed{sharerID: sharerID, frames: frames}
	for _, track := range stream.VideoTracks() {
		t.screen.untap = append(t.screen.untap, track.Tap(func(media.Frame) { frames.Add(1) }))
	}
	t.mu.Unlock()
	t.notify()
}

// ClearScreen removes the shared screen.
func (t *Terminal) ClearScreen() {
	t.mu.Lock()
	for _, fn := range t.screen.untap {
		fn()
	}
	t.screen = screenFeed{}
	t.mu.Unlock()
	t.notify()
}

// Notice records a user-facing message, keeping the latest few.
func (t *Terminal) Notice(msg string) {
	t.mu.Lock()
	t.notices = append(t.notices, msg)
	if len(t.notices) > maxNotices {
		t.notices = t.notices[len(t.notices)-maxNotices:]
	}
	t.mu.Unlock()
	t.notify()
}

// Changed fires after target, screen or notice updates.
func (t *Terminal) Changed() <-chan struct{} { return t.changed }

func (t *Terminal) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// TargetView is a point-in-time copy of one target.
type TargetView struct {
	UserID      string
	Label       string
	Muted       bool
	CameraOff   bool
	Speaking    bool
	VideoFrames int64
	AudioFrames int64
}

// Targets reports every live target keyed by user id.
func (t *Terminal) Targets() map[string]TargetView {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TargetView, len(t.targets))
	for id, target := range t.targets {
		out[id] = target.view()
	}
	return out
}

// Screen reports the shown share and how many frames it has delivered.
func (t *Terminal) Screen() (sharerID string, frames int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.screen.frames == nil {
		return "", 0
	}
	return t.screen.sharerID, t.screen.frames.Load()
}

// Notices returns the recent notices, oldest first.
func (t *Terminal) Notices() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.notices...)
}

// Target renders one remote participant.
type Target struct {
	userID string
	term   *Terminal

	mu        sync.Mutex
	label     string
	muted     bool
	cameraOff bool
	speaking  bool
	untap     []func()

	video atomic.Int64
	audio atomic.Int64
}

// Attach starts counting frames from stream.
func (g *Target) Attach(stream *media.Stream) {
	g.mu.Lock()
	g.detachLocked()
	for _, track := range stream.VideoTracks() {
		g.untap = append(g.untap, track.Tap(func(media.Frame) { g.video.Add(1) }))
	}
	for _, track := range stream.AudioTracks() {
		g.untap = append(g.untap, track.Tap(func(media.Frame) { g.audio.Add(1) }))
	}
	g.mu.Unlock()
	g.term.notify()
}

// SetLabel sets the displayed name.
func (g *Target) SetLabel(name string) { g.set(func() { g.label = name }) }

func (g *Target) SetMuted(muted bool) { g.set(func() { g.muted = muted }) }

func (g *Target) SetCameraOff(off bool) { g.set(func() { g.cameraOff = off }) }

func (g *Target) SetSpeaking(speaking bool) { g.set(func() { g.speaking = speaking }) }

// Release stops counting and removes the target from its terminal.
func (g *Target) Release() {
	g.detach()
	g.term.mu.Lock()
	if g.term.targets[g.userID] == g {
		delete(g.term.targets, g.userID)
	}
	g.term.mu.Unlock()
	g.term.notify()
}

func (g *Target) set(fn func()) {
	g.mu.Lock()
	fn()
	g.mu.Unlock()
	g.term.notify()
}

func (g *Target) detach() {
	g.mu.Lock()
	g.detachLocked()
	g.mu.Unlock()
}

func (g *Target) detachLocked() {
	for _, fn := range g.untap {
		fn()
	}
	g.untap = nil
}

func (g *Target) view() TargetView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return TargetView{
		UserID:      g.userID,
		Label:       g.label,
		Muted:       g.muted,
		CameraOff:   g.cameraOff,
		Speaking:    g.speaking,
		VideoFrames: g.video.Load(),
		AudioFrames: g.audio.Load(),
	}
}
