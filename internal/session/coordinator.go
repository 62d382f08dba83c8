// Package session reconciles the room roster with the mesh of peer
// connections. All state lives on the goroutine running Run; public
// methods and transport callbacks hop onto it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/BioHazard786/discushy/internal/assistant"
	"github.com/BioHazard786/discushy/internal/device"
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/mixer"
	"github.com/BioHazard786/discushy/internal/peer"
	"github.com/BioHazard786/discushy/internal/roster"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/BioHazard786/discushy/internal/speaking"
)

// Signaler emits room events. *signaling.Client satisfies it.
type Signaler interface {
	Send(msgType string, payload any) error
}

// Options wires a Coordinator to its devices, transport and signaling.
type Options struct {
	RoomID string
	Self   signaling.UserInfo

	Devices *device.Controller
	// Constraints picks the captured kinds. Its zero value captures nothing.
	Constraints media.Constraints
	Mixer       *mixer.Mixer
	Monitor     *speaking.Monitor
	Transport   peer.Transport
	Signaler    Signaler
	// Events carries room events in arrival order. Its closure means the
	// signaling connection is gone.
	Events <-chan *signaling.Message
	// Errors carries server error strings, shown as notices.
	Errors    <-chan string
	View      View
	Assistant *assistant.Client
	Logger    *slog.Logger
}

type peerEntry struct {
	call     peer.Call
	state    PeerState
	outbound bool
	target   RenderTarget
}

type screenState struct {
	local    *media.Stream
	outbound map[string]peer.Call
	inbound  peer.Call
}

// Coordinator runs one participant's side of a meeting. All state is owned
// by the Run goroutine.
type Coordinator struct {
	roomID      string
	self        signaling.UserInfo
	devices     *device.Controller
	constraints media.Constraints
	mixer       *mixer.Mixer
	monitor     *speaking.Monitor
	transport   peer.Transport
	signaler    Signaler
	events      <-chan *signaling.Message
	errs        <-chan string
	view        View
	assistant   *assistant.Client
	logger      *slog.Logger

	actions  chan func()
	speaking chan map[string]bool
	finished chan struct{}

	// Owned by the Run goroutine.
	started     bool
	exiting     bool
	exitErr     error
	local       *media.Stream
	mixed       *media.Stream
	roster      *roster.Roster
	peers       map[string]*peerEntry
	closed      map[string]bool
	speakingMap map[string]bool
	sharerID    string
	screen      screenState
	voice       *assistant.Stream
	ended       bool

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
	last    Snapshot
}

// New creates a coordinator. Call Start, then Run.
func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.View == nil {
		opts.View = nopView{}
	}
	if opts.Monitor == nil {
		opts.Monitor = speaking.New(speaking.Options{Logger: opts.Logger})
	}
	if opts.Mixer == nil {
		opts.Mixer = mixer.New(mixer.Options{Logger: opts.Logger})
	}
	if opts.Self.UserRole == "" {
		opts.Self.UserRole = signaling.RoleMember
	}
	return &Coordinator{
		roomID:      opts.RoomID,
		self:        opts.Self,
		devices:     opts.Devices,
		constraints: opts.Constraints,
		mixer:       opts.Mixer,
		monitor:     opts.Monitor,
		transport:   opts.Transport,
		signaler:    opts.Signaler,
		events:      opts.Events,
		errs:        opts.Errors,
		view:        opts.View,
		assistant:   opts.Assistant,
		logger:      opts.Logger.With("component", "session", "room", opts.RoomID),
		actions:     make(chan func()),
		speaking:    make(chan map[string]bool, 1),
		finished:    make(chan struct{}),
		roster:      roster.New(),
		peers:       make(map[string]*peerEntry),
		closed:      make(map[string]bool),
		speakingMap: make(map[string]bool),
		screen:      screenState{outbound: make(map[string]peer.Call)},
		subs:        make(map[int]func(Snapshot)),
	}
}

// Start acquires local media, builds the mixed stream, opens the
// transport and announces the join. On error nothing is left running.
// It must be called once, before Run.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.started {
		return nil
	}

	local, err := c.devices.Acquire(ctx, c.constraints)
	if err != nil {
		return NewError("acquire media", classify(ErrDevice, err))
	}
	mixed, err := c.mixer.CreateMixedStream(local)
	if err != nil {
		c.devices.Close()
		return NewError("mix audio", classify(ErrDevice, err))
	}
	c.devices.Mirror(mixed)
	c.devices.SetMicrophoneSink(c.mixer)
	c.devices.SetSenderSource(c.senders)

	if _, err := c.monitor.Attach(local, speaking.SelfID); err != nil {
		c.logger.Warn("Local speaking detection unavailable", "error", err)
	}

	c.transport.OnCall(func(call peer.Call) {
		c.post(func() { c.handleInboundCall(call) })
	})
	if err := c.transport.Open(ctx, c.self.UserID); err != nil {
		c.monitor.Detach(speaking.SelfID)
		c.mixer.Close()
		c.devices.Close()
		return NewError("open transport", classify(ErrTransport, err))
	}

	state := c.devices.State()
	c.self.IsMuted = !state.MicOn
	c.self.IsCameraOff = !state.CameraOn
	c.local, c.mixed = local, mixed
	c.roster.Upsert(participant(c.self))
	c.started = true

	if err := c.emit(signaling.TypeJoinRoom, c.self); err != nil {
		c.started = false
		c.teardown()
		return NewError("join room", classify(ErrSignalingDisconnected, err))
	}

	c.logger.Info("Joined room", "user", c.self.UserID, "role", c.self.UserRole)
	c.publish()
	return nil
}

// Run processes events until the session ends. It returns nil after Leave
// or EndMeeting, and a *SessionError for anything else.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started {
		return ErrNotStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.monitor.StartLoop(loopCtx, c.publishSpeaking)

	events, errs := c.events, c.errs
	for !c.exiting {
		select {
		case <-ctx.Done():
			c.stop(nil)

		case fn := <-c.actions:
			fn()

		case m := <-c.speaking:
			c.applySpeaking(m)

		case msg, ok := <-events:
			if !ok {
				events = nil
				c.fail(NewError("signaling", ErrSignalingDisconnected), "Lost connection to the signaling server")
				continue
			}
			c.handleEvent(msg)

		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("Server error", "error", e)
			c.view.Notice(e)
		}
	}

	c.teardown()
	return c.exitErr
}

// do runs fn on the loop and waits for it.
func (c *Coordinator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.actions <- func() { fn(); close(done) }:
	case <-c.finished:
		return ErrLeft
	}
	select {
	case <-done:
		return nil
	case <-c.finished:
		select {
		case <-done:
			return nil
		default:
			return ErrLeft
		}
	}
}

// post queues fn from a transport callback without blocking it.
func (c *Coordinator) post(fn func()) {
	go func() {
		select {
		case c.actions <- fn:
		case <-c.finished:
		}
	}()
}

// publishSpeaking keeps only the newest map when the loop is behind.
func (c *Coordinator) publishSpeaking(m map[string]bool) {
	select {
	case c.speaking <- m:
		return
	default:
	}
	select {
	case <-c.speaking:
	default:
	}
	select {
	case c.speaking <- m:
	default:
	}
}

func (c *Coordinator) stop(err error) {
	if c.exiting {
		return
	}
	c.exiting = true
	c.exitErr = err
}

func (c *Coordinator) fail(err *SessionError, notice string) {
	c.logger.Error("Session failed", "op", err.Op, "peer", err.Peer, "error", err.Err)
	c.view.Notice(notice)
	c.stop(err)
}

func (c *Coordinator) teardown() {
	for id := range c.peers {
		c.dropPeer(id)
	}
	c.stopLocalShare(false)
	if c.screen.inbound != nil {
		c.screen.inbound.Close()
		c.screen.inbound = nil
	}
	if c.sharerID != "" {
		c.sharerID = ""
		c.view.ClearScreen()
	}
	if c.voice != nil {
		c.voice.Close()
		c.voice = nil
	}
	c.monitor.Detach(speaking.SelfID)
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("Transport close", "error", err)
	}
	c.mixer.Close()
	c.devices.Close()
	c.ended = true
	c.publish()
	close(c.finished)
}

func (c *Coordinator) emit(msgType string, payload any) error {
	if err := c.signaler.Send(msgType, payload); err != nil {
		c.logger.Warn("Failed to send event", "type", msgType, "error", err)
		return err
	}
	return nil
}

// Done is closed once the session has been torn down.
func (c *Coordinator) Done() <-chan struct{} { return c.finished }

// SelfID returns the local user id.
func (c *Coordinator) SelfID() string { return c.self.UserID }

// RoomID returns the room code.
func (c *Coordinator) RoomID() string { return c.roomID }

// Leave ends the session. Leaving twice is not an error.
func (c *Coordinator) Leave() error {
	err := c.do(func() { c.stop(nil) })
	if errors.Is(err, ErrLeft) {
		return nil
	}
	return err
}

// EndMeeting closes the room for everyone, then leaves. Host only.
func (c *Coordinator) EndMeeting() error {
	var err error
	if derr := c.do(func() {
		if c.self.UserRole != signaling.RoleHost {
			err = ErrNotHost
			return
		}
		c.emit(signaling.TypeEndMeeting, signaling.MeetingEndedPayload{EndedBy: c.self.UserID})
		c.stop(nil)
	}); derr != nil {
		return derr
	}
	return err
}

// ToggleMic flips the microphone and announces the new state once. It
// returns whether the mic is now on.
func (c *Coordinator) ToggleMic() (bool, error) {
	var on bool
	var err error
	if derr := c.do(func() { on, err = c.toggle(media.KindAudio) }); derr != nil {
		return false, derr
	}
	return on, err
}

// ToggleCamera flips the camera and announces the new state once.
func (c *Coordinator) ToggleCamera() (bool, error) {
	var on bool
	var err error
	if derr := c.do(func() { on, err = c.toggle(media.KindVideo) }); derr != nil {
		return false, derr
	}
	return on, err
}

func (c *Coordinator) toggle(kind media.Kind) (bool, error) {
	if kind == media.KindAudio {
		on, err := c.devices.ToggleMic()
		if err != nil {
			return false, NewError("toggle mic", classify(ErrDevice, err))
		}
		c.self.IsMuted = !on
		c.roster.Update(c.self.UserID, func(p *roster.Participant) { p.IsMuted = !on })
		c.emit(signaling.TypeToggleMic, signaling.ToggleMicPayload{UserID: c.self.UserID, IsMuted: !on})
		c.publish()
		return on, nil
	}

	on, err := c.devices.ToggleCamera()
	if err != nil {
		return false, NewError("toggle camera", classify(ErrDevice, err))
	}
	c.self.IsCameraOff = !on
	c.roster.Update(c.self.UserID, func(p *roster.Participant) { p.IsCameraOff = !on })
	c.emit(signaling.TypeToggleCamera, signaling.ToggleCameraPayload{UserID: c.self.UserID, IsCameraOff: !on})
	c.publish()
	return on, nil
}

// SwitchCamera captures deviceID and swaps it into every outgoing stream.
// On failure the current camera stays active.
func (c *Coordinator) SwitchCamera(ctx context.Context, deviceID string) error {
	if err := c.devices.SwitchCamera(ctx, deviceID); err != nil {
		return NewError("switch camera", classify(ErrDevice, err))
	}
	return c.do(c.publish)
}

// SwitchMicrophone captures deviceID as the mixer's mic input.
func (c *Coordinator) SwitchMicrophone(ctx context.Context, deviceID string) error {
	if err := c.devices.SwitchMicrophone(ctx, deviceID); err != nil {
		return NewError("switch microphone", classify(ErrDevice, err))
	}
	if _, err := c.monitor.Attach(c.devices.Local(), speaking.SelfID); err != nil {
		c.logger.Warn("Local speaking detection unavailable", "error", err)
	}
	return c.do(c.publish)
}

// senders lists the primary connections' senders for a camera swap. It
// must not be called from the loop.
func (c *Coordinator) senders() []media.Sender {
	var out []media.Sender
	_ = c.do(func() {
		for _, e := range c.peers {
			out = append(out, e.call.Senders()...)
		}
	})
	return out
}

// SpeakAssistant streams the assistant's spoken reply into the outgoing
// audio. ctx bounds the whole reply, not just the request.
func (c *Coordinator) SpeakAssistant(ctx context.Context, conv assistant.Conversation) error {
	voice, err := c.assistant.Speak(ctx, conv)
	if err != nil {
		return NewError("assistant", err)
	}
	err = c.do(func() {
		if c.voice != nil {
			c.voice.Close()
		}
		c.voice = voice
		c.mixer.AttachSecondary(voice)
		c.publish()
	})
	if err != nil {
		voice.Close()
	}
	return err
}

// PeerState reports the primary connection state for id.
func (c *Coordinator) PeerState(id string) PeerState {
	var st PeerState
	if err := c.do(func() { st = c.peerState(id) }); err != nil {
		return c.peerState(id)
	}
	return st
}

func (c *Coordinator) peerState(id string) PeerState {
	if e, ok := c.peers[id]; ok {
		return e.state
	}
	if c.closed[id] {
		return StateClosed
	}
	return StateAbsent
}

// Snapshot returns the most recently published state.
func (c *Coordinator) Snapshot() Snapshot {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.last
}

// Subscribe registers fn for every published snapshot. fn runs on the
// session goroutine and must not block or call back into the Coordinator.
func (c *Coordinator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) publish() {
	s := c.snapshot()
	c.subMu.Lock()
	c.last = s
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (c *Coordinator) snapshot() Snapshot {
	state := c.devices.State()
	conns := make(map[string]PeerState, len(c.peers)+len(c.closed))
	for id := range c.closed {
		conns[id] = StateClosed
	}
	for id, e := range c.peers {
		conns[id] = e.state
	}
	return Snapshot{
		RoomID:            c.roomID,
		SelfID:            c.self.UserID,
		Tiles:             roster.Project(c.roster.List(), c.self.UserID, c.speakingMap, c.sharerID),
		SharerID:          c.sharerID,
		Sharing:           c.screen.local != nil,
		CameraOn:          state.CameraOn,
		MicOn:             state.MicOn,
		AssistantSpeaking: c.mixer.SecondaryActive(),
		Connections:       conns,
		Ended:             c.ended,
	}
}

func (c *Coordinator) applySpeaking(m map[string]bool) {
	for id, e := range c.peers {
		if e.target != nil && m[id] != c.speakingMap[id] {
			e.target.SetSpeaking(m[id])
		}
	}
	c.speakingMap = m
	c.publish()
}

func participant(u signaling.UserInfo) roster.Participant {
	return roster.Participant{
		UserID:      u.UserID,
		UserName:    u.UserName,
		UserRole:    u.UserRole,
		IsMuted:     u.IsMuted,
		IsCameraOff: u.IsCameraOff,
	}
}
