package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/discushy/internal/device"
	"github.com/BioHazard786/discushy/internal/logging"
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/mixer"
	"github.com/BioHazard786/discushy/internal/peer"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/BioHazard786/discushy/internal/speaking"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

type rawEncoder struct{}

func (rawEncoder) Encode(pcm []int16) ([]byte, error) { return []byte{byte(len(pcm))}, nil }

type fakeDevices struct {
	fail error
}

func (f *fakeDevices) UserMedia(_ context.Context, c media.Constraints) (*media.Stream, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	s := media.NewStream("local")
	if c.Audio {
		id := c.AudioDeviceID
		if id == "" {
			id = "mic0"
		}
		t, _ := media.NewLocalTrack(media.KindAudio, "a-"+id, "local", id, "")
		s.AddTrack(t)
	}
	if c.Video {
		id := c.VideoDeviceID
		if id == "" {
			id = "cam0"
		}
		t, _ := media.NewLocalTrack(media.KindVideo, "v-"+id, "local", id, "")
		s.AddTrack(t)
	}
	return s, nil
}

func (f *fakeDevices) DisplayMedia(context.Context) (*media.Stream, error) {
	t, err := media.NewLocalTrack(media.KindVideo, "screen-"+uuid.NewString(), "screen", "screen", "")
	if err != nil {
		return nil, err
	}
	return media.NewStream("screen", t), nil
}

func (f *fakeDevices) Enumerate(context.Context) ([]media.DeviceInfo, error) {
	return nil, nil
}

type fakeSender struct {
	mu    sync.Mutex
	kind  media.Kind
	track *media.LocalTrack
}

func (s *fakeSender) Kind() media.Kind { return s.kind }

func (s *fakeSender) Track() *media.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t *media.LocalTrack) error {
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

func sendersFor(stream *media.Stream) []media.Sender {
	if stream == nil {
		return nil
	}
	var out []media.Sender
	for _, t := range stream.LocalTracks() {
		out = append(out, &fakeSender{kind: t.Kind(), track: t})
	}
	return out
}

type fakeCall struct {
	peer.Events
	id     string
	remote string
	md     peer.Metadata

	mu       sync.Mutex
	stream   *media.Stream
	answered bool
	answer   *media.Stream
	senders  []media.Sender
	closes   int
}

func newFakeCall(remote string, md peer.Metadata, stream *media.Stream) *fakeCall {
	return &fakeCall{id: uuid.NewString(), remote: remote, md: md, stream: stream, senders: sendersFor(stream)}
}

func (c *fakeCall) ID() string              { return c.id }
func (c *fakeCall) Peer() string            { return c.remote }
func (c *fakeCall) Metadata() peer.Metadata { return c.md }

func (c *fakeCall) Answer(stream *media.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answered {
		return peer.ErrAlreadyAnswer
	}
	c.answered = true
	c.answer = stream
	c.senders = sendersFor(stream)
	return nil
}

func (c *fakeCall) Senders() []media.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders
}

func (c *fakeCall) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.EmitClose()
	return nil
}

func (c *fakeCall) wasAnswered() (bool, *media.Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered, c.answer
}

func (c *fakeCall) isClosed() bool { return c.Closed() }

type fakeTransport struct {
	mu       sync.Mutex
	self     string
	opened   bool
	closed   bool
	failCall error
	onCall   func(peer.Call)
	calls    []*fakeCall
	board    *switchboard
}

func (t *fakeTransport) Open(_ context.Context, id string) error {
	t.mu.Lock()
	t.self, t.opened = id, true
	board := t.board
	t.mu.Unlock()
	if board != nil {
		board.register(id, t)
	}
	return nil
}

func (t *fakeTransport) Call(remote string, stream *media.Stream, md peer.Metadata) (peer.Call, error) {
	t.mu.Lock()
	if !t.opened {
		t.mu.Unlock()
		return nil, peer.ErrNotOpen
	}
	if t.failCall != nil {
		t.mu.Unlock()
		return nil, t.failCall
	}
	call := newFakeCall(remote, md, stream)
	t.calls = append(t.calls, call)
	board, self := t.board, t.self
	t.mu.Unlock()
	if board != nil {
		board.connect(self, call)
	}
	return call, nil
}

func (t *fakeTransport) OnCall(fn func(peer.Call)) {
	t.mu.Lock()
	t.onCall = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// inbound delivers call as if a remote peer had dialed.
func (t *fakeTransport) inbound(call *fakeCall) {
	t.mu.Lock()
	fn := t.onCall
	t.mu.Unlock()
	fn(call)
}

func (t *fakeTransport) placed() []*fakeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeCall(nil), t.calls...)
}

func (t *fakeTransport) placedTo(remote string, kind peer.CallKind) []*fakeCall {
	var out []*fakeCall
	for _, c := range t.placed() {
		if c.remote == remote && c.md.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// switchboard links fake transports in memory: a placed call shows up on
// the callee as an inbound call, and answering it delivers streams both
// ways.
type switchboard struct {
	mu    sync.Mutex
	peers map[string]*fakeTransport
}

func newSwitchboard() *switchboard {
	return &switchboard{peers: make(map[string]*fakeTransport)}
}

func (b *switchboard) register(id string, t *fakeTransport) {
	b.mu.Lock()
	b.peers[id] = t
	b.mu.Unlock()
}

func (b *switchboard) connect(from string, out *fakeCall) {
	b.mu.Lock()
	callee := b.peers[out.remote]
	b.mu.Unlock()
	if callee == nil {
		go out.Close()
		return
	}

	in := &linkedCall{fakeCall: newFakeCall(from, out.md, nil), other: out}
	go func() {
		callee.inbound(in.fakeCall)
		go in.watch()
	}()
}

// linkedCall mirrors answer and close between the two ends of a call.
type linkedCall struct {
	*fakeCall
	other *fakeCall
}

func (l *linkedCall) watch() {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if l.fakeCall.isClosed() {
			l.other.Close()
			return
		}
		if l.other.isClosed() {
			l.fakeCall.Close()
			return
		}
		if ok, answer := l.fakeCall.wasAnswered(); ok {
			l.fakeCall.EmitStream(remoteCopy(l.other.stream))
			l.other.EmitStream(remoteCopy(answer))
			l.closeWith()
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (l *linkedCall) closeWith() {
	go func() {
		for !l.fakeCall.isClosed() && !l.other.isClosed() {
			time.Sleep(5 * time.Millisecond)
		}
		l.fakeCall.Close()
		l.other.Close()
	}()
}

func remoteCopy(s *media.Stream) *media.Stream {
	out := media.NewStream("remote-" + uuid.NewString())
	if s == nil {
		return out
	}
	for _, t := range s.Tracks() {
		out.AddTrack(media.NewRemoteTrack(t.ID(), t.Kind()))
	}
	return out
}

type sentEvent struct {
	Type    string
	Payload any
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentEvent
	fail error
}

func (s *fakeSignaler) Send(msgType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, sentEvent{Type: msgType, Payload: payload})
	return nil
}

func (s *fakeSignaler) ofType(msgType string) []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentEvent
	for _, e := range s.sent {
		if e.Type == msgType {
			out = append(out, e)
		}
	}
	return out
}

type targetState struct {
	attached  int
	released  int
	label     string
	muted     bool
	cameraOff bool
	speaking  bool
}

type fakeTarget struct {
	mu sync.Mutex
	st targetState
}

func (t *fakeTarget) Attach(*media.Stream) { t.update(func(s *targetState) { s.attached++ }) }
func (t *fakeTarget) SetLabel(n string)    { t.update(func(s *targetState) { s.label = n }) }
func (t *fakeTarget) SetMuted(m bool)      { t.update(func(s *targetState) { s.muted = m }) }
func (t *fakeTarget) SetCameraOff(o bool)  { t.update(func(s *targetState) { s.cameraOff = o }) }
func (t *fakeTarget) SetSpeaking(v bool)   { t.update(func(s *targetState) { s.speaking = v }) }
func (t *fakeTarget) Release()             { t.update(func(s *targetState) { s.released++ }) }

func (t *fakeTarget) update(fn func(*targetState)) {
	t.mu.Lock()
	fn(&t.st)
	t.mu.Unlock()
}

func (t *fakeTarget) get() targetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

type fakeView struct {
	mu      sync.Mutex
	targets map[string][]*fakeTarget
	screen  string
	shown   int
	cleared int
	notices []string
}

func newFakeView() *fakeView {
	return &fakeView{targets: make(map[string][]*fakeTarget)}
}

func (v *fakeView) NewTarget(id string) RenderTarget {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &fakeTarget{}
	v.targets[id] = append(v.targets[id], t)
	return t
}

func (v *fakeView) ShowScreen(sharer string, _ *media.Stream) {
	v.mu.Lock()
	v.screen = sharer
	v.shown++
	v.mu.Unlock()
}

func (v *fakeView) ClearScreen() {
	v.mu.Lock()
	v.screen = ""
	v.cleared++
	v.mu.Unlock()
}

func (v *fakeView) Notice(msg string) {
	v.mu.Lock()
	v.notices = append(v.notices, msg)
	v.mu.Unlock()
}

func (v *fakeView) target(id string) *fakeTarget {
	v.mu.Lock()
	defer v.mu.Unlock()
	ts := v.targets[id]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (v *fakeView) screenState() (string, int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.screen, v.shown, v.cleared
}

func (v *fakeView) noticeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.notices)
}

type harness struct {
	c       *Coordinator
	tr      *fakeTransport
	sig     *fakeSignaler
	view    *fakeView
	devices *device.Controller
	events  chan *signaling.Message
	result  chan error
}

type harnessOptions struct {
	role        string
	signaler    Signaler
	transport   *fakeTransport
	constraints *media.Constraints
}

func startHarness(t *testing.T, selfID string, hopts harnessOptions) *harness {
	t.Helper()

	h := &harness{
		tr:     hopts.transport,
		sig:    &fakeSignaler{},
		view:   newFakeView(),
		events: make(chan *signaling.Message, 16),
		result: make(chan error, 1),
	}
	if h.tr == nil {
		h.tr = &fakeTransport{}
	}
	signaler := hopts.signaler
	if signaler == nil {
		signaler = h.sig
	}
	role := hopts.role
	if role == "" {
		role = signaling.RoleMember
	}
	constraints := media.Constraints{Audio: true, Video: true}
	if hopts.constraints != nil {
		constraints = *hopts.constraints
	}

	logger := logging.Discard()
	clk := clock.NewMock()
	h.devices = device.New(&fakeDevices{}, logger)
	h.c = New(Options{
		RoomID:    "room-1",
		Self:        signaling.UserInfo{UserID: selfID, UserName: strings.ToUpper(selfID), UserRole: role},
		Devices:     h.devices,
		Constraints: constraints,
		Mixer:       mixer.New(mixer.Options{Encoder: rawEncoder{}, Clock: clk, Logger: logger}),
		Monitor:     speaking.New(speaking.Options{Clock: clk, Logger: logger}),
		Transport:   h.tr,
		Signaler:    signaler,
		Events:      h.events,
		View:        h.view,
		Logger:      logger,
	})

	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	go func() { h.result <- h.c.Run(context.Background()) }()

	t.Cleanup(func() {
		h.c.Leave()
		select {
		case <-h.c.Done():
		case <-time.After(2 * time.Second):
			t.Error("session did not shut down")
		}
	})
	return h
}

// send delivers a server event encoded on the JSON wire.
func (h *harness) send(t *testing.T, msgType string, payload any) {
	t.Helper()
	codec := signaling.JSONCodec{}
	data, err := codec.Encode(msgType, "room-1", payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	msg, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", msgType, err)
	}
	h.events <- msg
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func user(id string) signaling.UserInfo {
	return signaling.UserInfo{UserID: id, UserName: strings.ToUpper(id), UserRole: signaling.RoleMember}
}

func remoteStream(id string) *media.Stream {
	return media.NewStream("remote-"+id,
		media.NewRemoteTrack("ra-"+id, media.KindAudio),
		media.NewRemoteTrack("rv-"+id, media.KindVideo),
	)
}

var errDial = errors.New("dial refused")
