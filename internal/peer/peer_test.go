package peer

import (
	"context"
	"testing"
	"time"

	"github.com/BioHazard786/discushy/internal/config"
	"github.com/BioHazard786/discushy/internal/logging"
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// relay delivers every peer signal to the addressed transport's inbox,
// the way the hub does.
type relay struct {
	inboxes map[string]chan *signaling.PeerSignalPayload
}

type relaySender struct {
	r *relay
}

func (s relaySender) Send(msgType string, payload any) error {
	p := *payload.(*signaling.PeerSignalPayload)
	if inbox, ok := s.r.inboxes[p.To]; ok {
		inbox <- &p
	}
	return nil
}

func newPair(t *testing.T) (*PionTransport, *PionTransport) {
	t.Helper()
	r := &relay{inboxes: map[string]chan *signaling.PeerSignalPayload{
		"a": make(chan *signaling.PeerSignalPayload, 128),
		"b": make(chan *signaling.PeerSignalPayload, 128),
	}}

	mk := func(id string) *PionTransport {
		tr, err := NewPionTransport(PionOptions{
			Sender:        relaySender{r: r},
			Signals:       r.inboxes[id],
			LoggerFactory: logging.NewPionFactory(logging.Discard()),
			Logger:        logging.Discard(),
		})
		if err != nil {
			t.Fatalf("NewPionTransport failed: %v", err)
		}
		if err := tr.Open(context.Background(), id); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { tr.Close() })
		return tr
	}
	return mk("a"), mk("b")
}

func localStream(t *testing.T) *media.Stream {
	t.Helper()
	audio, err := media.NewLocalTrack(media.KindAudio, "audio", "local", "mic", "")
	if err != nil {
		t.Fatal(err)
	}
	video, err := media.NewLocalTrack(media.KindVideo, "video", "local", "cam", "")
	if err != nil {
		t.Fatal(err)
	}
	return media.NewStream("local", audio, video)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestOfferAnswerAndHangup(t *testing.T) {
	a, b := newPair(t)

	inbound := make(chan Call, 1)
	b.OnCall(func(c Call) { inbound <- c })

	stream := localStream(t)
	out, err := a.Call("b", stream, ScreenShare("a"))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var in Call
	select {
	case in = <-inbound:
	case <-time.After(5 * time.Second):
		t.Fatal("No inbound call")
	}

	if in.Peer() != "a" || in.ID() != out.ID() {
		t.Fatalf("Unexpected inbound call %s from %s", in.ID(), in.Peer())
	}
	if md := in.Metadata(); md.Kind != KindScreenShare || md.SharerID != "a" {
		t.Fatalf("Expected screen share metadata, got %+v", md)
	}

	if err := in.Answer(nil); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if err := in.Answer(nil); err != ErrAlreadyAnswer {
		t.Errorf("Second answer should fail, got %v", err)
	}

	pc := out.(*pionCall).pc
	waitFor(t, "answer", func() bool { return pc.RemoteDescription() != nil })
	if pc.RemoteDescription().Type != webrtc.SDPTypeAnswer {
		t.Fatal("Expected remote answer")
	}
	if n := len(out.Senders()); n != 2 {
		t.Errorf("Expected 2 senders, got %d", n)
	}

	closed := make(chan struct{})
	in.OnClose(func() { close(closed) })

	out.Close()
	out.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Remote side was not hung up")
	}
}

func TestCallBeforeOpen(t *testing.T) {
	tr, err := NewPionTransport(PionOptions{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Call("b", nil, Primary()); err != ErrNotOpen {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
}

func TestEventsLateRegistration(t *testing.T) {
	var e Events
	s := media.NewStream("s")
	e.EmitStream(s)
	e.EmitStream(media.NewStream("other"))

	var got *media.Stream
	e.OnStream(func(st *media.Stream) { got = st })
	if got != s {
		t.Error("Late OnStream should see the first stream")
	}

	if !e.EmitClose() || e.EmitClose() {
		t.Error("EmitClose should report only the first close")
	}
	fired := false
	e.OnClose(func() { fired = true })
	if !fired {
		t.Error("Late OnClose should fire immediately")
	}
}

func TestRemoteSending(t *testing.T) {
	sdp := "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=sendrecv\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\nc=IN IP4 0.0.0.0\r\na=recvonly\r\n"
	n, err := remoteSending(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 sending section, got %d", n)
	}
}

func TestICEConfig(t *testing.T) {
	cfg := &config.Config{STUNServer: "stun:stun.example.com:3478"}
	ice := ICEConfig(cfg)
	if len(ice.ICEServers) != 1 || ice.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Errorf("Unexpected ICE config %+v", ice)
	}

	cfg.TURNServer = "turn:relay.example.com"
	cfg.ForceRelay = true
	ice = ICEConfig(cfg)
	if len(ice.ICEServers) != 2 || ice.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Errorf("Expected relay-only config, got %+v", ice)
	}
}
