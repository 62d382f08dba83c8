package session

import (
	"context"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/discushy/internal/device"
	"github.com/BioHazard786/discushy/internal/hub"
	"github.com/BioHazard786/discushy/internal/logging"
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/mixer"
	"github.com/BioHazard786/discushy/internal/peer"
	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/BioHazard786/discushy/internal/speaking"
	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
)

type participantRig struct {
	c      *Coordinator
	tr     *fakeTransport
	view   *fakeView
	client *signaling.Client
}

func joinRoom(t *testing.T, url string, board *switchboard, id string) *participantRig {
	t.Helper()
	logger := logging.Discard()

	client := signaling.NewClient(signaling.ClientOptions{
		ServerURL: url,
		RoomID:    "E2E001",
		Codec:     signaling.MsgpackCodec{},
		Logger:    logger,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	handler := signaling.NewHandler(client.Incoming(), logger)
	go handler.Start()

	rig := &participantRig{tr: &fakeTransport{board: board}, view: newFakeView(), client: client}
	clk := clock.NewMock()
	rig.c = New(Options{
		RoomID:      "E2E001",
		Self:        user(id),
		Devices:     device.New(&fakeDevices{}, logger),
		Constraints: media.Constraints{Audio: true, Video: true},
		Mixer:       mixer.New(mixer.Options{Encoder: rawEncoder{}, Clock: clk, Logger: logger}),
		Monitor:     speaking.New(speaking.Options{Clock: clk, Logger: logger}),
		Transport:   rig.tr,
		Signaler:    client,
		Events:      handler.Events,
		Errors:      handler.Errors,
		View:        rig.view,
		Logger:      logger,
	})
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	go rig.c.Run(context.Background())

	t.Cleanup(func() {
		rig.c.Leave()
		<-rig.c.Done()
		client.Close()
	})
	return rig
}

func liveCalls(rigs ...*participantRig) int {
	n := 0
	for _, r := range rigs {
		for _, c := range r.tr.placed() {
			if c.md.Kind == peer.KindPrimary && !c.isClosed() {
				n++
			}
		}
	}
	return n
}

func TestTwoParticipantsConverge(t *testing.T) {
	h := hub.New(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	srv := httptest.NewServer(hub.NewRouter(h, gin.TestMode))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	board := newSwitchboard()
	a := joinRoom(t, url, board, "a")
	eventually(t, "a in room", func() bool {
		info, ok := h.Room(context.Background(), "E2E001")
		return ok && slices.Contains(info.Participants, "a")
	})
	b := joinRoom(t, url, board, "b")

	eventually(t, "both connected", func() bool {
		return a.c.PeerState("b") == StateConnected && b.c.PeerState("a") == StateConnected
	})
	eventually(t, "one live link", func() bool { return liveCalls(a, b) == 1 })

	for _, r := range []*participantRig{a, b} {
		var ids []string
		for _, tile := range r.c.Snapshot().Tiles {
			ids = append(ids, tile.UserID)
		}
		slices.Sort(ids)
		if !slices.Equal(ids, []string{"a", "b"}) {
			t.Errorf("%s sees roster %v", r.c.SelfID(), ids)
		}
	}

	eventually(t, "targets attached", func() bool {
		ta, tb := a.view.target("b"), b.view.target("a")
		return ta != nil && tb != nil && ta.get().attached == 1 && tb.get().attached == 1
	})

	// Give stray closes from the losing call time to land.
	time.Sleep(50 * time.Millisecond)
	if a.c.PeerState("b") != StateConnected || b.c.PeerState("a") != StateConnected {
		t.Error("Connection did not stay up after convergence")
	}
	if liveCalls(a, b) != 1 {
		t.Errorf("Expected one live link, got %d", liveCalls(a, b))
	}

	// A toggle travels through the hub to the other side.
	if _, err := a.c.ToggleMic(); err != nil {
		t.Fatalf("ToggleMic failed: %v", err)
	}
	eventually(t, "b sees a muted", func() bool {
		for _, tile := range b.c.Snapshot().Tiles {
			if tile.UserID == "a" {
				return tile.IsMuted
			}
		}
		return false
	})

	// Leaving tears down the link on the other side.
	a.c.Leave()
	a.client.Close()
	eventually(t, "b drops a", func() bool {
		return b.c.PeerState("a") == StateClosed && len(b.c.Snapshot().Tiles) == 1
	})
}
