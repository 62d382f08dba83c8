package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/discushy/internal/logging"
	"github.com/gorilla/websocket"
)

func TestCodecsCarryPayloads(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Subprotocol(), func(t *testing.T) {
			data, err := codec.Encode(TypeNewUserNeedsScreen, "ABC123", NewUserNeedsScreenPayload{SharerID: "u1", NewUserID: "u2"})
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			msg, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if msg.Type != TypeNewUserNeedsScreen || msg.RoomID != "ABC123" {
				t.Fatalf("Unexpected envelope %+v", msg)
			}

			var p NewUserNeedsScreenPayload
			if err := msg.Decode(&p); err != nil {
				t.Fatal(err)
			}
			if p.SharerID != "u1" || p.NewUserID != "u2" {
				t.Errorf("Unexpected payload %+v", p)
			}
		})
	}
}

func TestJSONWireShape(t *testing.T) {
	data, err := JSONCodec{}.Encode(TypeToggleMic, "R1", ToggleMicPayload{UserID: "u1", IsMuted: true})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"toggle-mic","roomId":"R1","payload":{"userId":"u1","isMuted":true}}`
	if string(data) != want {
		t.Errorf("Unexpected wire form\n got: %s\nwant: %s", data, want)
	}

	empty, _ := JSONCodec{}.Encode(TypeEndMeeting, "R1", nil)
	if strings.Contains(string(empty), "payload") {
		t.Errorf("Empty payload should be omitted: %s", empty)
	}
}

func TestCodecByName(t *testing.T) {
	if CodecByName("msgpack").Subprotocol() != SubprotocolMsgpack {
		t.Error("Expected msgpack codec")
	}
	if CodecByName(SubprotocolJSON).Subprotocol() != SubprotocolJSON {
		t.Error("Expected json codec")
	}
	if CodecByName("").FrameType() != websocket.TextMessage {
		t.Error("Default codec should write text frames")
	}
}

func TestHandlerRoutes(t *testing.T) {
	codec := JSONCodec{}
	source := make(chan *Message, 4)
	h := NewHandler(source, logging.Discard())

	push := func(msgType string, payload any) {
		data, _ := codec.Encode(msgType, "R", payload)
		msg, _ := codec.Decode(data)
		source <- msg
	}
	push(TypeUserConnected, UserInfo{UserID: "u2"})
	push(TypePeerSignal, PeerSignalPayload{From: "u2", To: "u1", CallID: "c1", Kind: SignalHangup})
	push(TypeError, ErrorPayload{Error: "room is full"})
	close(source)

	go h.Start()

	ev := <-h.Events
	if ev.Type != TypeUserConnected {
		t.Errorf("Expected user-connected event, got %s", ev.Type)
	}
	sig := <-h.Signals
	if sig.CallID != "c1" || sig.Kind != SignalHangup {
		t.Errorf("Unexpected signal %+v", sig)
	}
	if msg := <-h.Errors; msg != "room is full" {
		t.Errorf("Unexpected error %q", msg)
	}
	if _, ok := <-h.Events; ok {
		t.Error("Events should close with the source")
	}
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: Subprotocols()}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c := NewClient(ClientOptions{
				ServerURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
				RoomID:    "ROOM42",
				Codec:     CodecByName(name),
				Logger:    logging.Discard(),
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Connect(ctx); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			defer c.Close()

			if err := c.Send(TypeToggleCamera, ToggleCameraPayload{UserID: "u1", IsCameraOff: true}); err != nil {
				t.Fatal(err)
			}

			select {
			case msg := <-c.Incoming():
				var p ToggleCameraPayload
				if err := msg.Decode(&p); err != nil {
					t.Fatal(err)
				}
				if msg.RoomID != "ROOM42" || !p.IsCameraOff {
					t.Errorf("Unexpected echo %+v %+v", msg, p)
				}
			case <-ctx.Done():
				t.Fatal("Timed out waiting for echo")
			}

			c.Close()
			if err := c.Send(TypeEndMeeting, nil); err != ErrClosed {
				t.Errorf("Expected ErrClosed after Close, got %v", err)
			}
		})
	}
}
