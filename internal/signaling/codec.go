package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols, one per codec.
const (
	SubprotocolJSON    = "discushy.json"
	SubprotocolMsgpack = "discushy.msgpack"
)

// Codec encodes envelopes for one subprotocol.
type Codec interface {
	Subprotocol() string
	// FrameType is the websocket message type the codec writes.
	FrameType() int
	Encode(msgType, roomID string, payload any) ([]byte, error)
	Decode(data []byte) (*Message, error)
	Unmarshal(data []byte, v any) error
}

// CodecByName picks a codec from a config name ("json", "msgpack") or a
// subprotocol. Unknown names fall back to JSON.
func CodecByName(name string) Codec {
	switch name {
	case "msgpack", SubprotocolMsgpack:
		return MsgpackCodec{}
	default:
		return JSONCodec{}
	}
}

// Subprotocols lists what the hub accepts, preferred first.
func Subprotocols() []string {
	return []string{SubprotocolMsgpack, SubprotocolJSON}
}

// JSONCodec encodes envelopes as JSON text frames.
type JSONCodec struct{}

type jsonEnvelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (JSONCodec) Subprotocol() string { return SubprotocolJSON }

func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(msgType, roomID string, payload any) ([]byte, error) {
	env := jsonEnvelope{Type: msgType, RoomID: roomID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func (c JSONCodec) Decode(data []byte) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &Message{Type: env.Type, RoomID: env.RoomID, Payload: env.Payload, codec: c}, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec encodes envelopes as MessagePack binary frames.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Type    string             `msgpack:"type"`
	RoomID  string             `msgpack:"roomId,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

func (MsgpackCodec) Subprotocol() string { return SubprotocolMsgpack }

func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(msgType, roomID string, payload any) ([]byte, error) {
	env := msgpackEnvelope{Type: msgType, RoomID: roomID}
	if payload != nil {
		raw, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return msgpack.Marshal(env)
}

func (c MsgpackCodec) Decode(data []byte) (*Message, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &Message{Type: env.Type, RoomID: env.RoomID, Payload: env.Payload, codec: c}, nil
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
