package signaling

// Message is one decoded envelope. Payload stays encoded until Decode so
// routing never needs to know every payload shape.
type Message struct {
	Type    string
	RoomID  string
	Payload []byte

	codec Codec
}

// Decode unmarshals the payload into v with the codec that read it.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return m.codec.Unmarshal(m.Payload, v)
}

// Client to server.
const (
	TypeJoinRoom           = "join-room"
	TypeToggleCamera       = "toggle-camera"
	TypeToggleMic          = "toggle-mic"
	TypeScreenShareStarted = "screen-share-started"
	TypeScreenShareStopped = "screen-share-stopped"
	TypeEndMeeting         = "end-meeting"
)

// Server to client.
const (
	TypeAllUsers             = "all-users"
	TypeUserConnected        = "user-connected"
	TypeUserDisconnected     = "user-disconnected"
	TypeMicToggled           = "mic-toggled"
	TypeCameraToggled        = "camera-toggled"
	TypeMeetingEnded         = "meeting-ended"
	TypeCurrentScreenShare   = "current-screen-share"
	TypeForceStopScreenShare = "force-stop-screen-share"
	TypeNewUserNeedsScreen   = "new-user-needs-screen"
	TypeError                = "error"
)

// Both directions: transport relay between two peers.
const TypePeerSignal = "peer-signal"

// Roles.
const (
	RoleHost   = "host"
	RoleMember = "member"
)

// UserInfo is the participant record carried by join, all-users and
// user-connected.
type UserInfo struct {
	UserID      string `json:"userId" msgpack:"userId"`
	UserName    string `json:"userName" msgpack:"userName"`
	UserRole    string `json:"userRole" msgpack:"userRole"`
	IsMuted     bool   `json:"isMuted" msgpack:"isMuted"`
	IsCameraOff bool   `json:"isCameraOff" msgpack:"isCameraOff"`
}

// AllUsersPayload lists the members already in the room.
type AllUsersPayload struct {
	Users []UserInfo `json:"users" msgpack:"users"`
}

// UserRefPayload names a single user.
type UserRefPayload struct {
	UserID string `json:"userId" msgpack:"userId"`
}

// ToggleMicPayload announces a mic change.
type ToggleMicPayload struct {
	UserID  string `json:"userId" msgpack:"userId"`
	IsMuted bool   `json:"isMuted" msgpack:"isMuted"`
}

// ToggleCameraPayload announces a camera change.
type ToggleCameraPayload struct {
	UserID      string `json:"userId" msgpack:"userId"`
	IsCameraOff bool   `json:"isCameraOff" msgpack:"isCameraOff"`
}

// SharerPayload names the current screen sharer.
type SharerPayload struct {
	SharerID string `json:"sharerId" msgpack:"sharerId"`
}

// NewUserNeedsScreenPayload asks the sharer to dial a late joiner.
type NewUserNeedsScreenPayload struct {
	SharerID  string `json:"sharerId" msgpack:"sharerId"`
	NewUserID string `json:"newUserId" msgpack:"newUserId"`
}

// MeetingEndedPayload reports who ended the meeting.
type MeetingEndedPayload struct {
	EndedBy string `json:"endedBy,omitempty" msgpack:"endedBy,omitempty"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error" msgpack:"error"`
}

// Peer signal kinds.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalHangup    = "hangup"
)

// Candidate mirrors an ICE candidate init.
type Candidate struct {
	Candidate     string  `json:"candidate" msgpack:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
}

// CallMetadata tags a call as primary or screen share.
type CallMetadata struct {
	Type     string `json:"type" msgpack:"type"`
	SharerID string `json:"sharerId,omitempty" msgpack:"sharerId,omitempty"`
}

// PeerSignalPayload carries SDP and ICE between two peers. The hub routes
// on To and stamps From.
type PeerSignalPayload struct {
	From      string        `json:"from" msgpack:"from"`
	To        string        `json:"to" msgpack:"to"`
	CallID    string        `json:"callId" msgpack:"callId"`
	Kind      string        `json:"kind" msgpack:"kind"`
	SDP       string        `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate *Candidate    `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
	Metadata  *CallMetadata `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}
