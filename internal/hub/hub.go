// Package hub is the room signaling server. One goroutine owns every room;
// connections feed it through channels.
package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BioHazard786/discushy/internal/signaling"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub manages all rooms and connected clients.
type Hub struct {
	logger *slog.Logger

	rooms   map[string]*Room
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	actions    chan func()
	done       chan struct{}
}

// New creates a hub. Call Run before serving connections.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		actions:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run is the single goroutine that manages all state. It returns when ctx
// is done, closing every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.conn.Close()
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("Client registered", "conn", c.id, "codec", c.codec.Subprotocol())

		case c := <-h.unregister:
			if !h.clients[c] {
				continue
			}
			delete(h.clients, c)
			h.leave(c)
			close(c.send)
			h.logger.Debug("Client unregistered", "conn", c.id)

		case in := <-h.inbound:
			h.handle(in.client, in.msg)

		case fn := <-h.actions:
			fn()
		}
	}
}

// Room reports a room's state, if it exists.
func (h *Hub) Room(ctx context.Context, id string) (RoomInfo, bool) {
	type result struct {
		info RoomInfo
		ok   bool
	}
	ch := make(chan result, 1)
	select {
	case h.actions <- func() {
		r, ok := h.rooms[id]
		if !ok {
			ch <- result{}
			return
		}
		ch <- result{info: r.info(), ok: true}
	}:
	case <-ctx.Done():
		return RoomInfo{}, false
	case <-h.done:
		return RoomInfo{}, false
	}
	select {
	case res := <-ch:
		return res.info, res.ok
	case <-ctx.Done():
		return RoomInfo{}, false
	}
}

// NewRoomCode returns a code no live room uses.
func (h *Hub) NewRoomCode(ctx context.Context) (string, error) {
	ch := make(chan string, 1)
	select {
	case h.actions <- func() {
		ch <- NewRoomCode(func(id string) bool {
			_, ok := h.rooms[id]
			return ok
		})
	}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.done:
		return "", errors.New("hub: stopped")
	}
	select {
	case id := <-ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	h.logger.Debug("Event received", "type", msg.Type, "conn", c.id, "user", c.user.UserID)

	if msg.Type == signaling.TypeJoinRoom {
		h.join(c, msg)
		return
	}

	room, ok := h.rooms[c.roomID]
	if !ok {
		c.queue(signaling.TypeError, signaling.ErrorPayload{Error: "You must join a room first"})
		return
	}
	self := c.user.UserID

	switch msg.Type {
	case signaling.TypeToggleMic:
		var p signaling.ToggleMicPayload
		if !h.decode(c, msg, &p) {
			return
		}
		c.user.IsMuted = p.IsMuted
		room.broadcast(self, signaling.TypeMicToggled, signaling.ToggleMicPayload{UserID: self, IsMuted: p.IsMuted})

	case signaling.TypeToggleCamera:
		var p signaling.ToggleCameraPayload
		if !h.decode(c, msg, &p) {
			return
		}
		c.user.IsCameraOff = p.IsCameraOff
		room.broadcast(self, signaling.TypeCameraToggled, signaling.ToggleCameraPayload{UserID: self, IsCameraOff: p.IsCameraOff})

	case signaling.TypeScreenShareStarted:
		if old := room.sharerID; old != "" && old != self {
			if prev, ok := room.members[old]; ok {
				prev.queue(signaling.TypeForceStopScreenShare, signaling.SharerPayload{SharerID: old})
			}
		}
		room.sharerID = self
		room.broadcast(self, signaling.TypeCurrentScreenShare, signaling.SharerPayload{SharerID: self})
		h.logger.Info("Screen share started", "room", room.ID, "user", self)

	case signaling.TypeScreenShareStopped:
		if room.sharerID != self {
			return
		}
		room.sharerID = ""
		room.broadcast(self, signaling.TypeScreenShareStopped, signaling.UserRefPayload{UserID: self})
		h.logger.Info("Screen share stopped", "room", room.ID, "user", self)

	case signaling.TypeEndMeeting:
		if c.user.UserRole != signaling.RoleHost {
			c.queue(signaling.TypeError, signaling.ErrorPayload{Error: "Only the host can end the meeting"})
			return
		}
		room.broadcast(self, signaling.TypeMeetingEnded, signaling.MeetingEndedPayload{EndedBy: self})
		h.logger.Info("Meeting ended", "room", room.ID, "by", self)

	case signaling.TypePeerSignal:
		var p signaling.PeerSignalPayload
		if !h.decode(c, msg, &p) {
			return
		}
		target, ok := room.members[p.To]
		if !ok {
			h.logger.Debug("Signal target not in room", "room", room.ID, "to", p.To)
			return
		}
		p.From = self
		target.queue(signaling.TypePeerSignal, p)

	default:
		h.logger.Warn("Unknown message type", "type", msg.Type, "conn", c.id)
	}
}

func (h *Hub) join(c *Client, msg *signaling.Message) {
	if c.roomID != "" {
		c.queue(signaling.TypeError, signaling.ErrorPayload{Error: "Already in a room"})
		return
	}
	var user signaling.UserInfo
	if !h.decode(c, msg, &user) {
		return
	}
	if msg.RoomID == "" || user.UserID == "" {
		c.queue(signaling.TypeError, signaling.ErrorPayload{Error: "Room and user id are required"})
		return
	}
	if user.UserRole != signaling.RoleHost {
		user.UserRole = signaling.RoleMember
	}

	room, ok := h.rooms[msg.RoomID]
	if !ok {
		room = newRoom(msg.RoomID)
		h.rooms[room.ID] = room
		h.logger.Info("Room created", "room", room.ID)
	}
	if _, taken := room.members[user.UserID]; taken {
		c.queue(signaling.TypeError, signaling.ErrorPayload{Error: "User already in room"})
		return
	}

	c.roomID = room.ID
	c.user = user

	c.queue(signaling.TypeAllUsers, signaling.AllUsersPayload{Users: room.users(user.UserID)})
	room.broadcast(user.UserID, signaling.TypeUserConnected, user)
	room.add(c)

	if sharer, ok := room.members[room.sharerID]; ok && room.sharerID != user.UserID {
		c.queue(signaling.TypeCurrentScreenShare, signaling.SharerPayload{SharerID: room.sharerID})
		sharer.queue(signaling.TypeNewUserNeedsScreen, signaling.NewUserNeedsScreenPayload{SharerID: room.sharerID, NewUserID: user.UserID})
	}

	h.logger.Info("User joined", "room", room.ID, "user", user.UserID, "name", user.UserName, "members", len(room.members))
}

func (h *Hub) leave(c *Client) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	self := c.user.UserID
	if room.members[self] != c {
		return
	}
	room.remove(self)

	if room.sharerID == self {
		room.sharerID = ""
		room.broadcast(self, signaling.TypeScreenShareStopped, signaling.UserRefPayload{UserID: self})
	}
	room.broadcast(self, signaling.TypeUserDisconnected, signaling.UserRefPayload{UserID: self})

	if room.empty() {
		delete(h.rooms, room.ID)
		h.logger.Info("Room deleted", "room", room.ID)
		return
	}
	h.logger.Info("User left", "room", room.ID, "user", self, "members", len(room.members))
}

func (h *Hub) decode(c *Client, msg *signaling.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		h.logger.Warn("Invalid payload", "type", msg.Type, "conn", c.id, "error", err)
		c.queue(signaling.TypeError, signaling.ErrorPayload{Error: "Invalid payload"})
		return false
	}
	return true
}
