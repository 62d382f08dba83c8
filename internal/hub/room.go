package hub

import "github.com/BioHazard786/discushy/internal/signaling"

// Room is one meeting: its members in join order and the active sharer.
type Room struct {
	ID       string
	members  map[string]*Client
	order    []string
	sharerID string
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]*Client)}
}

func (r *Room) add(c *Client) {
	r.members[c.user.UserID] = c
	r.order = append(r.order, c.user.UserID)
}

func (r *Room) remove(userID string) {
	delete(r.members, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Room) empty() bool { return len(r.members) == 0 }

// users lists member records in join order, skipping except.
func (r *Room) users(except string) []signaling.UserInfo {
	out := make([]signaling.UserInfo, 0, len(r.order))
	for _, id := range r.order {
		if id != except {
			out = append(out, r.members[id].user)
		}
	}
	return out
}

// broadcast queues an event for every member but except.
func (r *Room) broadcast(except string, msgType string, payload any) {
	for _, id := range r.order {
		if id != except {
			r.members[id].queue(msgType, payload)
		}
	}
}

// RoomInfo is the public view of a room.
type RoomInfo struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
	SharerID     string   `json:"sharerId,omitempty"`
}

func (r *Room) info() RoomInfo {
	return RoomInfo{RoomID: r.ID, Participants: append([]string(nil), r.order...), SharerID: r.sharerID}
}
