package session

import (
	"github.com/BioHazard786/discushy/internal/roster"
	"github.com/BioHazard786/discushy/internal/signaling"
)

func (c *Coordinator) handleEvent(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeAllUsers:
		var p signaling.AllUsersPayload
		if c.decode(msg, &p) {
			c.handleAllUsers(p.Users)
		}

	case signaling.TypeUserConnected:
		var p signaling.UserInfo
		if c.decode(msg, &p) {
			c.handleUserConnected(p)
		}

	case signaling.TypeUserDisconnected:
		var p signaling.UserRefPayload
		if c.decode(msg, &p) {
			c.handleUserDisconnected(p.UserID)
		}

	case signaling.TypeMicToggled:
		var p signaling.ToggleMicPayload
		if c.decode(msg, &p) {
			c.updatePeer(p.UserID, func(pt *roster.Participant) { pt.IsMuted = p.IsMuted })
		}

	case signaling.TypeCameraToggled:
		var p signaling.ToggleCameraPayload
		if c.decode(msg, &p) {
			c.updatePeer(p.UserID, func(pt *roster.Participant) { pt.IsCameraOff = p.IsCameraOff })
		}

	case signaling.TypeMeetingEnded:
		c.logger.Info("Meeting ended by host")
		c.view.Notice("The host ended the meeting")
		c.stop(NewError("meeting", ErrMeetingEnded))

	case signaling.TypeCurrentScreenShare:
		var p signaling.SharerPayload
		if c.decode(msg, &p) && p.SharerID != "" && p.SharerID != c.self.UserID {
			c.sharerID = p.SharerID
			c.publish()
		}

	case signaling.TypeForceStopScreenShare:
		var p signaling.SharerPayload
		if c.decode(msg, &p) && p.SharerID == c.self.UserID && c.screen.local != nil {
			c.logger.Info("Screen share stopped by another sharer")
			c.view.Notice("Someone else started sharing their screen")
			c.stopLocalShare(false)
		}

	case signaling.TypeNewUserNeedsScreen:
		var p signaling.NewUserNeedsScreenPayload
		if c.decode(msg, &p) && p.SharerID == c.self.UserID && c.screen.local != nil {
			c.dialScreen(p.NewUserID)
		}

	case signaling.TypeScreenShareStopped:
		var p signaling.UserRefPayload
		if c.decode(msg, &p) {
			c.remoteShareStopped(p.UserID)
		}

	default:
		c.logger.Debug("Ignoring event", "type", msg.Type)
	}
}

func (c *Coordinator) decode(msg *signaling.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		c.logger.Warn("Failed to parse event payload", "type", msg.Type, "error", err)
		return false
	}
	return true
}

func (c *Coordinator) handleAllUsers(users []signaling.UserInfo) {
	for _, u := range users {
		if u.UserID == "" || u.UserID == c.self.UserID {
			continue
		}
		c.roster.Upsert(participant(u))
		c.syncTarget(u.UserID)
	}
	for _, u := range users {
		if c.exiting {
			return
		}
		if u.UserID != "" && u.UserID != c.self.UserID {
			c.dial(u.UserID)
		}
	}
	c.publish()
}

func (c *Coordinator) handleUserConnected(u signaling.UserInfo) {
	if u.UserID == "" || u.UserID == c.self.UserID {
		return
	}
	c.logger.Info("Participant joined", "user", u.UserID, "name", u.UserName)
	c.roster.Upsert(participant(u))
	c.syncTarget(u.UserID)
	c.dial(u.UserID)
	c.publish()
}

func (c *Coordinator) handleUserDisconnected(id string) {
	if id == "" || id == c.self.UserID {
		return
	}
	c.logger.Info("Participant left", "user", id)
	c.roster.Remove(id)
	c.dropPeer(id)
	if call, ok := c.screen.outbound[id]; ok {
		delete(c.screen.outbound, id)
		call.Close()
	}
	if c.sharerID == id {
		c.remoteShareStopped(id)
	}
	c.publish()
}

// updatePeer applies a remote toggle to that participant and its target.
func (c *Coordinator) updatePeer(id string, fn func(*roster.Participant)) {
	if id == c.self.UserID {
		return
	}
	if !c.roster.Update(id, fn) {
		return
	}
	c.syncTarget(id)
	c.publish()
}

func (c *Coordinator) syncTarget(id string) {
	e, ok := c.peers[id]
	if !ok || e.target == nil {
		return
	}
	p, ok := c.roster.Get(id)
	if !ok {
		return
	}
	e.target.SetLabel(p.UserName)
	e.target.SetMuted(p.IsMuted)
	e.target.SetCameraOff(p.IsCameraOff)
}
