package session

import (
	"context"

	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/peer"
	"github.com/BioHazard786/discushy/internal/signaling"
)

// StartScreenShare captures the display and sends it to everyone in the
// room. It is a no-op while already sharing.
func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	var sharing bool
	if err := c.do(func() { sharing = c.screen.local != nil }); err != nil {
		return err
	}
	if sharing {
		return nil
	}

	display, err := c.devices.CaptureDisplay(ctx)
	if err != nil {
		return NewError("start screen share", classify(ErrDevice, err))
	}

	var started bool
	if err := c.do(func() { started = c.startLocalShare(display) }); err != nil || !started {
		display.Stop()
		return err
	}
	return nil
}

// StopScreenShare ends the local share, if any.
func (c *Coordinator) StopScreenShare() error {
	return c.do(func() { c.stopLocalShare(true) })
}

func (c *Coordinator) startLocalShare(display *media.Stream) bool {
	if c.screen.local != nil {
		return false
	}
	if c.screen.inbound != nil {
		c.screen.inbound.Close()
		c.screen.inbound = nil
	}

	c.screen.local = display
	c.sharerID = c.self.UserID
	c.logger.Info("Screen share started")

	for _, p := range c.roster.List() {
		if c.exiting {
			return true
		}
		if p.UserID != c.self.UserID {
			c.dialScreen(p.UserID)
		}
	}
	c.emit(signaling.TypeScreenShareStarted, signaling.UserRefPayload{UserID: c.self.UserID})

	for _, t := range display.VideoTracks() {
		t.OnEnded(func() {
			c.post(func() {
				if c.screen.local == display {
					c.stopLocalShare(true)
				}
			})
		})
	}

	c.view.ShowScreen(c.self.UserID, display)
	c.publish()
	return true
}

// stopLocalShare closes every outbound screen call and stops the capture.
// Only a local stop announces itself; a forced stop does not.
func (c *Coordinator) stopLocalShare(notify bool) {
	display := c.screen.local
	if display == nil {
		return
	}
	c.screen.local = nil
	for id, call := range c.screen.outbound {
		delete(c.screen.outbound, id)
		call.Close()
	}
	display.Stop()
	if c.sharerID == c.self.UserID {
		c.sharerID = ""
	}
	c.view.ClearScreen()
	if notify {
		c.emit(signaling.TypeScreenShareStopped, signaling.UserRefPayload{UserID: c.self.UserID})
	}
	c.logger.Info("Screen share stopped")
	c.publish()
}

// dialScreen sends the active capture to id.
func (c *Coordinator) dialScreen(id string) {
	if id == "" || id == c.self.UserID {
		return
	}
	if _, ok := c.screen.outbound[id]; ok {
		return
	}

	call, err := c.transport.Call(id, c.screen.local, peer.ScreenShare(c.self.UserID))
	if err != nil {
		c.fail(NewPeerError("share screen", id, classify(ErrTransport, err)), "Could not share screen with "+c.displayName(id))
		return
	}
	c.screen.outbound[id] = call
	call.OnClose(func() {
		c.post(func() {
			if c.screen.outbound[id] == call {
				delete(c.screen.outbound, id)
			}
		})
	})
}

// acceptScreen answers an inbound screen call receive-only. A newer share
// replaces an older one.
func (c *Coordinator) acceptScreen(call peer.Call) {
	sharer := call.Metadata().SharerID
	if sharer == "" {
		sharer = call.Peer()
	}

	if old := c.screen.inbound; old != nil {
		c.screen.inbound = nil
		old.Close()
	}
	if err := call.Answer(nil); err != nil {
		c.logger.Warn("Failed to answer screen share", "sharer", sharer, "error", err)
		call.Close()
		return
	}

	c.screen.inbound = call
	c.sharerID = sharer
	call.OnStream(func(s *media.Stream) {
		c.post(func() {
			if c.screen.inbound == call {
				c.view.ShowScreen(sharer, s)
				c.publish()
			}
		})
	})
	call.OnClose(func() {
		c.post(func() { c.inboundScreenClosed(call, sharer) })
	})
	c.publish()
}

func (c *Coordinator) inboundScreenClosed(call peer.Call, sharer string) {
	if c.screen.inbound != call {
		return
	}
	c.screen.inbound = nil
	if c.screen.local == nil && c.sharerID == sharer {
		c.sharerID = ""
		c.view.ClearScreen()
	}
	c.publish()
}

// remoteShareStopped clears a remote share announced as over.
func (c *Coordinator) remoteShareStopped(id string) {
	if id == "" || id == c.self.UserID || c.sharerID != id {
		return
	}
	if call := c.screen.inbound; call != nil {
		c.screen.inbound = nil
		call.Close()
	}
	c.sharerID = ""
	c.view.ClearScreen()
	c.publish()
}
