package session

import (
	"github.com/BioHazard786/discushy/internal/media"
	"github.com/BioHazard786/discushy/internal/peer"
)

// dial places the primary call to id unless a connection already exists.
func (c *Coordinator) dial(id string) {
	if id == c.self.UserID {
		return
	}
	if _, ok := c.peers[id]; ok {
		return
	}

	call, err := c.transport.Call(id, c.mixed, peer.Primary())
	if err != nil {
		c.fail(NewPeerError("call", id, classify(ErrTransport, err)), "Could not connect to "+c.displayName(id))
		return
	}

	c.logger.Debug("Calling participant", "peer", id, "call", call.ID())
	c.peers[id] = &peerEntry{call: call, state: StateConnecting, outbound: true}
	delete(c.closed, id)
	c.watch(id, call)
}

func (c *Coordinator) handleInboundCall(call peer.Call) {
	if call.Metadata().Kind == peer.KindScreenShare {
		c.acceptScreen(call)
		return
	}

	id := call.Peer()
	var target RenderTarget
	if e, ok := c.peers[id]; ok {
		// Both sides dialed. The call placed by the smaller id survives.
		if e.state != StateConnecting || !e.outbound || c.self.UserID < id {
			c.logger.Debug("Rejecting duplicate call", "peer", id, "state", e.state)
			call.Close()
			return
		}
		c.logger.Debug("Yielding to inbound call", "peer", id)
		target = e.target
		delete(c.peers, id)
		e.call.Close()
	}

	if err := call.Answer(c.mixed); err != nil {
		c.logger.Warn("Failed to answer call", "peer", id, "error", err)
		call.Close()
		if target != nil {
			c.monitor.Detach(id)
			target.Release()
		}
		c.closed[id] = true
		c.publish()
		return
	}

	c.logger.Debug("Answered call", "peer", id, "call", call.ID())
	c.peers[id] = &peerEntry{call: call, state: StateConnected, target: target}
	delete(c.closed, id)
	c.watch(id, call)
	c.publish()
}

func (c *Coordinator) watch(id string, call peer.Call) {
	call.OnStream(func(s *media.Stream) {
		c.post(func() { c.peerStream(id, call, s) })
	})
	call.OnClose(func() {
		c.post(func() { c.peerClosed(id, call) })
	})
}

func (c *Coordinator) peerStream(id string, call peer.Call, s *media.Stream) {
	e, ok := c.peers[id]
	if !ok || e.call != call {
		return
	}
	e.state = StateConnected
	if e.target == nil {
		e.target = c.view.NewTarget(id)
	}
	c.syncTarget(id)
	e.target.Attach(s)
	if _, err := c.monitor.Attach(s, id); err != nil {
		c.logger.Debug("No remote audio to monitor", "peer", id, "error", err)
	}
	c.logger.Info("Connected to participant", "peer", id)
	c.publish()
}

func (c *Coordinator) peerClosed(id string, call peer.Call) {
	e, ok := c.peers[id]
	if !ok || e.call != call {
		return
	}
	c.logger.Info("Connection closed", "peer", id)
	c.dropPeer(id)
	c.publish()
}

// dropPeer closes the connection to id and releases its render target and
// analyser. Safe to call for unknown ids.
func (c *Coordinator) dropPeer(id string) {
	e, ok := c.peers[id]
	if !ok {
		return
	}
	delete(c.peers, id)
	c.closed[id] = true
	e.call.Close()
	c.monitor.Detach(id)
	if e.target != nil {
		e.target.Release()
	}
}

func (c *Coordinator) displayName(id string) string {
	if p, ok := c.roster.Get(id); ok && p.UserName != "" {
		return p.UserName
	}
	return id
}
