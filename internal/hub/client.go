package hub

import (
	"time"

	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

type outbound struct {
	msgType string
	roomID  string
	payload any
}

// Client is one websocket connection. Its room fields are owned by the hub
// goroutine.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	codec signaling.Codec
	id    string
	send  chan outbound

	roomID string
	user   signaling.UserInfo
}

// queue hands msg to the write pump, dropping the client if it cannot
// keep up.
func (c *Client) queue(msgType string, payload any) {
	select {
	case c.send <- outbound{msgType: msgType, roomID: c.roomID, payload: payload}:
	default:
		c.hub.logger.Warn("Send buffer full, dropping client", "conn", c.id, "user", c.user.UserID)
		go c.conn.Close()
	}
}

// ReadPump decodes frames into the hub until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Read error", "conn", c.id, "error", err)
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.hub.logger.Warn("Dropping undecodable frame", "conn", c.id, "error", err)
			continue
		}
		select {
		case c.hub.inbound <- inbound{client: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump encodes queued events with the client's codec.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := c.codec.Encode(out.msgType, out.roomID, out.payload)
			if err != nil {
				c.hub.logger.Error("Failed to encode event", "type", out.msgType, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.hub.logger.Debug("Write error", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
