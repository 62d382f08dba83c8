package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/discushy/internal/dns"
	"github.com/BioHazard786/discushy/internal/version"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// ErrClosed is returned by Send after the connection closed.
var ErrClosed = errors.New("signaling: connection closed")

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	serverURL string
	roomID    string
	codec     Codec
	resolver  *dns.Resolver
	logger    *slog.Logger

	conn     *websocket.Conn
	incoming chan *Message
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// ClientOptions configure a Client. A nil Resolver dials with the system
// resolver only.
type ClientOptions struct {
	ServerURL string
	RoomID    string
	Codec     Codec
	Resolver  *dns.Resolver
	Logger    *slog.Logger
}

// NewClient creates a new signaling client.
func NewClient(opts ClientOptions) *Client {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		serverURL: opts.ServerURL,
		roomID:    opts.RoomID,
		codec:     opts.Codec,
		resolver:  opts.Resolver,
		logger:    opts.Logger.With("component", "signaling"),
		incoming:  make(chan *Message, sendBuffer),
		outgoing:  make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Connect dials the server and starts the pumps. The codec may change if
// the server negotiates the other subprotocol.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     []string{c.codec.Subprotocol()},
	}
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if proto := conn.Subprotocol(); proto != "" && proto != c.codec.Subprotocol() {
		c.codec = CodecByName(proto)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	c.logger.Debug("Connected", "url", u.String(), "codec", c.codec.Subprotocol())
	return nil
}

// Codec is the negotiated codec.
func (c *Client) Codec() Codec { return c.codec }

// RoomID is the room the client stamps on every envelope.
func (c *Client) RoomID() string { return c.roomID }

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.setErr(err)
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed message", "error", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.setErr(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.setErr(err)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes payload under msgType for the client's room and queues it.
func (c *Client) Send(msgType string, payload any) error {
	data, err := c.codec.Encode(msgType, c.roomID, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when
// the connection drops.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err is the read or write error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
