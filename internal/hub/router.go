package hub

import (
	"net/http"

	"github.com/BioHazard786/discushy/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	Subprotocols:    signaling.Subprotocols(),
	// Rooms are open by code; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter wires the websocket endpoint and the room API. mode is a gin
// mode; "debug" also logs every request.
func NewRouter(h *Hub, mode string) *gin.Engine {
	if mode == gin.ReleaseMode || mode == gin.TestMode {
		gin.SetMode(mode)
	}

	r := gin.New()
	if mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Signaling server is healthy.")
	})
	r.GET("/ws", func(c *gin.Context) {
		h.ServeWs(c.Writer, c.Request)
	})

	api := r.Group("/api")

	// POST /api/rooms: pick a code no live room uses
	api.POST("/rooms", func(c *gin.Context) {
		id, err := h.NewRoomCode(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"roomId": id})
	})

	// GET /api/rooms/:id: who is in a room
	api.GET("/rooms/:id", func(c *gin.Context) {
		info, ok := h.Room(c.Request.Context(), c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	return r
}

// ServeWs upgrades the request and starts the client's pumps. The codec
// follows the negotiated subprotocol.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		codec: signaling.CodecByName(conn.Subprotocol()),
		id:    uuid.NewString(),
		send:  make(chan outbound, sendBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
