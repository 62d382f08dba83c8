package signaling

import "log/slog"

// Handler splits the incoming stream into room events, transport relay
// signals and server errors.
type Handler struct {
	source <-chan *Message
	logger *slog.Logger

	Events  chan *Message
	Signals chan *PeerSignalPayload
	Errors  chan string
}

// NewHandler creates a handler reading from source.
func NewHandler(source <-chan *Message, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source:  source,
		logger:  logger.With("component", "signaling"),
		Events:  make(chan *Message, 32),
		Signals: make(chan *PeerSignalPayload, 64),
		Errors:  make(chan string, 4),
	}
}

// Start routes messages until the source closes, then closes every output.
func (h *Handler) Start() {
	defer func() {
		close(h.Events)
		close(h.Signals)
		close(h.Errors)
	}()

	for msg := range h.source {
		switch msg.Type {
		case TypePeerSignal:
			h.handleSignal(msg)

		case TypeError:
			h.handleError(msg)

		default:
			h.Events <- msg
		}
	}
}

func (h *Handler) handleSignal(msg *Message) {
	var payload PeerSignalPayload
	if err := msg.Decode(&payload); err != nil {
		h.logger.Warn("Failed to parse signal payload", "error", err)
		return
	}
	h.Signals <- &payload
}

func (h *Handler) handleError(msg *Message) {
	var errPayload ErrorPayload
	if err := msg.Decode(&errPayload); err != nil || errPayload.Error == "" {
		errPayload.Error = "Unknown error from server"
	}
	select {
	case h.Errors <- errPayload.Error:
	default:
		h.logger.Warn("Server error dropped", "error", errPayload.Error)
	}
}
