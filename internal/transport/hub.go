package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vk/mellongo/internal/scheduler"
	"github.com/zishang520/socket.io/v2/socket"
)

// MessageEvent is the socket.io event every server message is sent on.
const MessageEvent = "message"

// Hub is the socket.io side of the transport. It implements
// scheduler.Notifier by emitting to the session's room.
type Hub struct {
	io     *socket.Server
	logger *slog.Logger
}

var _ scheduler.Notifier = (*Hub)(nil)

// NewHub creates a socket.io server. A non-nil cors enables cross-origin
// clients.
func NewHub(logger *slog.Logger, cors *CORS) *Hub {
	opts := socket.DefaultServerOptions()
	opts.SetServeClient(false)
	if c := cors.socketOptions(); c != nil {
		opts.SetCors(c)
	}
	h := &Hub{io: socket.NewServer(nil, opts), logger: logger}
	h.io.On("connection", h.onConnection)
	return h
}

// Handler returns the http.Handler to mount at /socket.io/.
func (h *Hub) Handler() http.Handler {
	return h.io.ServeHandler(nil)
}

func (h *Hub) onConnection(clients ...any) {
	client, ok := clients[0].(*socket.Socket)
	if !ok {
		return
	}
	sid := ""
	if q := client.Handshake().Query["sid"]; len(q) > 0 {
		sid = q[0]
	}
	if sid == "" {
		sid = uuid.NewString()
	}
	logger := h.logger.With("sid", sid, "socket", client.Id())
	logger.Info("Socket connected.")

	client.Join(socket.Room(sid))
	if err := client.Emit(MessageEvent, map[string]any{"type": "welcome", "sid": sid}); err != nil {
		logger.Warn("Failed to send welcome.", "error", err)
	}

	client.On(MessageEvent, func(args ...any) {
		msg, _ := firstMap(args)
		switch msg["type"] {
		case "ping":
			_ = client.Emit(MessageEvent, map[string]any{"type": "pong"})
		case "close":
			logger.Debug("Client asked to close the connection.")
			client.Disconnect(true)
		default:
			logger.Warn("Invalid message type.", "message", msg)
			_ = client.Emit(MessageEvent, map[string]any{"type": "error", "message": "An unexpected error occurred"})
		}
	})
	client.On("disconnect", func(...any) {
		logger.Info("Socket disconnected.")
	})
}

func firstMap(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	m, ok := args[0].(map[string]any)
	return m, ok
}

// Notify sends ev to every socket of the session.
func (h *Hub) Notify(ctx context.Context, sessionID string, ev scheduler.Event) {
	if sessionID == "" {
		return
	}
	if err := h.io.To(socket.Room(sessionID)).Emit(MessageEvent, ev); err != nil {
		h.logger.Warn("Failed to emit event.", "sid", sessionID, "type", ev.Type, "error", err)
	}
}

// Close disconnects every client. Errors are ignored.
func (h *Hub) Close() {
	h.io.Close(nil)
}
