package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coachmind/mental-coach/internal/identity"
	"github.com/coder/websocket"
)

// WebSocketHandler streams chat turns over a WebSocket connection. Each
// inbound text frame is one chat request; reply events are written back as
// JSON frames. Disconnecting abandons the provider stream for the turn in
// flight, and nothing partial is persisted.
type WebSocketHandler struct {
	svc            *Service
	allowedOrigins []string
}

// NewWebSocketHandler creates a WebSocket chat handler.
func NewWebSocketHandler(svc *Service, allowedOrigins []string) *WebSocketHandler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &WebSocketHandler{
		svc:            svc,
		allowedOrigins: allowedOrigins,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	slog.Info("WebSocket chat connection request", "client_id", clientID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			slog.Debug("WebSocket read ended", "error", err, "client_id", clientID)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			if writeErr := h.writeEvent(ctx, ws, &Event{Error: "invalid request"}); writeErr != nil {
				return
			}
			continue
		}
		req.ClientID = clientID

		if !h.streamTurn(ctx, ws, req) {
			return
		}
	}
}

// streamTurn runs one chat turn and forwards its events. Returns false when
// the connection is no longer writable.
func (h *WebSocketHandler) streamTurn(ctx context.Context, ws *websocket.Conn, req Request) bool {
	for event, err := range h.svc.Stream(ctx, req) {
		if err != nil {
			return h.writeEvent(ctx, ws, &Event{
				Error:          err.Error(),
				ConversationID: req.ConversationID,
			}) == nil
		}
		if writeErr := h.writeEvent(ctx, ws, event); writeErr != nil {
			slog.Debug("WebSocket client disconnected mid-stream",
				"conversation_id", event.ConversationID, "error", writeErr)
			return false
		}
	}
	return true
}

func (h *WebSocketHandler) writeEvent(ctx context.Context, ws *websocket.Conn, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
