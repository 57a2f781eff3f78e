package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coachmind/mental-coach/internal/api"
	"github.com/coachmind/mental-coach/internal/domain"
	"github.com/coachmind/mental-coach/internal/identity"
	"github.com/coachmind/mental-coach/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxRequestBodySize is the maximum allowed chat request body (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the chat HTTP API.
type Handler struct {
	svc   *Service
	repo  store.Repository
	debug bool
}

// NewHandler creates a chat HTTP handler. When debug is set, internal error
// detail is exposed to callers instead of a generic message.
func NewHandler(svc *Service, repo store.Repository, debug bool) *Handler {
	return &Handler{
		svc:   svc,
		repo:  repo,
		debug: debug,
	}
}

// RegisterRoutes registers the chat API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/webhook", h.HandleWebhook)
		r.Get("/conversations/{id}", h.HandleGetConversation)
		r.Delete("/conversations/{id}", h.HandleDeleteConversation)
	})
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return Request{}, false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return Request{}, false
	}

	req.ClientID = identity.ClientIDFromContext(r.Context())
	return req, true
}

// HandleChat handles POST /api/chat, streaming the reply as SSE data lines.
// Validation and admission failures are plain HTTP errors; provider
// failures arrive in-stream as error events.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	streaming := false
	for event, err := range h.svc.Stream(r.Context(), req) {
		if err != nil {
			// Errors only precede the first event, so headers are still open.
			h.writeChatError(w, err)
			return
		}

		if !streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			streaming = true
		}

		data, err := json.Marshal(event)
		if err != nil {
			slog.Warn("failed to marshal chat event", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			slog.Debug("client disconnected mid-stream",
				"conversation_id", event.ConversationID, "error", err)
			return
		}
		flusher.Flush()
	}
}

// HandleWebhook handles POST /api/webhook, the synchronous variant used by
// the Discord and Slack adapters.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.svc.Respond(r.Context(), req)
	if err != nil {
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			api.JSON(w, http.StatusBadGateway, map[string]string{
				"error":          provErr.Message,
				"conversationId": provErr.ConversationID,
			})
			return
		}
		h.writeChatError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, resp)
}

// HandleGetConversation handles GET /api/conversations/{id}.
func (h *Handler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	convo, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if convo == nil {
		api.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if messages == nil {
		// Serialize as an empty array, not null.
		messages = []*domain.Message{}
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"conversationId": convo.ID,
		"messages":       messages,
		"createdAt":      convo.CreatedAt,
		"updatedAt":      convo.UpdatedAt,
	})
}

// HandleDeleteConversation handles DELETE /api/conversations/{id}.
// Deletion is idempotent: deleting an unknown conversation succeeds.
func (h *Handler) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteConversation(r.Context(), id); err != nil {
		h.internalError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"deleted":        true,
		"conversationId": id,
	})
}

func (h *Handler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRateLimited):
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	slog.Error("chat request failed", "error", err)
	message := "internal server error"
	if h.debug {
		message = err.Error()
	}
	api.Error(w, http.StatusInternalServerError, message)
}
