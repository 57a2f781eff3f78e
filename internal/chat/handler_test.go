package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coachmind/mental-coach/internal/domain"
	"github.com/coachmind/mental-coach/internal/identity"
	"github.com/go-chi/chi/v5"
)

var errTestStream = errors.New("completion endpoint returned 500: upstream fault")

func newTestRouter(repo *fakeRepo, completer *fakeCompleter, limit int) chi.Router {
	svc := newTestService(repo, completer, limit)
	handler := NewHandler(svc, repo, false)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func decodeSSE(t *testing.T, body string) []*Event {
	t.Helper()
	var events []*Event
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("failed to decode SSE event %q: %v", payload, err)
		}
		events = append(events, &event)
	}
	return events
}

func TestHandleChatStreamsEvents(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeCompleter{fragments: []string{"Hel", "lo"}}, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message": "hi", "conversationId": "conv-1"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, w.Body.String())
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := decodeSSE(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].Content != "Hel" || events[1].Content != "lo" {
		t.Errorf("Unexpected content events: %+v", events[:2])
	}
	if !events[2].Done || events[2].ConversationID != "conv-1" {
		t.Errorf("Unexpected terminal event: %+v", events[2])
	}
}

func TestHandleChatProviderFailureEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	completer := &fakeCompleter{streamErr: errTestStream}
	router := newTestRouter(repo, completer, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message": "hi", "conversationId": "conv-1"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	events := decodeSSE(t, w.Body.String())
	if len(events) != 1 {
		t.Fatalf("Expected a single error event, got %d", len(events))
	}
	if events[0].Error == "" || events[0].ConversationID != "conv-1" {
		t.Errorf("Unexpected error event: %+v", events[0])
	}
}

func TestHandleChatRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeCompleter{}, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message": ""}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleChatRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeCompleter{}, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestHandleChatRateLimited(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeCompleter{fragments: []string{"ok"}}, 1)

	first := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message": "hi", "conversationId": "conv-1"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("First request failed with status %d", w.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message": "hi", "conversationId": "conv-1"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, second)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
}

func TestHandleChatRateLimitsCookielessClientsByAddress(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCompleter{fragments: []string{"ok"}}, 1)
	handler := NewHandler(svc, repo, false)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	handler.RegisterRoutes(r)

	// Cookie-less requests from one address share one admission window even
	// when each turn uses a fresh conversation.
	statuses := make([]int, 0, 3)
	for _, conv := range []string{"conv-1", "conv-2", "conv-3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/chat",
			strings.NewReader(`{"message": "hi", "conversationId": "`+conv+`"}`))
		req.RemoteAddr = "203.0.113.7:4242"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		statuses = append(statuses, w.Code)
	}

	if statuses[0] != http.StatusOK {
		t.Fatalf("First request failed with status %d", statuses[0])
	}
	for i, code := range statuses[1:] {
		if code != http.StatusTooManyRequests {
			t.Errorf("Request %d: expected status 429, got %d", i+2, code)
		}
	}
}

func TestHandleWebhookReturnsSynchronousReply(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeCompleter{completeText: "full reply"}, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook",
		strings.NewReader(`{"message": "hi", "conversationId": "discord-42"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp WebhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Response != "full reply" {
		t.Errorf("response = %q, want %q", resp.Response, "full reply")
	}
	if resp.ConversationID != "discord-42" {
		t.Errorf("conversationId = %q, want discord-42", resp.ConversationID)
	}
	if resp.Timestamp.IsZero() {
		t.Error("Expected a timestamp")
	}
}

func TestHandleWebhookProviderFailure(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeCompleter{completeErr: errTestStream}, 10)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook",
		strings.NewReader(`{"message": "hi"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

func TestHandleGetConversation(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	if err := repo.EnsureConversation(t.Context(), "conv-1"); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if err := repo.AppendMessage(t.Context(), "conv-1", domain.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	router := newTestRouter(repo, &fakeCompleter{}, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var body struct {
		ConversationID string `json:"conversationId"`
		Messages       []struct {
			Role      string    `json:"role"`
			Content   string    `json:"content"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.ConversationID != "conv-1" {
		t.Errorf("conversationId = %q, want conv-1", body.ConversationID)
	}
	if len(body.Messages) != 1 || body.Messages[0].Content != "hello" {
		t.Errorf("Unexpected messages: %+v", body.Messages)
	}
}

func TestHandleGetConversationWithoutMessagesReturnsEmptyArray(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	if err := repo.EnsureConversation(t.Context(), "conv-1"); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	router := newTestRouter(repo, &fakeCompleter{}, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var body struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got := strings.TrimSpace(string(body.Messages)); got != "[]" {
		t.Errorf("messages = %s, want an empty array", got)
	}
}

func TestHandleGetConversationNotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeCompleter{}, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleDeleteConversationIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	if err := repo.EnsureConversation(t.Context(), "conv-1"); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	router := newTestRouter(repo, &fakeCompleter{}, 10)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/conversations/conv-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Delete attempt %d: expected status 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}
}
