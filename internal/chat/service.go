package chat

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coachmind/mental-coach/internal/domain"
	"github.com/coachmind/mental-coach/internal/provider"
	"github.com/coachmind/mental-coach/internal/store"
	"github.com/google/uuid"
)

// Completer is the completion-provider surface the service depends on.
type Completer interface {
	// Stream yields reply fragments in arrival order, ending with either the
	// last fragment or a single terminal error.
	Stream(ctx context.Context, messages []provider.ChatMessage) iter.Seq2[string, error]

	// Complete returns the full reply in one call.
	Complete(ctx context.Context, messages []provider.ChatMessage) (string, error)
}

// ServiceConfig holds chat service settings.
type ServiceConfig struct {
	SystemPrompt     string
	MaxMessageLength int
}

// Service orchestrates one chat turn: validation, admission, persistence,
// prompt assembly, and the completion exchange.
type Service struct {
	repo      store.Repository
	completer Completer
	limiter   *RateLimiter
	log       ExchangeLogger
	cfg       ServiceConfig
}

// NewService creates a chat service. A nil exchange logger disables auditing.
func NewService(repo store.Repository, completer Completer, limiter *RateLimiter, log ExchangeLogger, cfg ServiceConfig) *Service {
	if log == nil {
		log = noopExchangeLogger{}
	}
	return &Service{
		repo:      repo,
		completer: completer,
		limiter:   limiter,
		log:       log,
		cfg:       cfg,
	}
}

// turn carries the per-request state shared by the streaming and
// synchronous paths after admission.
type turn struct {
	conversationID string
	prompt         []provider.ChatMessage
}

// begin validates the request, resolves the conversation identity, runs
// admission control, persists the user turn, and assembles the prompt.
// Validation and admission happen before any side effect.
func (s *Service) begin(ctx context.Context, req Request) (*turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	// Length is bounded in characters, not bytes.
	if s.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(req.Message) > s.cfg.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	// Admission is keyed by client identity, not conversation, so rotating
	// conversation ids cannot bypass the window.
	clientID := req.ClientID
	if clientID == "" {
		clientID = conversationID
	}
	if !s.limiter.Allow(clientID) {
		return nil, ErrRateLimited
	}

	// History is read before the new turn is appended so the prompt never
	// duplicates the incoming message. A read failure degrades to an empty
	// context rather than failing the request.
	history, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		slog.Warn("failed to load conversation history, continuing with empty context",
			"conversation_id", conversationID, "error", err)
		history = nil
	}

	// User-turn persistence is best-effort: the chat must keep working even
	// when the store does not.
	if err := s.repo.EnsureConversation(ctx, conversationID); err != nil {
		slog.Warn("failed to ensure conversation", "conversation_id", conversationID, "error", err)
	} else if err := s.repo.AppendMessage(ctx, conversationID, domain.RoleUser, req.Message); err != nil {
		slog.Warn("failed to persist user message", "conversation_id", conversationID, "error", err)
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.cfg.SystemPrompt
	}

	s.log.Log(ExchangeEvent{
		ConversationID: conversationID,
		ClientID:       req.ClientID,
		Role:           domain.RoleUser,
		Content:        req.Message,
	})

	return &turn{
		conversationID: conversationID,
		prompt:         BuildPrompt(systemPrompt, history, req.Message),
	}, nil
}

// finish persists the completed assistant turn, best-effort.
func (s *Service) finish(ctx context.Context, conversationID, text string, meta map[string]any) {
	if err := s.repo.AppendMessage(ctx, conversationID, domain.RoleAssistant, text); err != nil {
		slog.Warn("failed to persist assistant message", "conversation_id", conversationID, "error", err)
	}
	s.log.Log(ExchangeEvent{
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        text,
		Meta:           meta,
	})
}

// Stream runs one chat turn and yields events in arrival order: zero or
// more content events, then exactly one done or error event. The assistant
// turn is persisted only when the provider stream finishes cleanly; partial
// text from a failed or abandoned stream is discarded. Validation and
// admission failures surface as the iterator's error before any event.
func (s *Service) Stream(ctx context.Context, req Request) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		t, err := s.begin(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}

		var full strings.Builder
		chunks := 0
		for fragment, err := range s.completer.Stream(ctx, t.prompt) {
			if err != nil {
				slog.Error("completion stream failed",
					"conversation_id", t.conversationID, "chunks", chunks, "error", err)
				yield(&Event{Error: provider.ClassifyError(err), ConversationID: t.conversationID}, nil)
				return
			}
			full.WriteString(fragment)
			chunks++
			if !yield(&Event{Content: fragment, ConversationID: t.conversationID}, nil) {
				return
			}
		}

		s.finish(ctx, t.conversationID, full.String(), map[string]any{"stream_chunks": chunks})
		yield(&Event{Done: true, ConversationID: t.conversationID}, nil)
	}
}

// Respond runs one chat turn synchronously and returns the complete reply.
// Provider failures come back as *ProviderError with a classified message.
func (s *Service) Respond(ctx context.Context, req Request) (*WebhookResponse, error) {
	t, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	text, err := s.completer.Complete(ctx, t.prompt)
	if err != nil {
		slog.Error("completion request failed", "conversation_id", t.conversationID, "error", err)
		return nil, &ProviderError{
			ConversationID: t.conversationID,
			Message:        provider.ClassifyError(err),
		}
	}

	s.finish(ctx, t.conversationID, text, nil)
	return &WebhookResponse{
		ConversationID: t.conversationID,
		Response:       text,
		Timestamp:      time.Now().UTC(),
	}, nil
}
