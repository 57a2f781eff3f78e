package chat

import (
	"github.com/coachmind/mental-coach/internal/domain"
	"github.com/coachmind/mental-coach/internal/provider"
)

// BuildPrompt assembles the ordered context for one completion turn: the
// system directive first, stored history oldest first, and the new user
// message last, exactly once. Inputs are not mutated.
//
// History is replayed in full; no token or length cap is applied here.
func BuildPrompt(systemDirective string, history []*domain.Message, newMessage string) []provider.ChatMessage {
	prompt := make([]provider.ChatMessage, 0, len(history)+2)
	prompt = append(prompt, provider.ChatMessage{Role: domain.RoleSystem, Content: systemDirective})
	for _, msg := range history {
		prompt = append(prompt, provider.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return append(prompt, provider.ChatMessage{Role: domain.RoleUser, Content: newMessage})
}
