// Package completion adapts an OpenAI-compatible streaming chat completion
// API behind a single-call interface: the caller hands over a conversation
// and receives the accumulated assistant reply.
package completion

import (
	"context"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client interface {
	Complete(ctx context.Context, conversation []Message) (string, error)
}

// StripMarkdownFence removes a surrounding ```sql fence from a model reply so
// the result can be re-classified and executed as-is.
func StripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
