// Package providers implements chat-based LLM provider support with a
// unified interface.
//
// The generation stage hands a provider the conversation snapshot and the
// single active tool definition; the provider returns either reply text or
// a structured tool call.
package providers

import (
	"context"
	"time"

	"github.com/AltairaLabs/IntakeKit/types"
)

// ChatRequest represents a request to a chat provider.
type ChatRequest struct {
	Messages    []types.Message `json:"messages"`
	Tool        *types.ToolDef  `json:"tool,omitempty"` // At most one tool is offered per request
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

// ChatResponse represents a response from a chat provider.
// Either Content or ToolCalls is populated, never both.
type ChatResponse struct {
	Content   string                  `json:"content"`
	ToolCalls []types.MessageToolCall `json:"tool_calls,omitempty"`
	Latency   time.Duration           `json:"latency"`
	Raw       []byte                  `json:"raw,omitempty"`
}

// ProviderDefaults holds default parameters applied when a request leaves
// them zero.
type ProviderDefaults struct {
	Temperature float32
	MaxTokens   int
}

// Provider is the contract for chat providers.
type Provider interface {
	ID() string
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Close() error
}
