package types

import (
	"encoding/json"
	"time"
)

// Message roles used throughout the system.
const (
	RoleSystem = "system"
	RoleCaller = "caller"
	RoleAgent  = "agent"
)

// Message represents a single turn in a conversation transcript.
// This is the canonical message type used throughout the system.
type Message struct {
	Role    string `json:"role"`    // "system", "caller", "agent"
	Content string `json:"content"` // Message content

	// Tool invocations (for agent messages that call tools)
	ToolCalls []MessageToolCall `json:"tool_calls,omitempty"`

	// Metadata for observability and tracking
	Timestamp time.Time `json:"timestamp,omitempty"` // When the message was created
	TurnID    int64     `json:"turn_id,omitempty"`   // Conversation turn that produced this message
}

// MessageToolCall represents a request to call a tool within a Message.
// The Args field contains the JSON-encoded arguments for the tool.
type MessageToolCall struct {
	ID   string          `json:"id"`   // Unique identifier for this tool call
	Name string          `json:"name"` // Name of the tool to invoke
	Args json.RawMessage `json:"args"` // JSON-encoded tool arguments
}

// ToolDef represents a tool definition that can be provided to an LLM.
// The InputSchema uses JSON Schema format for validation.
type ToolDef struct {
	Name        string          `json:"name"`         // Unique tool name
	Description string          `json:"description"`  // Human-readable description of what the tool does
	InputSchema json.RawMessage `json:"input_schema"` // JSON Schema for argument validation
}

// Clone returns a deep copy of the tool definition.
// The schema bytes are copied so callers cannot mutate an installed tool.
func (t *ToolDef) Clone() *ToolDef {
	if t == nil {
		return nil
	}
	clone := &ToolDef{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema != nil {
		clone.InputSchema = make(json.RawMessage, len(t.InputSchema))
		copy(clone.InputSchema, t.InputSchema)
	}
	return clone
}

// NewSystemMessage creates a system instruction message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// NewCallerMessage creates a caller (human) message for the given turn.
func NewCallerMessage(turnID int64, content string) Message {
	return Message{Role: RoleCaller, Content: content, Timestamp: time.Now(), TurnID: turnID}
}

// NewAgentMessage creates an agent message for the given turn.
func NewAgentMessage(turnID int64, content string) Message {
	return Message{Role: RoleAgent, Content: content, Timestamp: time.Now(), TurnID: turnID}
}
