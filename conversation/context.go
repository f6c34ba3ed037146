// Package conversation maintains the shared dialogue context for a session:
// the ordered transcript and the single active tool schema.
package conversation

import (
	"sync"

	"github.com/AltairaLabs/IntakeKit/types"
)

// Context holds the conversation transcript and the currently installed tool
// definition. One Context exists per session. All mutation goes through the
// exported methods; readers only ever see a Snapshot, never live internals.
type Context struct {
	mu       sync.RWMutex
	messages []types.Message
	tool     *types.ToolDef
}

// Snapshot is an immutable view of the conversation at a point in time.
// Messages and Tool are deep copies; mutating them has no effect on the
// live context.
type Snapshot struct {
	Messages []types.Message
	Tool     *types.ToolDef
}

// New creates an empty conversation context.
func New() *Context {
	return &Context{}
}

// NewWithSystem creates a context seeded with a system instruction.
func NewWithSystem(instruction string) *Context {
	c := New()
	c.Append(types.NewSystemMessage(instruction))
	return c
}

// Append adds a message to the end of the transcript.
func (c *Context) Append(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// AppendAll adds messages to the end of the transcript in order.
func (c *Context) AppendAll(msgs []types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// InstallTool replaces the active tool definition. Passing nil clears it.
// At most one tool is installed at a time; installing replaces any previous
// definition in the same atomic step.
func (c *Context) InstallTool(def *types.ToolDef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tool = def.Clone()
}

// ActiveToolName returns the name of the installed tool, or "" if none.
func (c *Context) ActiveToolName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tool == nil {
		return ""
	}
	return c.tool.Name
}

// ApplyTransition atomically merges a state-machine transition into the
// context: append the outgoing messages, swap the installed tool, and append
// the next step's system instruction. Concurrent Snapshot callers observe
// either none or all of the transition.
func (c *Context) ApplyTransition(msgs []types.Message, tool *types.ToolDef, instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, msgs...)
	c.tool = tool.Clone()
	if instruction != "" {
		c.messages = append(c.messages, types.NewSystemMessage(instruction))
	}
}

// Snapshot returns a deep copy of the transcript and active tool.
// Generation always works from a snapshot so a slow model call never holds
// the context lock or observes a half-applied transition.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := make([]types.Message, len(c.messages))
	copy(msgs, c.messages)
	for i := range msgs {
		if len(msgs[i].ToolCalls) > 0 {
			calls := make([]types.MessageToolCall, len(msgs[i].ToolCalls))
			copy(calls, msgs[i].ToolCalls)
			msgs[i].ToolCalls = calls
		}
	}

	return Snapshot{
		Messages: msgs,
		Tool:     c.tool.Clone(),
	}
}

// Len returns the number of messages in the transcript.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
