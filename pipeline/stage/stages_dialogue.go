package stage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/AltairaLabs/IntakeKit/conversation"
	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/providers"
	"github.com/AltairaLabs/IntakeKit/types"
)

// maxToolRounds bounds how many consecutive tool calls one turn may trigger
// before the stage gives up and fails the session.
const maxToolRounds = 4

// ToolHandler applies a tool call to the dialogue state machine.
// Implementations merge any resulting system messages into the conversation
// context themselves; the returned ToolResult is informational.
type ToolHandler interface {
	HandleToolCall(ctx context.Context, call *ToolCall) (*ToolResult, error)
}

// CallerContextStage merges final caller transcripts into the shared
// conversation context, then forwards the transcript downstream.
//
// Empty final transcripts (the session's kickoff turn) are forwarded without
// touching the transcript history.
type CallerContextStage struct {
	BaseStage
	conv *conversation.Context
}

// NewCallerContextStage creates a caller aggregation stage.
func NewCallerContextStage(conv *conversation.Context) *CallerContextStage {
	return &CallerContextStage{
		BaseStage: NewBaseStage("caller_context", StageTypeTransform),
		conv:      conv,
	}
}

// Process implements the Stage interface.
func (s *CallerContextStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
	defer close(output)

	for frame := range input {
		if frame.IsControl() {
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
			if frame.IsCancel() {
				return nil
			}
			continue
		}

		if frame.Transcript != nil && frame.Transcript.IsFinal && frame.Transcript.Text != "" {
			s.conv.Append(types.NewCallerMessage(frame.TurnID, frame.Transcript.Text))
		}

		if err := Emit(ctx, output, frame); err != nil {
			return err
		}
	}

	return nil
}

// GenerationStage turns final transcripts into agent replies.
//
// For each final transcript it snapshots the conversation context, calls the
// chat provider with the single active tool, and either emits the reply text
// or routes the returned tool call through the ToolHandler. After a handled
// tool call the stage re-prompts from a fresh snapshot, so the reply always
// reflects the step the dialogue just moved to.
type GenerationStage struct {
	BaseStage
	provider providers.Provider
	conv     *conversation.Context
	handler  ToolHandler
}

// NewGenerationStage creates a generation stage.
func NewGenerationStage(provider providers.Provider, conv *conversation.Context, handler ToolHandler) *GenerationStage {
	return &GenerationStage{
		BaseStage: NewBaseStage("generation", StageTypeGenerate),
		provider:  provider,
		conv:      conv,
		handler:   handler,
	}
}

// Process implements the Stage interface.
// Provider failures are session-fatal and propagate as stage errors.
func (s *GenerationStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
	defer close(output)

	for frame := range input {
		if frame.IsControl() {
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
			if frame.IsCancel() {
				return nil
			}
			continue
		}

		if frame.Transcript == nil || !frame.Transcript.IsFinal {
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
			continue
		}

		if err := s.generateTurn(ctx, frame.TurnID, output); err != nil {
			return err
		}
	}

	return nil
}

// generateTurn runs one generation round trip, following tool calls until
// the provider produces reply text.
func (s *GenerationStage) generateTurn(ctx context.Context, turnID int64, output chan<- Frame) error {
	for round := 0; round < maxToolRounds; round++ {
		snap := s.conv.Snapshot()

		resp, err := s.provider.Chat(ctx, providers.ChatRequest{
			Messages: snap.Messages,
			Tool:     snap.Tool,
		})
		if err != nil {
			return fmt.Errorf("generation failed for turn %d: %w", turnID, err)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				logger.Warn("provider returned empty reply", "turn_id", turnID)
				return nil
			}
			s.conv.Append(types.NewAgentMessage(turnID, resp.Content))
			return Emit(ctx, output, NewAgentTextFrame(turnID, resp.Content))
		}

		// One tool per step; additional parallel calls are ignored.
		call := &ToolCall{
			ID:        resp.ToolCalls[0].ID,
			Name:      resp.ToolCalls[0].Name,
			Arguments: resp.ToolCalls[0].Args,
		}
		if call.ID == "" {
			call.ID = uuid.NewString()
		}

		if err := Emit(ctx, output, NewToolCallFrame(turnID, call)); err != nil {
			return err
		}

		result, err := s.handler.HandleToolCall(ctx, call)
		if err != nil {
			return fmt.Errorf("tool call %s failed for turn %d: %w", call.Name, turnID, err)
		}

		if err := Emit(ctx, output, NewToolResultFrame(turnID, result)); err != nil {
			return err
		}
		// Loop: re-prompt from the updated context so the next instruction
		// is narrated. SuppressReply already kept the raw arguments out of
		// the transcript.
	}

	return fmt.Errorf("turn %d exceeded %d consecutive tool rounds", turnID, maxToolRounds)
}
