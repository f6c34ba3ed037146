package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/IntakeKit/conversation"
	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/metrics/prometheus"
	"github.com/AltairaLabs/IntakeKit/pipeline/stage"
	"github.com/AltairaLabs/IntakeKit/tools"
	"github.com/AltairaLabs/IntakeKit/types"
)

// Sentinel errors for the intake processor.
var (
	// ErrIntakeComplete is returned when a tool call arrives after the
	// intake has finished and no tool is installed.
	ErrIntakeComplete = errors.New("intake already complete")
)

// transition binds an intake state to its expected tool and the handler
// that applies a well-formed call. Dispatch is by this table, never by
// matching on tool name strings at the call site.
type transition struct {
	tool  *types.ToolDef
	apply func(ctx context.Context, p *Processor, args json.RawMessage) stepResult
}

// stepResult describes the outcome of handling one tool call.
type stepResult struct {
	next          State // State after the call (may equal the current state)
	nextTool      *types.ToolDef
	instruction   string
	suppressReply bool
}

// Processor drives the intake dialogue: it owns the current State, applies
// tool calls from the generation stage, persists collected data through the
// Sink, and installs each step's tool schema into the conversation context.
//
// Exactly one tool is installed at any time; the model is never offered a
// tool from a different step.
type Processor struct {
	mu            sync.Mutex
	sessionID     string
	state         State
	conv          *conversation.Context
	validator     *tools.SchemaValidator
	sink          Sink
	referenceDate string
	opening       string
	transitions   map[State]transition
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithReferenceDate sets the birthdate verify_identity must match.
// Default is DefaultReferenceDate.
func WithReferenceDate(date string) ProcessorOption {
	return func(p *Processor) {
		p.referenceDate = date
	}
}

// WithOpeningInstruction overrides the system instruction seeded by Begin.
func WithOpeningInstruction(instruction string) ProcessorOption {
	return func(p *Processor) {
		p.opening = instruction
	}
}

// NewProcessor creates an intake processor bound to a conversation context
// and a persistence sink.
func NewProcessor(sessionID string, conv *conversation.Context, sink Sink, opts ...ProcessorOption) *Processor {
	p := &Processor{
		sessionID:     sessionID,
		state:         StateAwaitingIdentity,
		conv:          conv,
		validator:     tools.NewSchemaValidator(),
		sink:          sink,
		referenceDate: DefaultReferenceDate,
		opening:       DefaultOpeningInstruction,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.transitions = map[State]transition{
		StateAwaitingIdentity: {
			tool:  VerifyIdentityTool(),
			apply: applyVerifyIdentity,
		},
		StateCollectingPrescriptions: {
			tool:  ListPrescriptionsTool(),
			apply: applyCollection("prescriptions", StateCollectingAllergies, ListAllergiesTool, instructionAskAllergies),
		},
		StateCollectingAllergies: {
			tool:  ListAllergiesTool(),
			apply: applyCollection("allergies", StateCollectingConditions, ListConditionsTool, instructionAskConditions),
		},
		StateCollectingConditions: {
			tool:  ListConditionsTool(),
			apply: applyCollection("conditions", StateCollectingVisitReasons, ListVisitReasonsTool, instructionAskVisitReasons),
		},
		StateCollectingVisitReasons: {
			tool:  ListVisitReasonsTool(),
			apply: applyCollection("visit_reasons", StateComplete, func() *types.ToolDef { return nil }, instructionConclude),
		},
	}

	return p
}

// Begin seeds the conversation context with the opening instruction and the
// identity verification tool. Call once before the first turn.
func (p *Processor) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conv.ApplyTransition(nil, p.transitions[StateAwaitingIdentity].tool, p.opening)
}

// State returns the current intake state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// HandleToolCall validates and applies one tool call from the generation
// stage. The returned ToolResult's OutgoingMessages have already been merged
// into the conversation context atomically with any tool swap; callers must
// not merge them again.
func (p *Processor) HandleToolCall(ctx context.Context, call *stage.ToolCall) (*stage.ToolResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tr, ok := p.transitions[p.state]
	if !ok {
		return nil, fmt.Errorf("%w: rejected call to %s", ErrIntakeComplete, call.Name)
	}

	if call.Name != tr.tool.Name {
		logger.Warn("tool call does not match intake step",
			"session_id", p.sessionID,
			"state", p.state.String(),
			"called", call.Name,
			"expected", tr.tool.Name)
		instruction := fmt.Sprintf(
			"The %s function is not available right now. Continue with the current step and call the %s function.",
			call.Name, tr.tool.Name)
		return p.commit(call, stepResult{next: p.state, nextTool: tr.tool, instruction: instruction}), nil
	}

	if err := p.validator.ValidateArgs(tr.tool, call.Arguments); err != nil {
		var validationErr *tools.ValidationError
		if !errors.As(err, &validationErr) {
			// Schema compilation failure is a programming error, not bad input.
			return nil, err
		}
		logger.Warn("tool arguments failed validation",
			"session_id", p.sessionID,
			"tool", call.Name,
			"detail", validationErr.Detail)
		instruction := fmt.Sprintf(
			"The information provided was incomplete. Ask the patient again and call the %s function with complete information.",
			tr.tool.Name)
		return p.commit(call, stepResult{next: p.state, nextTool: tr.tool, instruction: instruction}), nil
	}

	return p.commit(call, tr.apply(ctx, p, call.Arguments)), nil
}

// commit applies a step result to the conversation context and the state,
// as one atomic update, and builds the ToolResult frame payload.
func (p *Processor) commit(call *stage.ToolCall, result stepResult) *stage.ToolResult {
	msgs := []types.Message{types.NewSystemMessage(result.instruction)}

	p.conv.ApplyTransition(nil, result.nextTool, result.instruction)

	if result.next != p.state {
		prometheus.StateTransition(p.state.String(), result.next.String())
		logger.Info("intake state transition",
			"session_id", p.sessionID,
			"from", p.state.String(),
			"to", result.next.String())
		p.state = result.next
	}

	return &stage.ToolResult{
		CallID:           call.ID,
		OutgoingMessages: msgs,
		SuppressReply:    result.suppressReply,
	}
}

// applyVerifyIdentity compares the provided date against the reference.
// A mismatch keeps the machine in AwaitingIdentity with the same tool
// installed; the model is told to ask again.
func applyVerifyIdentity(_ context.Context, p *Processor, args json.RawMessage) stepResult {
	var payload struct {
		Date string `json:"date"`
	}
	// Args already passed schema validation; Unmarshal cannot fail here.
	_ = json.Unmarshal(args, &payload)

	if payload.Date != p.referenceDate {
		return stepResult{
			next:        StateAwaitingIdentity,
			nextTool:    VerifyIdentityTool(),
			instruction: instructionIdentityRetry,
		}
	}

	return stepResult{
		next:        StateCollectingPrescriptions,
		nextTool:    ListPrescriptionsTool(),
		instruction: instructionIdentityVerified,
	}
}

// applyCollection builds the handler for one data-collection step: persist
// the validated items, then advance. A sink failure re-issues the current
// step's instruction and does not advance.
func applyCollection(kind string, next State, nextTool func() *types.ToolDef, nextInstruction string) func(context.Context, *Processor, json.RawMessage) stepResult {
	return func(ctx context.Context, p *Processor, args json.RawMessage) stepResult {
		record := Record{
			SessionID: p.sessionID,
			Kind:      kind,
			Items:     args,
			SavedAt:   time.Now(),
		}

		if err := p.sink.Save(ctx, record); err != nil {
			logger.Error("intake sink save failed",
				"session_id", p.sessionID,
				"kind", kind,
				"error", err)
			current := p.transitions[p.state]
			instruction := fmt.Sprintf(
				"There was a problem saving that information. Apologize briefly, ask the patient again, and call the %s function.",
				current.tool.Name)
			return stepResult{next: p.state, nextTool: current.tool, instruction: instruction}
		}

		logger.Info("intake data saved",
			"session_id", p.sessionID,
			"kind", kind,
			"bytes", len(args))

		return stepResult{
			next:          next,
			nextTool:      nextTool(),
			instruction:   nextInstruction,
			suppressReply: true,
		}
	}
}
