// Package stage provides the streaming frame architecture for pipeline execution.
package stage

import (
	"encoding/json"
	"time"

	"github.com/AltairaLabs/IntakeKit/types"
)

// Frame is the unit of data flowing through the pipeline.
// It is a tagged variant: exactly one payload pointer should be set per frame.
// Frames are immutable once created; each carries a session-scoped TurnID
// used to preserve causal ordering across stages.
type Frame struct {
	// Payload variants (exactly one should be set per frame)
	Audio      *AudioChunk        // Raw PCM audio
	Boundary   *UtteranceBoundary // Utterance start/end marker
	Transcript *Transcript        // Transcribed caller speech
	ToolCall   *ToolCall          // Structured tool invocation from generation
	ToolResult *ToolResult        // Outcome of a handled tool call
	AgentText  *AgentText         // Generated agent reply text
	Control    *Control           // Lifecycle signal (end / cancel)

	// Metadata
	TurnID    int64     // Monotonic, session-scoped conversation turn
	Timestamp time.Time // When the frame was created
	Source    string    // Stage that produced this frame
}

// AudioChunk carries raw audio samples with format metadata.
type AudioChunk struct {
	PCM        []byte // Raw 16-bit little-endian PCM samples
	SampleRate int    // Sample rate in Hz (e.g., 8000, 16000)
	Channels   int    // Number of audio channels (1=mono, 2=stereo)
}

// Duration returns the playback duration of the chunk.
func (a *AudioChunk) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.PCM) / (2 * a.Channels)
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// BoundaryKind identifies the edge of a caller utterance.
type BoundaryKind int

const (
	// BoundaryStart marks the first speech-classified chunk after silence.
	BoundaryStart BoundaryKind = iota
	// BoundaryEnd marks trailing silence exceeding the configured threshold.
	BoundaryEnd
)

// String returns the string representation of the boundary kind.
func (k BoundaryKind) String() string {
	switch k {
	case BoundaryStart:
		return "start"
	case BoundaryEnd:
		return "end"
	default:
		return unknownType
	}
}

// UtteranceBoundary demarcates the start or end of contiguous caller speech.
type UtteranceBoundary struct {
	Kind BoundaryKind
}

// Transcript carries transcribed caller speech for one turn.
type Transcript struct {
	Text    string
	IsFinal bool // False for streaming partial results
}

// ToolCall is a structured tool invocation produced by the generation stage.
type ToolCall struct {
	ID        string          // Correlation ID for the invocation
	Name      string          // Tool name, must match the active schema
	Arguments json.RawMessage // JSON-encoded arguments
}

// ToolResult is the outcome of a handled tool call.
type ToolResult struct {
	CallID string
	// System messages already merged into the conversation context while
	// handling the call, carried here for observers and tests.
	OutgoingMessages []types.Message
	// SuppressReply signals that collected data was persisted and the model
	// should not be re-prompted to acknowledge the raw arguments.
	SuppressReply bool
}

// AgentText is generated agent reply text headed for synthesis.
type AgentText struct {
	Text string
}

// ControlKind identifies a pipeline lifecycle signal.
type ControlKind int

const (
	// ControlEnd requests an orderly end of the session.
	ControlEnd ControlKind = iota
	// ControlCancel requests immediate drain-and-stop of every stage.
	ControlCancel
)

// String returns the string representation of the control kind.
func (k ControlKind) String() string {
	switch k {
	case ControlEnd:
		return "end"
	case ControlCancel:
		return "cancel"
	default:
		return unknownType
	}
}

// Control is a lifecycle signal frame.
type Control struct {
	Kind ControlKind
}

// NewAudioFrame creates a frame carrying an audio chunk.
func NewAudioFrame(turnID int64, audio *AudioChunk) Frame {
	return Frame{Audio: audio, TurnID: turnID, Timestamp: time.Now()}
}

// NewBoundaryFrame creates an utterance boundary frame.
func NewBoundaryFrame(turnID int64, kind BoundaryKind) Frame {
	return Frame{Boundary: &UtteranceBoundary{Kind: kind}, TurnID: turnID, Timestamp: time.Now()}
}

// NewTranscriptFrame creates a transcript frame.
func NewTranscriptFrame(turnID int64, text string, isFinal bool) Frame {
	return Frame{Transcript: &Transcript{Text: text, IsFinal: isFinal}, TurnID: turnID, Timestamp: time.Now()}
}

// NewToolCallFrame creates a tool invocation frame.
func NewToolCallFrame(turnID int64, call *ToolCall) Frame {
	return Frame{ToolCall: call, TurnID: turnID, Timestamp: time.Now()}
}

// NewToolResultFrame creates a tool result frame.
func NewToolResultFrame(turnID int64, result *ToolResult) Frame {
	return Frame{ToolResult: result, TurnID: turnID, Timestamp: time.Now()}
}

// NewAgentTextFrame creates an agent reply frame.
func NewAgentTextFrame(turnID int64, text string) Frame {
	return Frame{AgentText: &AgentText{Text: text}, TurnID: turnID, Timestamp: time.Now()}
}

// NewControlFrame creates a lifecycle signal frame.
func NewControlFrame(kind ControlKind) Frame {
	return Frame{Control: &Control{Kind: kind}, Timestamp: time.Now()}
}

// IsCancel reports whether the frame is a cancellation signal.
func (f *Frame) IsCancel() bool {
	return f.Control != nil && f.Control.Kind == ControlCancel
}

// IsEnd reports whether the frame is an orderly end signal.
func (f *Frame) IsEnd() bool {
	return f.Control != nil && f.Control.Kind == ControlEnd
}

// IsControl reports whether the frame is a lifecycle signal.
func (f *Frame) IsControl() bool {
	return f.Control != nil
}

// HasContent reports whether the frame carries a data payload
// (anything other than a control signal).
func (f *Frame) HasContent() bool {
	return f.Audio != nil ||
		f.Boundary != nil ||
		f.Transcript != nil ||
		f.ToolCall != nil ||
		f.ToolResult != nil ||
		f.AgentText != nil
}

// WithSource sets the source stage name for this frame.
func (f *Frame) WithSource(source string) *Frame {
	f.Source = source
	return f
}
