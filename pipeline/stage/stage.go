package stage

import (
	"context"
)

const (
	unknownType = "unknown"
)

// Stage is a processing unit in the pipeline chain.
// Stages explicitly declare their I/O characteristics and operate on channels
// of Frames, enabling true streaming execution with bounded buffering.
//
// Stages read from an input channel, process frames, and write to an output
// channel. The stage MUST close the output channel when done (or when input
// closes). A stage must not reorder frames bearing different TurnIDs, but may
// emit multiple output frames per input frame (e.g., streaming partial
// transcripts before a final one).
//
// Cancellation contract: a stage that receives a Frame with Control kind
// cancel must forward it immediately and return without draining further
// input. Frames queued behind the cancel are discarded.
type Stage interface {
	// Name returns a unique identifier for this stage.
	// This is used for logging, metrics, and debugging.
	Name() string

	// Type returns the stage's processing model.
	// This helps the pipeline builder understand how the stage behaves.
	Type() StageType

	// Process is called once when the pipeline starts.
	// The stage reads from input, processes frames, and writes to output.
	// The stage MUST close output when done (or when input closes).
	// Returns an error if processing fails.
	Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error
}

// StageType defines the processing model of a stage.
//
//nolint:revive // Intentionally named StageType for clarity; stage.Type would be too generic
type StageType int

const (
	// StageTypeTransform performs 1:1 or 1:N frame transformation.
	// Examples: transcription, synthesis, boundary detection.
	StageTypeTransform StageType = iota

	// StageTypeAccumulate performs N:1 accumulation.
	// Examples: utterance audio buffering, transcript aggregation.
	StageTypeAccumulate

	// StageTypeGenerate performs 0:N or 1:N generation.
	// Examples: LLM reply generation, tool-call expansion.
	StageTypeGenerate

	// StageTypeSink is a terminal stage (N:0 or passthrough tap).
	// Examples: recording buffer, metrics collection.
	StageTypeSink
)

// String returns the string representation of the stage type.
func (st StageType) String() string {
	switch st {
	case StageTypeTransform:
		return "transform"
	case StageTypeAccumulate:
		return "accumulate"
	case StageTypeGenerate:
		return "generate"
	case StageTypeSink:
		return "sink"
	default:
		return unknownType
	}
}

// BaseStage provides common functionality for stage implementations.
// Stages can embed this to reduce boilerplate.
type BaseStage struct {
	name      string
	stageType StageType
}

// NewBaseStage creates a new BaseStage with the given name and type.
func NewBaseStage(name string, stageType StageType) BaseStage {
	return BaseStage{
		name:      name,
		stageType: stageType,
	}
}

// Name returns the stage name.
func (b *BaseStage) Name() string {
	return b.name
}

// Type returns the stage type.
func (b *BaseStage) Type() StageType {
	return b.stageType
}

// StageFunc is a functional adapter that allows using a function as a Stage.
// This is useful for simple transformations without defining a new type.
//
//nolint:revive // Intentionally named StageFunc for clarity; stage.Func would be unclear
type StageFunc struct {
	BaseStage
	processFunc func(context.Context, <-chan Frame, chan<- Frame) error
}

// NewStageFunc creates a new functional stage.
func NewStageFunc(name string, stageType StageType, fn func(context.Context, <-chan Frame, chan<- Frame) error) *StageFunc {
	return &StageFunc{
		BaseStage:   NewBaseStage(name, stageType),
		processFunc: fn,
	}
}

// Process executes the stage function.
func (sf *StageFunc) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
	return sf.processFunc(ctx, input, output)
}

// PassthroughStage is a simple stage that passes all frames through unchanged.
// Useful for testing or as a placeholder.
type PassthroughStage struct {
	BaseStage
}

// NewPassthroughStage creates a new passthrough stage.
func NewPassthroughStage(name string) *PassthroughStage {
	return &PassthroughStage{
		BaseStage: NewBaseStage(name, StageTypeTransform),
	}
}

// Process passes all frames through unchanged, honoring the cancel contract.
func (ps *PassthroughStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
	defer close(output)

	for frame := range input {
		if err := Emit(ctx, output, frame); err != nil {
			return err
		}
		if frame.IsCancel() {
			return nil
		}
	}

	return nil
}

// FilterStage filters frames based on a predicate function.
// Control frames are always forwarded regardless of the predicate.
type FilterStage struct {
	BaseStage
	predicate func(Frame) bool
}

// NewFilterStage creates a new filter stage.
func NewFilterStage(name string, predicate func(Frame) bool) *FilterStage {
	return &FilterStage{
		BaseStage: NewBaseStage(name, StageTypeTransform),
		predicate: predicate,
	}
}

// Process filters frames based on the predicate.
func (fs *FilterStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
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
		if fs.predicate(frame) {
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
		}
	}

	return nil
}

// Emit writes a frame to output, respecting context cancellation.
// Producers block under backpressure rather than drop frames.
func Emit(ctx context.Context, output chan<- Frame, frame Frame) error {
	select {
	case output <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
