package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to run a single stage to completion and collect its output.
func runTestStage(t *testing.T, s Stage, inputs []Frame) []Frame {
	t.Helper()

	input := make(chan Frame, len(inputs))
	for _, frame := range inputs {
		input <- frame
	}
	close(input)

	output := make(chan Frame, 100)

	err := s.Process(context.Background(), input, output)
	require.NoError(t, err)

	var results []Frame
	for frame := range output {
		results = append(results, frame)
	}
	return results
}

func collectAll(t *testing.T, output <-chan Frame) []Frame {
	t.Helper()

	var results []Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-output:
			if !ok {
				return results
			}
			results = append(results, frame)
		case <-timeout:
			t.Fatalf("timed out with %d frames collected", len(results))
		}
	}
}

func TestPipelineBuilder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *PipelineBuilder
		wantErr error
	}{
		{
			name:    "no stages",
			build:   NewPipelineBuilder,
			wantErr: ErrNoStages,
		},
		{
			name: "duplicate names",
			build: func() *PipelineBuilder {
				return NewPipelineBuilder().Chain(
					NewPassthroughStage("dup"),
					NewPassthroughStage("dup"),
				)
			},
			wantErr: ErrDuplicateStageName,
		},
		{
			name: "edge to unknown stage",
			build: func() *PipelineBuilder {
				return NewPipelineBuilder().
					AddStage(NewPassthroughStage("a")).
					Connect("a", "ghost")
			},
			wantErr: ErrStageNotFound,
		},
		{
			name: "cycle",
			build: func() *PipelineBuilder {
				return NewPipelineBuilder().
					Chain(NewPassthroughStage("a"), NewPassthroughStage("b")).
					Connect("b", "a")
			},
			wantErr: ErrCyclicDependency,
		},
		{
			name: "valid chain",
			build: func() *PipelineBuilder {
				return NewPipelineBuilder().Chain(
					NewPassthroughStage("a"),
					NewPassthroughStage("b"),
					NewPassthroughStage("c"),
				)
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestStreamPipeline_LinearChain(t *testing.T) {
	doubler := NewStageFunc("doubler", StageTypeTransform,
		func(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
			defer close(output)
			for frame := range input {
				if frame.IsCancel() {
					return Emit(ctx, output, frame)
				}
				if err := Emit(ctx, output, frame); err != nil {
					return err
				}
				if err := Emit(ctx, output, frame); err != nil {
					return err
				}
			}
			return nil
		})

	pipeline, err := NewPipelineBuilder().
		Chain(NewPassthroughStage("head"), doubler, NewPassthroughStage("tail")).
		Build()
	require.NoError(t, err)

	input := make(chan Frame, 4)
	input <- NewTranscriptFrame(1, "one", true)
	input <- NewTranscriptFrame(2, "two", true)
	close(input)

	output, err := pipeline.Execute(context.Background(), input)
	require.NoError(t, err)

	results := collectAll(t, output)
	require.Len(t, results, 4)
	assert.Equal(t, int64(1), results[0].TurnID)
	assert.Equal(t, int64(1), results[1].TurnID)
	assert.Equal(t, int64(2), results[2].TurnID)
	assert.Equal(t, int64(2), results[3].TurnID)
}

func TestStreamPipeline_PerTurnOrderingPreserved(t *testing.T) {
	pipeline, err := NewPipelineBuilder().
		Chain(NewPassthroughStage("a"), NewPassthroughStage("b")).
		Build()
	require.NoError(t, err)

	const frames = 200
	input := make(chan Frame, frames)
	for i := 0; i < frames; i++ {
		input <- NewTranscriptFrame(int64(i), "x", true)
	}
	close(input)

	output, err := pipeline.Execute(context.Background(), input)
	require.NoError(t, err)

	results := collectAll(t, output)
	require.Len(t, results, frames)
	for i, frame := range results {
		assert.Equal(t, int64(i), frame.TurnID, "frame %d out of order", i)
	}
}

func TestStreamPipeline_CancelStopsBlockedStage(t *testing.T) {
	// A stage that blocks forever on a fake external call unless its
	// context is cancelled.
	stuck := NewStageFunc("stuck", StageTypeGenerate,
		func(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
			defer close(output)
			for frame := range input {
				if frame.IsCancel() {
					return Emit(ctx, output, frame)
				}
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		})

	pipeline, err := NewPipelineBuilder().Chain(stuck).Build()
	require.NoError(t, err)

	input := make(chan Frame, 1)
	input <- NewTranscriptFrame(1, "hang", true)

	output, err := pipeline.Execute(context.Background(), input)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range output {
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	pipeline.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not unwind after Cancel")
	}
}

func TestStreamPipeline_CancelFramePropagates(t *testing.T) {
	pipeline, err := NewPipelineBuilder().
		Chain(NewPassthroughStage("a"), NewPassthroughStage("b"), NewPassthroughStage("c")).
		Build()
	require.NoError(t, err)

	input := make(chan Frame, 2)
	input <- NewTranscriptFrame(1, "before", true)
	input <- NewControlFrame(ControlCancel)

	output, err := pipeline.Execute(context.Background(), input)
	require.NoError(t, err)

	results := collectAll(t, output)
	require.NotEmpty(t, results)
	assert.True(t, results[len(results)-1].IsCancel(), "cancel frame should reach the leaf")
}

func TestStreamPipeline_StageErrorTearsDownChain(t *testing.T) {
	boom := errors.New("backend unavailable")

	// A terminal stage that fails after one frame and never drains the rest,
	// leaving its upstream blocked on a full queue.
	failing := NewStageFunc("failing", StageTypeSink,
		func(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
			defer close(output)
			<-input
			return boom
		})

	pipeline, err := NewPipelineBuilder().
		Chain(NewPassthroughStage("head"), failing).
		Build()
	require.NoError(t, err)

	// Feed well past the channel buffers so the upstream really blocks.
	input := make(chan Frame)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 0; ; i++ {
			select {
			case input <- NewTranscriptFrame(int64(i), "x", true):
			case <-stop:
				return
			}
		}
	}()

	output, err := pipeline.Execute(context.Background(), input)
	require.NoError(t, err)
	go func() {
		for range output {
		}
	}()

	select {
	case err := <-pipeline.Done():
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, "failing", stageErr.StageName)
	case <-time.After(5 * time.Second):
		t.Fatal("stage error never surfaced")
	}

	// The blocked upstream must unwind without anyone closing the input.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, pipeline.Shutdown(shutdownCtx))
}

func TestStreamPipeline_ShutdownAfterCompletion(t *testing.T) {
	pipeline, err := NewPipelineBuilder().Chain(NewPassthroughStage("only")).Build()
	require.NoError(t, err)

	input := make(chan Frame)
	close(input)

	output, err := pipeline.Execute(context.Background(), input)
	require.NoError(t, err)
	collectAll(t, output)

	require.NoError(t, pipeline.Shutdown(context.Background()))

	_, err = pipeline.Execute(context.Background(), input)
	assert.ErrorIs(t, err, ErrPipelineShuttingDown)
}

func TestStreamPipeline_ShutdownReportsActualWait(t *testing.T) {
	release := make(chan struct{})
	slow := NewStageFunc("slow", StageTypeSink,
		func(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
			defer close(output)
			<-release
			return nil
		})

	pipeline, err := NewPipelineBuilder().Chain(slow).Build()
	require.NoError(t, err)

	input := make(chan Frame)
	output, err := pipeline.Execute(context.Background(), input)
	require.NoError(t, err)
	go func() {
		for range output {
		}
	}()

	// The caller's context is far shorter than the configured 10s timeout;
	// the error must reflect the wait that actually happened.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = pipeline.Shutdown(ctx)
	require.ErrorIs(t, err, ErrShutdownTimeout)
	assert.NotContains(t, err.Error(), "10s")

	close(release)
	close(input)
}

func TestFilterStage_ForwardsControlFrames(t *testing.T) {
	fs := NewFilterStage("audio-only", func(f Frame) bool { return f.Audio != nil })

	results := runTestStage(t, fs, []Frame{
		NewTranscriptFrame(1, "dropped", true),
		NewAudioFrame(1, &AudioChunk{PCM: make([]byte, 4), SampleRate: 8000, Channels: 1}),
		NewControlFrame(ControlEnd),
	})

	require.Len(t, results, 2)
	assert.NotNil(t, results[0].Audio)
	assert.True(t, results[1].IsEnd())
}

func TestFrame_Predicates(t *testing.T) {
	cancel := NewControlFrame(ControlCancel)
	assert.True(t, cancel.IsCancel())
	assert.True(t, cancel.IsControl())
	assert.False(t, cancel.HasContent())

	audio := NewAudioFrame(3, &AudioChunk{PCM: make([]byte, 320), SampleRate: 8000, Channels: 1})
	assert.True(t, audio.HasContent())
	assert.False(t, audio.IsControl())
	assert.Equal(t, 20*time.Millisecond, audio.Audio.Duration())
}
