package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/metrics/prometheus"
)

// StreamPipeline represents an executable pipeline of stages.
// It manages the graph of stages, creates bounded channels between them,
// and orchestrates execution.
//
// One pipeline instance serves exactly one session; sessions share no
// mutable state.
type StreamPipeline struct {
	stages []Stage
	edges  map[string][]string // stage name -> downstream stage names
	config *PipelineConfig

	// Cancellation: Cancel() injects a Control{cancel} frame at the head of
	// every stage's input and cancels the execution context so stages blocked
	// on external calls unwind deterministically.
	cancelOnce sync.Once
	cancelCtx  context.CancelFunc
	cancelMu   sync.Mutex
	inputs     []chan Frame

	// Concurrency control
	wg         sync.WaitGroup
	shutdown   chan struct{}
	shutdownMu sync.RWMutex
	isShutdown bool

	// execDone carries the first stage error of the execution, then closes.
	execDone chan error
}

// Done reports failure or completion of the running execution. It yields the
// first stage error as soon as a stage fails, before the rest of the chain
// has unwound, so the session can stop feeding input; it is closed once every
// stage has returned (a closed channel reads nil).
func (p *StreamPipeline) Done() <-chan error {
	return p.execDone
}

// Execute starts the pipeline execution with the given input channel.
// Returns an output channel that will receive all frames from terminal stages.
// The pipeline executes in background goroutines and closes the output channel
// when complete.
func (p *StreamPipeline) Execute(ctx context.Context, input <-chan Frame) (<-chan Frame, error) {
	if p.isShuttingDown() {
		return nil, ErrPipelineShuttingDown
	}

	execCtx, cancel := context.WithCancel(ctx)
	p.cancelMu.Lock()
	p.cancelCtx = cancel
	p.cancelMu.Unlock()

	// Track execution for graceful shutdown
	p.wg.Add(1)

	output := make(chan Frame, p.config.ChannelBufferSize)

	go p.executeBackground(execCtx, input, output, cancel)

	return output, nil
}

// Cancel requests immediate teardown of a running execution.
// A Control{cancel} frame is injected at the head of every stage's queue and
// the execution context is cancelled, so a stage blocked on a slow external
// call still unwinds. Safe to call more than once.
func (p *StreamPipeline) Cancel() {
	p.cancelOnce.Do(func() {
		p.cancelMu.Lock()
		defer p.cancelMu.Unlock()

		cancelFrame := NewControlFrame(ControlCancel)
		for _, ch := range p.inputs {
			p.injectCancel(ch, cancelFrame)
		}
		if p.cancelCtx != nil {
			p.cancelCtx()
		}
		logger.Debug("pipeline cancelled", "stages", len(p.stages))
	})
}

// injectCancel performs a best-effort non-blocking send of the cancel frame.
// The producing stage may close the channel concurrently (stages close their
// output on completion), so the send is panic-guarded; a failed injection is
// covered by the context cancellation that follows.
func (p *StreamPipeline) injectCancel(ch chan Frame, frame Frame) {
	defer func() { _ = recover() }()
	select {
	case ch <- frame:
	default:
	}
}

// executeBackground runs the pipeline execution in a background goroutine.
// It starts all stages as goroutines and collects output concurrently with
// stage execution to support streaming stages that run indefinitely.
func (p *StreamPipeline) executeBackground(ctx context.Context, input <-chan Frame, output chan<- Frame, cancel context.CancelFunc) {
	defer func() {
		p.wg.Done()
		cancel()
	}()

	start := time.Now()
	if p.config.EnableMetrics {
		prometheus.PipelineStarted()
	}

	channels := p.createChannels()

	stageErrors := p.startStages(ctx, input, channels)
	outputDone := p.startOutputCollection(channels, output)

	firstError := p.waitForStageErrors(stageErrors)
	<-outputDone

	if p.config.EnableMetrics {
		prometheus.PipelineCompleted(firstError == nil, time.Since(start))
	}
	if firstError != nil {
		logger.Error("pipeline execution failed", "error", firstError, "duration", time.Since(start))
	}
	close(p.execDone)
}

// startStages starts all pipeline stages as goroutines and returns the error channel.
func (p *StreamPipeline) startStages(ctx context.Context, input <-chan Frame, channels map[string]chan Frame) <-chan error {
	stageWg := sync.WaitGroup{}
	stageErrors := make(chan error, len(p.stages))

	for _, stage := range p.stages {
		stageInput := p.getStageInput(stage, input, channels)
		stageOutput := channels[stage.Name()]

		stageWg.Add(1)
		go p.runStage(ctx, stage, stageInput, stageOutput, &stageWg, stageErrors)
	}

	// Close error channel when all stages complete
	go func() {
		stageWg.Wait()
		close(stageErrors)
	}()

	return stageErrors
}

// startOutputCollection starts collecting output from leaf stages.
func (p *StreamPipeline) startOutputCollection(channels map[string]chan Frame, output chan<- Frame) <-chan struct{} {
	outputDone := make(chan struct{})
	go func() {
		p.collectOutput(channels, output)
		close(output)
		close(outputDone)
	}()
	return outputDone
}

// waitForStageErrors collects errors from stages and returns the first error.
func (p *StreamPipeline) waitForStageErrors(stageErrors <-chan error) error {
	var firstError error
	for err := range stageErrors {
		if err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}

// createChannels creates all inter-stage channels.
// Each stage's output channel is bounded; producers block under backpressure
// rather than drop frames.
func (p *StreamPipeline) createChannels() map[string]chan Frame {
	channels := make(map[string]chan Frame)

	p.cancelMu.Lock()
	p.inputs = p.inputs[:0]
	for _, stage := range p.stages {
		ch := make(chan Frame, p.config.ChannelBufferSize)
		channels[stage.Name()] = ch
		p.inputs = append(p.inputs, ch)
	}
	p.cancelMu.Unlock()

	return channels
}

// getStageInput returns the input channel for a stage.
// For root stages, it's the pipeline input. For others, it's determined by the graph.
func (p *StreamPipeline) getStageInput(stage Stage, pipelineInput <-chan Frame, channels map[string]chan Frame) <-chan Frame {
	if p.isRootStage(stage.Name()) {
		return pipelineInput
	}

	if upstream := p.findUpstreamStage(stage.Name()); upstream != "" {
		return channels[upstream]
	}

	// Should never reach here if validation worked
	return nil
}

// isRootStage checks if a stage has no incoming edges.
func (p *StreamPipeline) isRootStage(stageName string) bool {
	for _, toStages := range p.edges {
		for _, toStage := range toStages {
			if toStage == stageName {
				return false
			}
		}
	}
	return true
}

// findUpstreamStage finds the stage that feeds into the given stage.
// The intake topology is a linear chain, so each stage has at most one
// upstream; fan-in would need a dedicated merge stage.
func (p *StreamPipeline) findUpstreamStage(stageName string) string {
	for fromStage, toStages := range p.edges {
		for _, toStage := range toStages {
			if toStage == stageName {
				return fromStage
			}
		}
	}
	return ""
}

// runStage executes a single stage, wrapping it with metrics and error handling.
func (p *StreamPipeline) runStage(
	ctx context.Context,
	stage Stage,
	input <-chan Frame,
	output chan<- Frame,
	wg *sync.WaitGroup,
	errors chan<- error,
) {
	defer wg.Done()
	// The stage's Process() method is responsible for closing output
	// according to the Stage interface contract.

	start := time.Now()
	err := stage.Process(ctx, input, output)
	duration := time.Since(start)

	if p.config.EnableMetrics {
		prometheus.StageCompleted(stage.Name(), stage.Type().String(), err == nil, duration)
	}

	if err != nil {
		stageErr := NewStageError(stage.Name(), stage.Type(), err)
		errors <- stageErr
		select {
		case p.execDone <- stageErr:
		default: // a failure already surfaced
		}
		// A failed stage strands its neighbors: upstream producers block on
		// its dead queue and never observe the closed output. Tear the whole
		// execution down so every stage unwinds.
		p.Cancel()
	}
}

// collectOutput collects output from all leaf stages into the pipeline output channel.
func (p *StreamPipeline) collectOutput(channels map[string]chan Frame, output chan<- Frame) {
	for _, stage := range p.stages {
		if len(p.edges[stage.Name()]) == 0 {
			// Leaf stage - drain its output
			for frame := range channels[stage.Name()] {
				output <- frame
			}
		}
	}
}

// Shutdown gracefully shuts down the pipeline, waiting for in-flight executions to complete.
func (p *StreamPipeline) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	if p.isShutdown {
		p.shutdownMu.Unlock()
		return nil // Already shut down
	}
	p.isShutdown = true
	close(p.shutdown)
	p.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(ctx, p.config.GracefulShutdownTimeout)
	defer cancel()

	select {
	case <-done:
		return nil
	case <-shutdownCtx.Done():
		// The caller's context may expire before the configured timeout, so
		// report how long we actually waited.
		return fmt.Errorf("%w after %v", ErrShutdownTimeout, time.Since(start).Round(time.Millisecond))
	}
}

// isShuttingDown checks if the pipeline is shutting down.
func (p *StreamPipeline) isShuttingDown() bool {
	p.shutdownMu.RLock()
	defer p.shutdownMu.RUnlock()
	return p.isShutdown
}
