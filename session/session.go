// Package session ties one transport connection to one pipeline instance.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/IntakeKit/audio"
	"github.com/AltairaLabs/IntakeKit/conversation"
	"github.com/AltairaLabs/IntakeKit/intake"
	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/metrics/prometheus"
	"github.com/AltairaLabs/IntakeKit/pipeline/stage"
	"github.com/AltairaLabs/IntakeKit/providers"
	"github.com/AltairaLabs/IntakeKit/recording"
	"github.com/AltairaLabs/IntakeKit/stt"
	"github.com/AltairaLabs/IntakeKit/transport"
	"github.com/AltairaLabs/IntakeKit/tts"
)

// Deps are the external collaborators one session needs.
type Deps struct {
	Provider providers.Provider
	STT      stt.Service
	TTS      tts.Service
	Sink     intake.Sink

	// VAD is optional; nil uses a SimpleVAD with default parameters.
	VAD audio.VADAnalyzer

	// Assets holds preloaded feedback sounds; ConnectSound names the asset
	// played to the caller once the media stream starts. Both optional.
	Assets       *audio.AssetTable
	ConnectSound string

	Transcription stt.TranscriptionConfig
	Synthesis     tts.SynthesisConfig

	// RecordingDir, when set, is where the agent audio WAV is flushed on
	// session end. Empty disables recording to disk.
	RecordingDir string

	// ReferenceDate and OpeningInstruction override the intake defaults
	// when non-empty.
	ReferenceDate      string
	OpeningInstruction string

	Pipeline *stage.PipelineConfig
}

func (d *Deps) validate() error {
	if d.Provider == nil {
		return errors.New("session: provider is required")
	}
	if d.STT == nil {
		return errors.New("session: stt service is required")
	}
	if d.TTS == nil {
		return errors.New("session: tts service is required")
	}
	if d.Sink == nil {
		return errors.New("session: sink is required")
	}
	return nil
}

// Session runs one caller's intake call: it owns the conversation context,
// the intake processor, the recording buffer, and the pipeline instance, and
// pumps frames between the transport and the pipeline. Sessions share no
// mutable state.
//
// Session implements transport.Observer so a disconnect cancels the pipeline
// even while a stage is blocked on an external call.
type Session struct {
	id       string
	deps     Deps
	conv     *conversation.Context
	proc     *intake.Processor
	recorder *recording.Buffer

	connectedOnce sync.Once
	connected     chan struct{}

	mu       sync.Mutex
	pipeline *stage.StreamPipeline
	callSid  string
}

// New creates a session with a fresh ID.
func New(deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	conv := conversation.New()

	var opts []intake.ProcessorOption
	if deps.ReferenceDate != "" {
		opts = append(opts, intake.WithReferenceDate(deps.ReferenceDate))
	}
	if deps.OpeningInstruction != "" {
		opts = append(opts, intake.WithOpeningInstruction(deps.OpeningInstruction))
	}

	return &Session{
		id:        id,
		deps:      deps,
		conv:      conv,
		proc:      intake.NewProcessor(id, conv, deps.Sink, opts...),
		recorder:  recording.NewBuffer(id),
		connected: make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State reports where the intake dialogue currently stands.
func (s *Session) State() intake.State {
	return s.proc.State()
}

// OnConnected implements transport.Observer.
func (s *Session) OnConnected(streamID, callID string) {
	s.mu.Lock()
	s.callSid = callID
	s.mu.Unlock()
	s.connectedOnce.Do(func() { close(s.connected) })
	logger.Info("session connected",
		"session_id", s.id,
		"stream_id", streamID,
		"call_id", callID)
}

// playConnectSound sends the configured feedback asset straight to the
// caller. It bypasses the pipeline: the sound is a transport-level cue, not
// agent speech, so it is not recorded.
func (s *Session) playConnectSound(ctx context.Context, tp transport.Transport) {
	if s.deps.Assets == nil || s.deps.ConnectSound == "" {
		return
	}
	asset, err := s.deps.Assets.Get(s.deps.ConnectSound)
	if err != nil {
		logger.Warn("connect sound not loaded",
			"session_id", s.id,
			"asset", s.deps.ConnectSound)
		return
	}
	chunk := &stage.AudioChunk{
		PCM:        asset.PCM,
		SampleRate: asset.SampleRate,
		Channels:   asset.Channels,
	}
	if err := tp.SendAudio(ctx, chunk); err != nil {
		logger.Warn("connect sound send failed", "session_id", s.id, "error", err)
	}
}

// OnDisconnected implements transport.Observer.
// In-flight frames are discarded once cancellation propagates.
func (s *Session) OnDisconnected(reason string) {
	logger.Info("session disconnected", "session_id", s.id, "reason", reason)
	s.Cancel()
}

// Cancel requests immediate teardown of the running pipeline.
// Safe to call at any point, including before Run.
func (s *Session) Cancel() {
	s.mu.Lock()
	p := s.pipeline
	s.mu.Unlock()
	if p != nil {
		p.Cancel()
	}
}

// Run drives the session until the caller hangs up, the pipeline fails, or
// ctx is cancelled. It always flushes the recording buffer on the way out.
func (s *Session) Run(ctx context.Context, tp transport.Transport) error {
	start := time.Now()

	pipeline, err := s.buildPipeline()
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	s.mu.Lock()
	s.pipeline = pipeline
	s.mu.Unlock()

	input := make(chan stage.Frame, stage.DefaultChannelBufferSize)
	output, err := pipeline.Execute(ctx, input)
	if err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}

	group, runCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.pumpInbound(runCtx, tp, input)
	})
	group.Go(func() error {
		return s.pumpOutbound(runCtx, tp, output)
	})
	// Surface stage failures (a dead STT, TTS, or provider backend) so the
	// session tears down instead of running on silently.
	group.Go(func() error {
		select {
		case err := <-pipeline.Done():
			return err
		case <-runCtx.Done():
			return runCtx.Err()
		}
	})

	// Outside the group: on a call that never reaches the start handshake
	// this goroutine would otherwise hold Wait open forever.
	soundCtx, stopSound := context.WithCancel(runCtx)
	defer stopSound()
	go func() {
		select {
		case <-s.connected:
			s.playConnectSound(soundCtx, tp)
		case <-soundCtx.Done():
		}
	}()

	runErr := group.Wait()
	pipeline.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pipeline shutdown timed out", "session_id", s.id, "error", err)
	}

	s.flushRecording()

	outcome := "cancelled"
	switch {
	case s.proc.State() == intake.StateComplete:
		outcome = "completed"
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		outcome = "error"
	}
	prometheus.SessionEnded(outcome)
	logger.Info("session ended",
		"session_id", s.id,
		"outcome", outcome,
		"duration", time.Since(start))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// buildPipeline assembles the linear stage chain:
// boundary -> transcription -> caller context -> generation -> synthesis ->
// recording tap.
func (s *Session) buildPipeline() (*stage.StreamPipeline, error) {
	boundary, err := stage.NewBoundaryStage(s.deps.VAD)
	if err != nil {
		return nil, err
	}

	builder := stage.NewPipelineBuilder().
		Chain(
			boundary,
			stage.NewTranscriptionStage(s.deps.STT, s.deps.Transcription),
			stage.NewCallerContextStage(s.conv),
			stage.NewGenerationStage(s.deps.Provider, s.conv, s.proc),
			stage.NewSynthesisStage(s.deps.TTS, s.deps.Synthesis),
			stage.NewRecordingStage(s.recorder),
		)
	if s.deps.Pipeline != nil {
		builder = builder.WithConfig(s.deps.Pipeline)
	}

	return builder.Build()
}

// pumpInbound feeds transport frames into the pipeline until the transport
// stream ends. Closing the input channel starts the orderly drain.
//
// The opening turn waits for the transport's start handshake: the processor
// installs the identity schema and opening instruction, and an empty final
// transcript makes the generation stage speak first. Seeding any earlier
// would race the greeting against a socket that is not yet writable.
func (s *Session) pumpInbound(ctx context.Context, tp transport.Transport, input chan<- stage.Frame) error {
	defer close(input)

	deliver := func(frame stage.Frame) error {
		select {
		case input <- frame:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	seeded := false
	seed := func() error {
		s.proc.Begin()
		seeded = true
		return deliver(stage.NewTranscriptFrame(0, "", true))
	}

	for {
		if !seeded {
			select {
			case <-s.connected:
				if err := seed(); err != nil {
					return err
				}
			case frame, ok := <-tp.Frames():
				if !ok {
					return nil
				}
				// The handshake precedes media on the wire, but the select
				// above may hand us the frame first; honor the handshake
				// before forwarding anything.
				select {
				case <-s.connected:
					if err := seed(); err != nil {
						return err
					}
				default:
					// A stream that ends before it starts produces no
					// agent speech; anything else pre-start has nowhere
					// to go yet.
					if frame.IsEnd() {
						return nil
					}
					continue
				}
				if err := deliver(frame); err != nil {
					return err
				}
				if frame.IsEnd() {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case frame, ok := <-tp.Frames():
			if !ok {
				return nil
			}
			if err := deliver(frame); err != nil {
				return err
			}
			if frame.IsEnd() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pumpOutbound drains the pipeline output and writes agent audio back to the
// caller. Non-audio frames (transcripts, tool activity) are observable here
// but need no transport action. The loop always drains to channel close so
// the pipeline's output collector never blocks during teardown; after a
// cancel frame or a dead transport it keeps draining without sending.
func (s *Session) pumpOutbound(ctx context.Context, tp transport.Transport, output <-chan stage.Frame) error {
	var sendErr error
	muted := false

	for frame := range output {
		if frame.IsCancel() {
			muted = true
		}
		if muted || frame.Audio == nil {
			continue
		}
		if err := tp.SendAudio(ctx, frame.Audio); err != nil {
			muted = true
			if !errors.Is(err, transport.ErrClosed) && !errors.Is(err, context.Canceled) {
				sendErr = fmt.Errorf("sending audio: %w", err)
			}
		}
	}
	return sendErr
}

// flushRecording writes the captured agent audio to disk, if configured.
func (s *Session) flushRecording() {
	if s.deps.RecordingDir == "" {
		return
	}
	path, err := s.recorder.Flush(s.deps.RecordingDir)
	if err != nil {
		logger.Error("recording flush failed", "session_id", s.id, "error", err)
		return
	}
	if path != "" {
		logger.Info("session recording saved", "session_id", s.id, "path", path)
	}
}
