package stage

import (
	"context"

	"github.com/AltairaLabs/IntakeKit/audio"
	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/stt"
)

// BoundaryStage detects utterance boundaries in the caller audio stream.
//
// It feeds every chunk to the VAD and tracks its state machine: when the
// detector enters speaking it emits UtteranceBoundary{start} for a fresh
// turn, while speech continues it forwards audio tagged with that turn, and
// when trailing silence exceeds the configured threshold it emits
// UtteranceBoundary{end}. Audio classified as silence between utterances is
// dropped.
//
// The stage owns the session's turn counter: each utterance start allocates
// the next turnId.
type BoundaryStage struct {
	BaseStage
	vad audio.VADAnalyzer
}

// NewBoundaryStage creates a boundary detection stage.
// If vad is nil, a SimpleVAD with default params is created.
func NewBoundaryStage(vad audio.VADAnalyzer) (*BoundaryStage, error) {
	if vad == nil {
		var err error
		vad, err = audio.NewSimpleVAD(audio.DefaultVADParams())
		if err != nil {
			return nil, err
		}
	}

	return &BoundaryStage{
		BaseStage: NewBaseStage("boundary", StageTypeTransform),
		vad:       vad,
	}, nil
}

// Process implements the Stage interface.
func (s *BoundaryStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
	defer close(output)

	var (
		turnID   int64
		inSpeech bool
		pending  []Frame // Chunks seen while the detector ramps up in starting
	)

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
		if frame.Audio == nil {
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
			continue
		}

		if _, err := s.vad.Analyze(ctx, frame.Audio.PCM); err != nil {
			return err
		}

		state := s.vad.State()
		switch state {
		case audio.VADStateStarting:
			// Not yet committed to speech; hold the chunk so the first
			// syllables are not clipped if the utterance is confirmed.
			pending = append(pending, frame)
		case audio.VADStateSpeaking, audio.VADStateStopping:
			if !inSpeech {
				inSpeech = true
				turnID++
				logger.Debug("utterance started", "turn_id", turnID)
				if err := Emit(ctx, output, NewBoundaryFrame(turnID, BoundaryStart)); err != nil {
					return err
				}
				for _, held := range pending {
					held.TurnID = turnID
					if err := Emit(ctx, output, held); err != nil {
						return err
					}
				}
				pending = nil
			}
			frame.TurnID = turnID
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
		case audio.VADStateQuiet:
			pending = nil
			if inSpeech {
				inSpeech = false
				logger.Debug("utterance ended", "turn_id", turnID)
				if err := Emit(ctx, output, NewBoundaryFrame(turnID, BoundaryEnd)); err != nil {
					return err
				}
			}
		}
	}

	// Input closed mid-utterance: close the open turn so downstream
	// accumulation flushes.
	if inSpeech {
		return Emit(ctx, output, NewBoundaryFrame(turnID, BoundaryEnd))
	}
	return nil
}

// TranscriptionStage accumulates utterance audio between boundary frames and
// transcribes each completed utterance as one unit.
//
// This is an Accumulate stage: N audio chunks -> 1 transcript per turn.
type TranscriptionStage struct {
	BaseStage
	service stt.Service
	config  stt.TranscriptionConfig
}

// NewTranscriptionStage creates a transcription stage backed by the given
// STT service.
func NewTranscriptionStage(service stt.Service, config stt.TranscriptionConfig) *TranscriptionStage {
	return &TranscriptionStage{
		BaseStage: NewBaseStage("transcription", StageTypeAccumulate),
		service:   service,
		config:    config,
	}
}

// Process implements the Stage interface.
// A transcription failure is session-fatal: the error propagates and tears
// the pipeline down rather than leaving the dialogue silently stuck.
func (s *TranscriptionStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
	defer close(output)

	var (
		buffer    []byte
		buffering bool
		turnID    int64
	)

	for frame := range input {
		switch {
		case frame.IsControl():
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
			if frame.IsCancel() {
				return nil
			}

		case frame.Boundary != nil && frame.Boundary.Kind == BoundaryStart:
			buffering = true
			buffer = buffer[:0]
			turnID = frame.TurnID

		case frame.Boundary != nil && frame.Boundary.Kind == BoundaryEnd:
			if !buffering || len(buffer) == 0 {
				buffering = false
				continue
			}
			buffering = false

			text, err := s.service.Transcribe(ctx, buffer, s.config)
			if err != nil {
				return err
			}
			logger.Info("utterance transcribed",
				"turn_id", turnID,
				"chars", len(text))
			if err := Emit(ctx, output, NewTranscriptFrame(turnID, text, true)); err != nil {
				return err
			}

		case frame.Audio != nil:
			if buffering {
				buffer = append(buffer, frame.Audio.PCM...)
			}

		default:
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
		}
	}

	return nil
}
