package stage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/recording"
	"github.com/AltairaLabs/IntakeKit/tts"
)

// defaultSynthesisChunk is the duration of each emitted audio frame.
// 20ms matches the telephony media packet cadence.
const defaultSynthesisChunk = 20 * time.Millisecond

// SynthesisStage converts agent reply text into audio frames.
//
// Each AgentText frame is synthesized as one unit and emitted as a series of
// fixed-duration AudioChunk frames carrying the same turnId, so downstream
// pacing and recording see a steady stream.
type SynthesisStage struct {
	BaseStage
	service tts.Service
	config  tts.SynthesisConfig
}

// NewSynthesisStage creates a synthesis stage backed by the given TTS service.
func NewSynthesisStage(service tts.Service, config tts.SynthesisConfig) *SynthesisStage {
	if config.SampleRate == 0 {
		config.SampleRate = tts.DefaultSampleRate
	}
	return &SynthesisStage{
		BaseStage: NewBaseStage("synthesis", StageTypeTransform),
		service:   service,
		config:    config,
	}
}

// Process implements the Stage interface.
// Synthesis failures are session-fatal and propagate as stage errors.
func (s *SynthesisStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
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

		if frame.AgentText == nil {
			if err := Emit(ctx, output, frame); err != nil {
				return err
			}
			continue
		}

		if err := s.synthesize(ctx, frame.TurnID, frame.AgentText.Text, output); err != nil {
			return err
		}
	}

	return nil
}

// synthesize runs one TTS round trip and emits the resulting audio.
func (s *SynthesisStage) synthesize(ctx context.Context, turnID int64, text string, output chan<- Frame) error {
	body, err := s.service.Synthesize(ctx, text, s.config)
	if err != nil {
		return fmt.Errorf("synthesis failed for turn %d: %w", turnID, err)
	}
	defer body.Close()

	pcm, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading synthesized audio for turn %d: %w", turnID, err)
	}

	logger.Debug("reply synthesized",
		"turn_id", turnID,
		"chars", len(text),
		"bytes", len(pcm))

	chunkBytes := s.config.SampleRate * 2 * int(defaultSynthesisChunk/time.Millisecond) / 1000
	for offset := 0; offset < len(pcm); offset += chunkBytes {
		end := offset + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := &AudioChunk{
			PCM:        pcm[offset:end],
			SampleRate: s.config.SampleRate,
			Channels:   1,
		}
		if err := Emit(ctx, output, NewAudioFrame(turnID, chunk)); err != nil {
			return err
		}
	}

	return nil
}

// RecordingStage is a passthrough tap that copies agent audio into the
// session's recording buffer on its way to the transport.
type RecordingStage struct {
	BaseStage
	buffer *recording.Buffer
}

// NewRecordingStage creates a recording tap stage.
func NewRecordingStage(buffer *recording.Buffer) *RecordingStage {
	return &RecordingStage{
		BaseStage: NewBaseStage("recording", StageTypeSink),
		buffer:    buffer,
	}
}

// Process implements the Stage interface.
func (s *RecordingStage) Process(ctx context.Context, input <-chan Frame, output chan<- Frame) error {
	defer close(output)

	for frame := range input {
		if frame.Audio != nil {
			s.buffer.Append(frame.Audio.PCM, frame.Audio.SampleRate, frame.Audio.Channels)
		}
		if err := Emit(ctx, output, frame); err != nil {
			return err
		}
		if frame.IsCancel() {
			return nil
		}
	}

	return nil
}
