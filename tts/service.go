// Package tts provides text-to-speech synthesis for agent replies.
package tts

import (
	"context"
	"io"
)

// Default audio settings for telephony output.
const (
	DefaultSampleRate = 8000
	DefaultBitDepth   = 16
)

// Service converts text to speech audio.
// This interface abstracts different TTS providers (Cartesia, OpenAI, etc.)
// so the synthesis stage can use any provider interchangeably.
type Service interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Synthesize converts text to raw 16-bit PCM audio at the configured
	// sample rate. Returns a reader for the audio data; the caller is
	// responsible for closing it.
	Synthesize(ctx context.Context, text string, config SynthesisConfig) (io.ReadCloser, error)
}

// SynthesisConfig configures text-to-speech synthesis.
type SynthesisConfig struct {
	// Voice is the voice ID to use for synthesis.
	// Available voices vary by provider.
	Voice string

	// SampleRate is the output sample rate in Hz.
	// Default: 8000 (telephony)
	SampleRate int

	// Language is the language code for synthesis (e.g., "en").
	Language string

	// Model is the TTS model to use (provider-specific).
	Model string
}

// DefaultSynthesisConfig returns sensible defaults for telephony synthesis.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		SampleRate: DefaultSampleRate,
		Language:   "en",
	}
}
