// Package stt provides speech-to-text transcription for caller utterances.
package stt

import (
	"context"
)

const (
	// Default audio settings for telephony input.
	DefaultSampleRate = 8000
	DefaultChannels   = 1
	DefaultBitDepth   = 16

	// Common audio formats.
	FormatPCM = "pcm"
	FormatWAV = "wav"
)

// Service transcribes audio to text.
// This interface abstracts different STT providers (OpenAI Whisper, Google,
// etc.) so the transcription stage can use any provider interchangeably.
type Service interface {
	// Name returns the provider identifier (for logging/debugging).
	Name() string

	// Transcribe converts one utterance of audio to text.
	// Returns the transcribed text or an error if transcription fails.
	Transcribe(ctx context.Context, audio []byte, config TranscriptionConfig) (string, error)
}

// TranscriptionConfig configures speech-to-text transcription.
type TranscriptionConfig struct {
	// Format is the audio format ("pcm", "wav").
	// Default: "pcm"
	Format string

	// SampleRate is the audio sample rate in Hz.
	// Default: 8000 (telephony)
	SampleRate int

	// Channels is the number of audio channels (1=mono, 2=stereo).
	// Default: 1
	Channels int

	// BitDepth is the bits per sample for PCM audio.
	// Default: 16
	BitDepth int

	// Language is a hint for the transcription language (e.g., "en", "es").
	// Optional - improves accuracy if provided.
	Language string

	// Model is the STT model to use (provider-specific).
	// For OpenAI: "whisper-1"
	Model string

	// Prompt is a text prompt to guide transcription (provider-specific).
	// Can improve accuracy for domain-specific vocabulary such as
	// medication names.
	Prompt string
}

// DefaultTranscriptionConfig returns sensible defaults for telephony audio.
func DefaultTranscriptionConfig() TranscriptionConfig {
	return TranscriptionConfig{
		Format:     FormatPCM,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
		Language:   "en",
	}
}
