package audio

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
)

// generatePCMAudio creates 16-bit PCM audio data with the given amplitude.
// amplitude should be 0.0 to 1.0
func generatePCMAudio(samples int, amplitude float64) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		// Generate a sine wave
		sample := int16(amplitude * 32767 * math.Sin(float64(i)*0.1))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data
}

// generateSilence creates silent 16-bit PCM audio data.
func generateSilence(samples int) []byte {
	return make([]byte, samples*2) // All zeros
}

func TestNewSimpleVAD(t *testing.T) {
	t.Run("valid params", func(t *testing.T) {
		vad, err := NewSimpleVAD(DefaultVADParams())
		if err != nil {
			t.Fatalf("NewSimpleVAD() error = %v", err)
		}
		if vad == nil {
			t.Fatal("NewSimpleVAD() returned nil")
		}
		if vad.Name() != "simple-rms" {
			t.Errorf("Name() = %v, want simple-rms", vad.Name())
		}
	})

	t.Run("invalid params", func(t *testing.T) {
		params := VADParams{Confidence: -1} // Invalid
		_, err := NewSimpleVAD(params)
		if err == nil {
			t.Error("NewSimpleVAD() should error on invalid params")
		}
	})
}

func TestSimpleVAD_Analyze_Silence(t *testing.T) {
	vad, _ := NewSimpleVAD(DefaultVADParams())

	silence := generateSilence(800) // 100ms at 8kHz
	prob, err := vad.Analyze(context.Background(), silence)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if prob != 0 {
		t.Errorf("Analyze(silence) probability = %v, want 0", prob)
	}

	if vad.State() != VADStateQuiet {
		t.Errorf("State() = %v, want VADStateQuiet", vad.State())
	}
}

func TestSimpleVAD_Analyze_Speech(t *testing.T) {
	vad, _ := NewSimpleVAD(DefaultVADParams())

	// 100ms chunks of loud audio; StartSecs (0.2s) of audio time elapses
	// after a handful of chunks.
	loudAudio := generatePCMAudio(800, 0.5)
	for i := 0; i < 10; i++ {
		prob, err := vad.Analyze(context.Background(), loudAudio)
		if err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		if i > 2 && prob <= 0 {
			t.Errorf("Analyze(loud audio) probability = %v, want > 0", prob)
		}
	}

	if vad.State() != VADStateSpeaking {
		t.Errorf("State() = %v, want VADStateSpeaking", vad.State())
	}
}

func TestSimpleVAD_StateTransitions(t *testing.T) {
	vad, _ := NewSimpleVAD(DefaultVADParams())

	if vad.State() != VADStateQuiet {
		t.Errorf("initial State() = %v, want VADStateQuiet", vad.State())
	}

	loudAudio := generatePCMAudio(800, 0.5) // 100ms at 8kHz
	for i := 0; i < 10; i++ {
		vad.Analyze(context.Background(), loudAudio)
	}
	if vad.State() != VADStateSpeaking {
		t.Errorf("after 1s loud audio State() = %v, want VADStateSpeaking", vad.State())
	}

	// Silence shorter than StopSecs keeps the detector in stopping.
	silence := generateSilence(800)
	for i := 0; i < 5; i++ {
		vad.Analyze(context.Background(), silence)
	}
	if vad.State() != VADStateStopping {
		t.Errorf("after 0.5s silence State() = %v, want VADStateStopping", vad.State())
	}

	// A full second of trailing silence ends the utterance.
	for i := 0; i < 10; i++ {
		vad.Analyze(context.Background(), silence)
	}
	if vad.State() != VADStateQuiet {
		t.Errorf("after 1.5s silence State() = %v, want VADStateQuiet", vad.State())
	}
}

func TestSimpleVAD_JitterTolerance(t *testing.T) {
	vad, _ := NewSimpleVAD(DefaultVADParams())

	loudAudio := generatePCMAudio(800, 0.5)
	silence := generateSilence(800)

	for i := 0; i < 10; i++ {
		vad.Analyze(context.Background(), loudAudio)
	}
	if vad.State() != VADStateSpeaking {
		t.Fatalf("State() = %v, want VADStateSpeaking", vad.State())
	}

	// A single quiet chunk inside continuous speech must not end the turn.
	vad.Analyze(context.Background(), silence)
	if vad.State() != VADStateStopping {
		t.Errorf("after one quiet chunk State() = %v, want VADStateStopping", vad.State())
	}

	// Smoothing carries energy over from the loud chunks, so give the
	// detector a few loud chunks to climb back.
	for i := 0; i < 3; i++ {
		vad.Analyze(context.Background(), loudAudio)
	}
	if vad.State() != VADStateSpeaking {
		t.Errorf("after speech resumes State() = %v, want VADStateSpeaking", vad.State())
	}
}

func TestSimpleVAD_Reset(t *testing.T) {
	vad, _ := NewSimpleVAD(DefaultVADParams())

	loudAudio := generatePCMAudio(800, 0.5)
	for i := 0; i < 10; i++ {
		vad.Analyze(context.Background(), loudAudio)
	}

	vad.Reset()

	if vad.State() != VADStateQuiet {
		t.Errorf("after Reset() State() = %v, want VADStateQuiet", vad.State())
	}
}

func TestSimpleVAD_EmptyAudio(t *testing.T) {
	vad, _ := NewSimpleVAD(DefaultVADParams())

	prob, err := vad.Analyze(context.Background(), []byte{})
	if err != nil {
		t.Fatalf("Analyze(empty) error = %v", err)
	}
	if prob != 0 {
		t.Errorf("Analyze(empty) = %v, want 0", prob)
	}

	prob, err = vad.Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("Analyze(nil) error = %v", err)
	}
	if prob != 0 {
		t.Errorf("Analyze(nil) = %v, want 0", prob)
	}
}

func TestVADParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*VADParams)
		wantErr bool
	}{
		{"defaults", func(*VADParams) {}, false},
		{"confidence too high", func(p *VADParams) { p.Confidence = 1.5 }, true},
		{"negative start", func(p *VADParams) { p.StartSecs = -0.1 }, true},
		{"negative stop", func(p *VADParams) { p.StopSecs = -1 }, true},
		{"min volume out of range", func(p *VADParams) { p.MinVolume = 2 }, true},
		{"zero sample rate", func(p *VADParams) { p.SampleRate = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultVADParams()
			tt.mutate(&params)
			err := params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
