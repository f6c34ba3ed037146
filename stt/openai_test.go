package stt_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AltairaLabs/IntakeKit/stt"
)

func generateTestAudio(samples int) []byte {
	return make([]byte, samples*2)
}

func TestNewOpenAI(t *testing.T) {
	service := stt.NewOpenAI("test-api-key")
	if service == nil {
		t.Fatal("NewOpenAI returned nil")
	}
	if service.Name() != "openai-whisper" {
		t.Errorf("Name() = %q, want %q", service.Name(), "openai-whisper")
	}
}

func TestOpenAIService_Transcribe_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			t.Errorf("Missing or invalid Authorization header: %s", authHeader)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"text": "my birthday is January first nineteen eighty three",
		})
	}))
	defer server.Close()

	service := stt.NewOpenAI("test-api-key", stt.WithOpenAIBaseURL(server.URL))

	audio := generateTestAudio(8000) // 1 second at 8kHz
	text, err := service.Transcribe(context.Background(), audio, stt.DefaultTranscriptionConfig())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	expected := "my birthday is January first nineteen eighty three"
	if text != expected {
		t.Errorf("Transcribe() = %q, want %q", text, expected)
	}
}

func TestOpenAIService_Transcribe_EmptyAudio(t *testing.T) {
	service := stt.NewOpenAI("test-api-key")

	_, err := service.Transcribe(context.Background(), nil, stt.DefaultTranscriptionConfig())
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("Transcribe(nil) error = %v, want ErrEmptyAudio", err)
	}
}

func TestOpenAIService_Transcribe_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "slow down", "code": "rate_limit_exceeded"},
		})
	}))
	defer server.Close()

	service := stt.NewOpenAI("test-api-key", stt.WithOpenAIBaseURL(server.URL))

	_, err := service.Transcribe(context.Background(), generateTestAudio(800), stt.DefaultTranscriptionConfig())
	if !errors.Is(err, stt.ErrRateLimited) {
		t.Errorf("Transcribe error = %v, want ErrRateLimited", err)
	}

	var transcriptionErr *stt.TranscriptionError
	if !errors.As(err, &transcriptionErr) {
		t.Fatalf("error is not a TranscriptionError: %v", err)
	}
	if !transcriptionErr.Retryable {
		t.Error("rate limit error should be retryable")
	}
}

func TestWrapPCMAsWAV(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	wav := stt.WrapPCMAsWAV(pcm, 8000, 1, 16)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("WAV length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE header")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Errorf("sample rate = %d, want 8000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("data size = %d, want %d", size, len(pcm))
	}
}
