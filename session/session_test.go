package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/IntakeKit/audio"
	"github.com/AltairaLabs/IntakeKit/intake"
	"github.com/AltairaLabs/IntakeKit/pipeline/stage"
	"github.com/AltairaLabs/IntakeKit/providers"
	"github.com/AltairaLabs/IntakeKit/providers/mock"
	"github.com/AltairaLabs/IntakeKit/stt"
	"github.com/AltairaLabs/IntakeKit/transport"
	"github.com/AltairaLabs/IntakeKit/tts"
	"github.com/AltairaLabs/IntakeKit/types"
)

// fakeTransport scripts the caller side of a call.
type fakeTransport struct {
	frames chan stage.Frame

	mu   sync.Mutex
	sent []*stage.AudioChunk
}

func newFakeTransport(script ...stage.Frame) *fakeTransport {
	frames := make(chan stage.Frame, len(script))
	for _, f := range script {
		frames <- f
	}
	close(frames)
	return &fakeTransport{frames: frames}
}

func (f *fakeTransport) Frames() <-chan stage.Frame { return f.frames }

func (f *fakeTransport) SendAudio(_ context.Context, chunk *stage.AudioChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sentBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, chunk := range f.sent {
		total += len(chunk.PCM)
	}
	return total
}

// scriptedVAD replays one state per analyzed chunk.
type scriptedVAD struct {
	states []audio.VADState
	index  int
}

func (v *scriptedVAD) Name() string { return "scripted" }

func (v *scriptedVAD) Analyze(_ context.Context, _ []byte) (float64, error) {
	if v.index < len(v.states) {
		v.index++
	}
	return 1.0, nil
}

func (v *scriptedVAD) State() audio.VADState {
	if v.index == 0 {
		return audio.VADStateQuiet
	}
	return v.states[v.index-1]
}

func (v *scriptedVAD) Reset() { v.index = 0 }

type fixedSTT struct{ text string }

func (s fixedSTT) Name() string { return "fixed" }

func (s fixedSTT) Transcribe(_ context.Context, audio []byte, _ stt.TranscriptionConfig) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}
	return s.text, nil
}

type fixedTTS struct{}

func (fixedTTS) Name() string { return "fixed" }

func (fixedTTS) Synthesize(_ context.Context, text string, _ tts.SynthesisConfig) (io.ReadCloser, error) {
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	return io.NopCloser(bytes.NewReader(make([]byte, 640))), nil
}

func audioChunkFrame() stage.Frame {
	return stage.NewAudioFrame(0, &stage.AudioChunk{
		PCM:        make([]byte, 320),
		SampleRate: 8000,
		Channels:   1,
	})
}

// oneUtteranceCall scripts a call with a single caller utterance followed by
// a hangup: one speech chunk, one silence chunk, stop.
func oneUtteranceCall() *fakeTransport {
	return newFakeTransport(
		audioChunkFrame(),
		audioChunkFrame(),
		stage.NewControlFrame(stage.ControlEnd),
	)
}

func oneUtteranceVAD() *scriptedVAD {
	return &scriptedVAD{states: []audio.VADState{
		audio.VADStateSpeaking,
		audio.VADStateQuiet,
	}}
}

func runCall(t *testing.T, deps Deps, tp *fakeTransport) *Session {
	t.Helper()

	sess, err := New(deps)
	require.NoError(t, err)

	// The media stream handshake precedes any scripted frames.
	sess.OnConnected("MZtest", "CAtest")

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background(), tp) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
	return sess
}

func TestSession_MatchingIdentityAdvances(t *testing.T) {
	provider := mock.New("mock")
	provider.Enqueue(
		// Opening turn.
		providers.ChatResponse{Content: "Hello, can you confirm your birth date?"},
		// The caller's answer triggers the identity tool.
		providers.ChatResponse{ToolCalls: []types.MessageToolCall{{
			ID:   "call-1",
			Name: intake.ToolVerifyIdentity,
			Args: json.RawMessage(`{"date":"1983-01-01"}`),
		}}},
		// Re-prompt after the transition narrates the next question.
		providers.ChatResponse{Content: "Thank you. What prescriptions are you taking?"},
	)

	tp := oneUtteranceCall()
	sess := runCall(t, Deps{
		Provider: provider,
		STT:      fixedSTT{text: "I was born on January first, nineteen eighty three"},
		TTS:      fixedTTS{},
		Sink:     intake.NewMemorySink(),
		VAD:      oneUtteranceVAD(),
	}, tp)

	assert.Equal(t, intake.StateCollectingPrescriptions, sess.State())
	// Opening reply and post-verification reply were both spoken.
	assert.Equal(t, 1280, tp.sentBytes())
}

func TestSession_WrongIdentityStaysPut(t *testing.T) {
	provider := mock.New("mock")
	provider.Enqueue(
		providers.ChatResponse{Content: "Hello, can you confirm your birth date?"},
		providers.ChatResponse{ToolCalls: []types.MessageToolCall{{
			ID:   "call-1",
			Name: intake.ToolVerifyIdentity,
			Args: json.RawMessage(`{"date":"1990-05-05"}`),
		}}},
		providers.ChatResponse{Content: "That does not match our records. Could you repeat it?"},
	)

	tp := oneUtteranceCall()
	sess := runCall(t, Deps{
		Provider: provider,
		STT:      fixedSTT{text: "May fifth nineteen ninety"},
		TTS:      fixedTTS{},
		Sink:     intake.NewMemorySink(),
		VAD:      oneUtteranceVAD(),
	}, tp)

	assert.Equal(t, intake.StateAwaitingIdentity, sess.State())
}

func TestSession_RecordsAgentAudio(t *testing.T) {
	dir := t.TempDir()

	provider := mock.New("mock")
	provider.Enqueue(providers.ChatResponse{Content: "Hello."})

	tp := newFakeTransport(stage.NewControlFrame(stage.ControlEnd))
	sess := runCall(t, Deps{
		Provider:     provider,
		STT:          fixedSTT{text: "unused"},
		TTS:          fixedTTS{},
		Sink:         intake.NewMemorySink(),
		VAD:          &scriptedVAD{},
		RecordingDir: dir,
	}, tp)
	_ = sess

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".wav"))
}

// handshakeTransport refuses writes until the stream start handshake, the
// way the live media stream does.
type handshakeTransport struct {
	frames chan stage.Frame

	mu      sync.Mutex
	started bool
	sent    []*stage.AudioChunk
}

func newHandshakeTransport() *handshakeTransport {
	return &handshakeTransport{frames: make(chan stage.Frame, 8)}
}

func (h *handshakeTransport) Frames() <-chan stage.Frame { return h.frames }

func (h *handshakeTransport) SendAudio(_ context.Context, chunk *stage.AudioChunk) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return fmt.Errorf("sending before stream start: %w", transport.ErrClosed)
	}
	h.sent = append(h.sent, chunk)
	return nil
}

func (h *handshakeTransport) Close() error { return nil }

// start marks the socket writable and fires the observer callback.
func (h *handshakeTransport) start(sess *Session) {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	sess.OnConnected("MZtest", "CAtest")
}

func (h *handshakeTransport) sentBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, chunk := range h.sent {
		total += len(chunk.PCM)
	}
	return total
}

func TestSession_OpeningWaitsForStreamStart(t *testing.T) {
	provider := mock.New("mock")
	provider.Enqueue(providers.ChatResponse{Content: "Hello."})

	tp := newHandshakeTransport()
	sess, err := New(Deps{
		Provider: provider,
		STT:      fixedSTT{text: "unused"},
		TTS:      fixedTTS{},
		Sink:     intake.NewMemorySink(),
		VAD:      &scriptedVAD{},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background(), tp) }()

	// No opening turn before the handshake: the greeting would hit a socket
	// that is not yet writable and mute the rest of the call.
	assert.Never(t, func() bool { return len(provider.Requests()) > 0 },
		200*time.Millisecond, 20*time.Millisecond)

	tp.start(sess)

	require.Eventually(t, func() bool { return tp.sentBytes() == 640 },
		5*time.Second, 10*time.Millisecond, "greeting was never spoken")

	tp.frames <- stage.NewControlFrame(stage.ControlEnd)
	close(tp.frames)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
}

type failingTTS struct{}

func (failingTTS) Name() string { return "failing" }

func (failingTTS) Synthesize(context.Context, string, tts.SynthesisConfig) (io.ReadCloser, error) {
	return nil, tts.ErrRateLimited
}

func TestSession_StageFailureEndsCall(t *testing.T) {
	provider := mock.New("mock")
	provider.Enqueue(providers.ChatResponse{Content: "Hello."})

	tp := newHandshakeTransport()
	sess, err := New(Deps{
		Provider: provider,
		STT:      fixedSTT{text: "unused"},
		TTS:      failingTTS{},
		Sink:     intake.NewMemorySink(),
		VAD:      &scriptedVAD{},
	})
	require.NoError(t, err)

	tp.start(sess)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background(), tp) }()

	// The transport stays live; only the failed stage ends the call.
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, tts.ErrRateLimited)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not tear down after the synthesis failure")
	}
	close(tp.frames)
}

func TestSession_CancelBeforeRunIsSafe(t *testing.T) {
	sess, err := New(Deps{
		Provider: mock.New("mock"),
		STT:      fixedSTT{text: "x"},
		TTS:      fixedTTS{},
		Sink:     intake.NewMemorySink(),
	})
	require.NoError(t, err)
	sess.Cancel()
}

func TestSession_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestSession_ReferenceDateOverride(t *testing.T) {
	provider := mock.New("mock")
	provider.Enqueue(
		providers.ChatResponse{Content: "Hello."},
		providers.ChatResponse{ToolCalls: []types.MessageToolCall{{
			ID:   "call-1",
			Name: intake.ToolVerifyIdentity,
			Args: json.RawMessage(`{"date":"1990-05-05"}`),
		}}},
		providers.ChatResponse{Content: "Verified."},
	)

	tp := oneUtteranceCall()
	sess := runCall(t, Deps{
		Provider:      provider,
		STT:           fixedSTT{text: "May fifth nineteen ninety"},
		TTS:           fixedTTS{},
		Sink:          intake.NewMemorySink(),
		VAD:           oneUtteranceVAD(),
		ReferenceDate: "1990-05-05",
	}, tp)

	assert.Equal(t, intake.StateCollectingPrescriptions, sess.State())
}
