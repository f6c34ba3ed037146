// Package recording buffers the agent's synthesized audio for a session and
// flushes it to a WAV file when the call ends.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AltairaLabs/IntakeKit/audio"
	"github.com/AltairaLabs/IntakeKit/logger"
)

const (
	// DefaultSampleRate is assumed until the first chunk arrives.
	DefaultSampleRate = 8000

	timestampLayout = "20060102_150405"
)

// Buffer accumulates PCM16 audio for one session.
//
// The sample rate and channel count are locked in by the first appended
// chunk; later chunks with a different format are counted and dropped rather
// than corrupting the file.
type Buffer struct {
	mu         sync.Mutex
	sessionID  string
	pcm        []byte
	sampleRate int
	channels   int
	dropped    int
	flushed    bool
	flushPath  string
}

// NewBuffer creates an empty recording buffer for the given session.
func NewBuffer(sessionID string) *Buffer {
	return &Buffer{sessionID: sessionID}
}

// Append adds one chunk of agent audio to the buffer.
func (b *Buffer) Append(pcm []byte, sampleRate, channels int) {
	if len(pcm) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sampleRate == 0 {
		b.sampleRate = sampleRate
		b.channels = channels
	}
	if sampleRate != b.sampleRate || channels != b.channels {
		b.dropped++
		return
	}

	b.pcm = append(b.pcm, pcm...)
}

// Len returns the number of buffered PCM bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pcm)
}

// Duration returns the buffered audio length.
func (b *Buffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sampleRate == 0 {
		return 0
	}
	samples := len(b.pcm) / 2 / b.channels
	return time.Duration(samples) * time.Second / time.Duration(b.sampleRate)
}

// Flush writes the buffered audio to a WAV file under dir and returns its
// path. An empty buffer produces no file. Flush is idempotent: subsequent
// calls return the original path without writing again, so teardown paths
// that race (disconnect handler vs. pipeline shutdown) cannot double-write.
func (b *Buffer) Flush(dir string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flushed {
		return b.flushPath, nil
	}
	if len(b.pcm) == 0 {
		b.flushed = true
		return "", nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating recording dir: %w", err)
	}

	name := fmt.Sprintf("%s_recording_%s.wav",
		b.sessionID, time.Now().UTC().Format(timestampLayout))
	path := filepath.Join(dir, name)

	wav := audio.EncodeWAV(b.pcm, b.sampleRate, b.channels)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("writing recording: %w", err)
	}

	b.flushed = true
	b.flushPath = path

	logger.Info("recording flushed",
		"session_id", b.sessionID,
		"path", path,
		"bytes", len(b.pcm),
		"dropped_chunks", b.dropped)

	return path, nil
}
