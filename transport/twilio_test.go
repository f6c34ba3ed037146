package transport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/IntakeKit/pipeline/stage"
)

// streamScript drives the remote side of a media stream for one test.
type streamScript func(t *testing.T, conn *websocket.Conn)

func dialScripted(t *testing.T, script streamScript) *TwilioTransport {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		script(t, conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn2transport(t, conn)
}

func conn2transport(t *testing.T, conn *websocket.Conn) *TwilioTransport {
	t.Helper()
	tr := NewTwilio(conn, nil)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func writeEvent(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Errorf("writing stream message: %v", err)
	}
}

func collectFrames(t *testing.T, tr *TwilioTransport, n int) []stage.Frame {
	t.Helper()

	frames := make([]stage.Frame, 0, n)
	timeout := time.After(5 * time.Second)
	for len(frames) < n {
		select {
		case frame, ok := <-tr.Frames():
			if !ok {
				t.Fatalf("frame channel closed after %d of %d frames", len(frames), n)
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatalf("timed out after %d of %d frames", len(frames), n)
		}
	}
	return frames
}

func TestTwilioTransport_InboundStream(t *testing.T) {
	ulaw := []byte{0xFF, 0x7F, 0x00, 0x80}
	payload := base64.StdEncoding.EncodeToString(ulaw)

	tr := dialScripted(t, func(t *testing.T, conn *websocket.Conn) {
		writeEvent(t, conn, map[string]any{"event": "connected", "protocol": "Call"})
		writeEvent(t, conn, map[string]any{"event": "start", "start": map[string]string{
			"streamSid": "MZ123", "callSid": "CA456",
		}})
		writeEvent(t, conn, map[string]any{"event": "media", "media": map[string]string{
			"payload": payload,
		}})
		writeEvent(t, conn, map[string]any{"event": "stop"})
	})

	frames := collectFrames(t, tr, 2)

	require.NotNil(t, frames[0].Audio)
	assert.Equal(t, DecodeULaw(ulaw), frames[0].Audio.PCM)
	assert.Equal(t, 8000, frames[0].Audio.SampleRate)
	assert.Equal(t, 1, frames[0].Audio.Channels)

	assert.True(t, frames[1].IsEnd())

	_, ok := <-tr.Frames()
	assert.False(t, ok, "frame channel should close after stop")
}

func TestTwilioTransport_ObserverCallbacks(t *testing.T) {
	connected := make(chan [2]string, 1)
	disconnected := make(chan string, 1)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		writeEvent(t, conn, map[string]any{"event": "connected"})
		writeEvent(t, conn, map[string]any{"event": "start", "start": map[string]string{
			"streamSid": "MZ123", "callSid": "CA456",
		}})
		writeEvent(t, conn, map[string]any{"event": "stop"})
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)

	tr := NewTwilio(conn, ObserverFuncs{
		Connected:    func(streamID, callID string) { connected <- [2]string{streamID, callID} },
		Disconnected: func(reason string) { disconnected <- reason },
	})
	t.Cleanup(func() { tr.Close() })

	select {
	case ids := <-connected:
		assert.Equal(t, "MZ123", ids[0])
		assert.Equal(t, "CA456", ids[1])
	case <-time.After(5 * time.Second):
		t.Fatal("OnConnected never fired")
	}

	// Drain so the read loop reaches the stop event.
	for range tr.Frames() {
	}

	select {
	case reason := <-disconnected:
		assert.Equal(t, "stop", reason)
	case <-time.After(5 * time.Second):
		t.Fatal("OnDisconnected never fired")
	}
}

func TestTwilioTransport_SendAudio(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03} // 0, 1000
	received := make(chan twilioMessage, 1)

	tr := dialScripted(t, func(t *testing.T, conn *websocket.Conn) {
		writeEvent(t, conn, map[string]any{"event": "start", "start": map[string]string{
			"streamSid": "MZ999", "callSid": "CA000",
		}})

		var msg twilioMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("reading outbound media: %v", err)
			return
		}
		received <- msg
	})

	// Wait for the start event so streamSid is known.
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.streamSid != ""
	}, 5*time.Second, 10*time.Millisecond)

	err := tr.SendAudio(context.Background(), &stage.AudioChunk{
		PCM: pcm, SampleRate: 8000, Channels: 1,
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "media", msg.Event)
		assert.Equal(t, "MZ999", msg.StreamSid)
		require.NotNil(t, msg.Media)
		decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		require.NoError(t, err)
		assert.Equal(t, EncodeULaw(pcm), decoded)
	case <-time.After(5 * time.Second):
		t.Fatal("outbound media never arrived")
	}
}

func TestTwilioTransport_SendBeforeStart(t *testing.T) {
	tr := dialScripted(t, func(t *testing.T, conn *websocket.Conn) {
		// Keep the socket open without sending a start event.
		time.Sleep(100 * time.Millisecond)
	})

	err := tr.SendAudio(context.Background(), &stage.AudioChunk{
		PCM: make([]byte, 320), SampleRate: 8000, Channels: 1,
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTwilioTransport_SendAfterClose(t *testing.T) {
	tr := dialScripted(t, func(t *testing.T, conn *websocket.Conn) {
		writeEvent(t, conn, map[string]any{"event": "start", "start": map[string]string{
			"streamSid": "MZ1", "callSid": "CA1",
		}})
		time.Sleep(100 * time.Millisecond)
	})

	require.NoError(t, tr.Close())

	err := tr.SendAudio(context.Background(), &stage.AudioChunk{
		PCM: make([]byte, 320), SampleRate: 8000, Channels: 1,
	})
	assert.ErrorIs(t, err, ErrClosed)
}
