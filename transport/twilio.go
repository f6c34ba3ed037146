package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/pipeline/stage"
)

const (
	// twilioSampleRate is the fixed media stream rate: 8kHz mono μ-law.
	twilioSampleRate = 8000

	// frameBuffer bounds the inbound frame channel. Media messages arrive
	// every 20ms; a full channel applies backpressure to the socket read.
	frameBuffer = 64

	// paceBurstMs is how much outbound audio may be sent ahead of real
	// time. Keeps the far-end jitter buffer primed without flooding it.
	paceBurstMs = 400
)

// twilioMessage is the media stream wire envelope. One struct covers both
// directions; unused fields stay empty.
type twilioMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
}

type twilioStart struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

type twilioMedia struct {
	Payload string `json:"payload"`
}

// TwilioTransport adapts a Twilio media stream websocket to the pipeline.
//
// Inbound: the handshake "connected" message is skipped, "start" yields the
// stream and call identifiers, each "media" payload is base64-decoded and
// expanded from μ-law to PCM16, and "stop" ends the stream. Outbound chunks
// are companded back to μ-law and paced to real time so the socket never runs
// far ahead of playback.
type TwilioTransport struct {
	conn     *websocket.Conn
	observer Observer
	frames   chan stage.Frame
	pacer    *rate.Limiter
	done     chan struct{}

	mu        sync.Mutex
	streamSid string
	closed    bool
}

// NewTwilio creates a transport over an upgraded websocket connection and
// starts reading from it. A nil observer is allowed.
func NewTwilio(conn *websocket.Conn, observer Observer) *TwilioTransport {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	t := &TwilioTransport{
		conn:     conn,
		observer: observer,
		frames:   make(chan stage.Frame, frameBuffer),
		done:     make(chan struct{}),
		// One token per millisecond of audio.
		pacer: rate.NewLimiter(rate.Limit(1000), paceBurstMs),
	}
	go t.readLoop()
	return t
}

// Frames returns the inbound frame stream. The channel closes once the
// remote end disconnects or Close is called.
func (t *TwilioTransport) Frames() <-chan stage.Frame {
	return t.frames
}

// readLoop consumes socket messages until the stream ends.
func (t *TwilioTransport) readLoop() {
	defer close(t.frames)

	reason := "stop"
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.isClosed() {
				reason = err.Error()
			} else {
				reason = "closed"
			}
			break
		}

		var msg twilioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("dropping malformed stream message", "error", err)
			continue
		}

		switch msg.Event {
		case "connected":
			// Handshake preamble, no payload.

		case "start":
			if msg.Start == nil {
				logger.Warn("start message without start block")
				continue
			}
			t.mu.Lock()
			t.streamSid = msg.Start.StreamSid
			t.mu.Unlock()
			logger.Info("media stream started",
				"stream_sid", msg.Start.StreamSid,
				"call_sid", msg.Start.CallSid)
			t.observer.OnConnected(msg.Start.StreamSid, msg.Start.CallSid)

		case "media":
			if msg.Media == nil {
				continue
			}
			ulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				logger.Warn("dropping undecodable media payload", "error", err)
				continue
			}
			if !t.deliver(stage.NewAudioFrame(0, &stage.AudioChunk{
				PCM:        DecodeULaw(ulaw),
				SampleRate: twilioSampleRate,
				Channels:   1,
			})) {
				t.observer.OnDisconnected("closed")
				return
			}

		case "stop":
			t.deliver(stage.NewControlFrame(stage.ControlEnd))
			t.observer.OnDisconnected("stop")
			return
		}
	}

	t.observer.OnDisconnected(reason)
}

// deliver hands a frame to the consumer without risking a permanent block
// when the session has already torn down. Reports whether the frame was
// accepted.
func (t *TwilioTransport) deliver(frame stage.Frame) bool {
	select {
	case t.frames <- frame:
		return true
	case <-t.done:
		return false
	}
}

// SendAudio compands one chunk of agent audio to μ-law and writes it as a
// media message, paced to the chunk's real-time duration.
func (t *TwilioTransport) SendAudio(ctx context.Context, chunk *stage.AudioChunk) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	streamSid := t.streamSid
	t.mu.Unlock()

	if streamSid == "" {
		return fmt.Errorf("sending before stream start: %w", ErrClosed)
	}

	durMs := int(chunk.Duration().Milliseconds())
	if durMs > 0 {
		if err := t.pacer.WaitN(ctx, durMs); err != nil {
			return err
		}
	}

	msg := twilioMessage{
		Event:     "media",
		StreamSid: streamSid,
		Media:     &twilioMedia{Payload: base64.StdEncoding.EncodeToString(EncodeULaw(chunk.PCM))},
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.conn.WriteJSON(msg)
}

// Close releases the websocket. Safe to call more than once.
func (t *TwilioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	return t.conn.Close()
}

func (t *TwilioTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
