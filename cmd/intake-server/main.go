// Command intake-server runs the voice patient-intake service: a TwiML
// webhook plus a websocket media endpoint that runs one intake pipeline per
// call.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/IntakeKit/audio"
	"github.com/AltairaLabs/IntakeKit/config"
	"github.com/AltairaLabs/IntakeKit/intake"
	"github.com/AltairaLabs/IntakeKit/logger"
	"github.com/AltairaLabs/IntakeKit/metrics/prometheus"
	"github.com/AltairaLabs/IntakeKit/providers"
	"github.com/AltairaLabs/IntakeKit/providers/mock"
	"github.com/AltairaLabs/IntakeKit/session"
	"github.com/AltairaLabs/IntakeKit/stt"
	"github.com/AltairaLabs/IntakeKit/transport"
	"github.com/AltairaLabs/IntakeKit/tts"
)

const twimlTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="%s" />
  </Connect>
  <Pause length="40"/>
</Response>
`

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	testMode := flag.Bool("test", false, "run with scripted providers, no external services")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *testMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "intake-server: %v\n", err)
		os.Exit(1)
	}

	srv, err := newServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "intake-server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.run(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string, testMode bool) (*config.Config, error) {
	cfg, err := config.Parse(path)
	if err != nil {
		return nil, err
	}
	if testMode {
		// Applied before validation so a scripted run never demands
		// credentials.
		cfg.TestMode = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// server holds the long-lived collaborators shared across sessions.
type server struct {
	cfg    *config.Config
	sink   intake.Sink
	stt    stt.Service
	tts    tts.Service
	assets *audio.AssetTable

	upgrader websocket.Upgrader
}

func newServer(cfg *config.Config) (*server, error) {
	s := &server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var opts []intake.RedisSinkOption
		if cfg.Redis.TTL.Std() > 0 {
			opts = append(opts, intake.WithTTL(cfg.Redis.TTL.Std()))
		}
		s.sink = intake.NewRedisSink(client, opts...)
		logger.Info("using redis sink", "addr", cfg.Redis.Addr)
	} else {
		s.sink = intake.NewMemorySink()
		logger.Info("using in-memory sink")
	}

	if cfg.TestMode {
		s.stt = scriptedSTT{}
		s.tts = silenceTTS{}
	} else {
		s.stt = stt.NewOpenAI(cfg.Providers.OpenAI.APIKey)
		var ttsOpts []tts.CartesiaOption
		if cfg.Providers.Cartesia.Model != "" {
			ttsOpts = append(ttsOpts, tts.WithCartesiaModel(cfg.Providers.Cartesia.Model))
		}
		s.tts = tts.NewCartesia(cfg.Providers.Cartesia.APIKey, ttsOpts...)
	}

	if cfg.Audio.SoundsDir != "" {
		assets, err := audio.LoadAssets(cfg.Audio.SoundsDir)
		if err != nil {
			return nil, fmt.Errorf("loading sound assets: %w", err)
		}
		s.assets = assets
		logger.Info("sound assets loaded", "count", assets.Len())
	}

	return s, nil
}

func (s *server) run(ctx context.Context) error {
	var exporter *prometheus.Exporter
	if s.cfg.Metrics.Addr != "" {
		exporter = prometheus.NewExporter(s.cfg.Metrics.Addr)
		exporter.Start()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)
	mux.HandleFunc("/ws", s.handleMediaStream)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("intake server listening",
			"addr", s.cfg.Server.Addr,
			"stream_url", s.cfg.Server.StreamURL,
			"test_mode", s.cfg.TestMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if exporter != nil {
		_ = exporter.Stop(shutdownCtx)
	}
	return httpServer.Shutdown(shutdownCtx)
}

// handleWebhook answers Twilio's voice webhook with TwiML that connects the
// call to the media stream endpoint.
func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, twimlTemplate, s.cfg.Server.StreamURL)
}

// handleMediaStream upgrades the websocket and runs one session for the life
// of the call.
func (s *server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sess, err := session.New(session.Deps{
		Provider:           s.newChatProvider(),
		STT:                s.stt,
		TTS:                s.tts,
		Sink:               s.sink,
		Assets:             s.assets,
		ConnectSound:       s.cfg.Audio.ConnectSound,
		Transcription:      stt.DefaultTranscriptionConfig(),
		Synthesis:          s.synthesisConfig(),
		RecordingDir:       s.cfg.Recording.Dir,
		ReferenceDate:      s.cfg.Intake.ReferenceDate,
		OpeningInstruction: s.cfg.Intake.OpeningInstruction,
	})
	if err != nil {
		logger.Error("session setup failed", "error", err)
		conn.Close()
		return
	}

	tp := transport.NewTwilio(conn, sess)
	defer tp.Close()

	logger.Info("call accepted", "session_id", sess.ID(), "remote", r.RemoteAddr)
	if err := sess.Run(r.Context(), tp); err != nil {
		logger.Error("session failed", "session_id", sess.ID(), "error", err)
	}
}

// newChatProvider returns a fresh chat provider per session so scripted
// mocks never share request logs across calls.
func (s *server) newChatProvider() providers.Provider {
	if s.cfg.TestMode {
		return mock.New("mock")
	}
	return providers.NewOpenAIProvider(
		"openai",
		s.cfg.Providers.OpenAI.Model,
		s.cfg.Providers.OpenAI.BaseURL,
		providers.ProviderDefaults{},
	).WithAPIKey(s.cfg.Providers.OpenAI.APIKey)
}

func (s *server) synthesisConfig() tts.SynthesisConfig {
	cfg := tts.DefaultSynthesisConfig()
	if s.cfg.Providers.Cartesia.Voice != "" {
		cfg.Voice = s.cfg.Providers.Cartesia.Voice
	}
	return cfg
}

// scriptedSTT stands in for Whisper in test mode: every utterance becomes a
// fixed transcript so the dialogue loop can be exercised end to end without
// credentials.
type scriptedSTT struct{}

func (scriptedSTT) Name() string { return "scripted" }

func (scriptedSTT) Transcribe(_ context.Context, audio []byte, _ stt.TranscriptionConfig) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}
	return "test utterance", nil
}

// silenceTTS stands in for Cartesia in test mode: replies become silence of
// a length proportional to the text, preserving the timing shape of a call.
type silenceTTS struct{}

func (silenceTTS) Name() string { return "silence" }

func (silenceTTS) Synthesize(_ context.Context, text string, cfg tts.SynthesisConfig) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = tts.DefaultSampleRate
	}
	// ~60ms of silence per character, a rough speaking pace.
	samples := len(text) * rate * 60 / 1000
	return io.NopCloser(bytes.NewReader(make([]byte, samples*2))), nil
}
