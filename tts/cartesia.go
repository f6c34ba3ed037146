package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AltairaLabs/IntakeKit/metrics/prometheus"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaRESTURL = "/tts/bytes"

	// CartesiaModelSonic is the latest Sonic model for Cartesia TTS.
	CartesiaModelSonic = "sonic-2024-10-01"

	defaultCartesiaTimeout = 30 * time.Second

	// cartesiaDefaultVoice is the default voice ID (Friendly Woman),
	// a warm register suited to a medical intake assistant.
	cartesiaDefaultVoice = "9121c0ae-12a6-4012-8158-6e4a72e6da91"

	serverErrorThreshold = 500
)

// CartesiaService implements TTS using Cartesia's low-latency API.
// Output is raw 16-bit little-endian PCM at the requested sample rate, which
// feeds straight into the telephony transport.
type CartesiaService struct {
	apiKey  string
	baseURL string
	client  *http.Client
	model   string
}

// CartesiaOption configures the Cartesia TTS service.
type CartesiaOption func(*CartesiaService)

// WithCartesiaBaseURL sets a custom base URL.
func WithCartesiaBaseURL(url string) CartesiaOption {
	return func(s *CartesiaService) {
		s.baseURL = url
	}
}

// WithCartesiaClient sets a custom HTTP client.
func WithCartesiaClient(client *http.Client) CartesiaOption {
	return func(s *CartesiaService) {
		s.client = client
	}
}

// WithCartesiaModel sets the TTS model.
func WithCartesiaModel(model string) CartesiaOption {
	return func(s *CartesiaService) {
		s.model = model
	}
}

// NewCartesia creates a Cartesia TTS service.
func NewCartesia(apiKey string, opts ...CartesiaOption) *CartesiaService {
	s := &CartesiaService{
		apiKey:  apiKey,
		baseURL: cartesiaBaseURL,
		client:  &http.Client{Timeout: defaultCartesiaTimeout},
		model:   CartesiaModelSonic,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the provider identifier.
func (s *CartesiaService) Name() string {
	return "cartesia"
}

// cartesiaRequest is the request body for the Cartesia TTS API.
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceConfig  `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoiceConfig struct {
	Mode string `json:"mode"`
	ID   string `json:"id,omitempty"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// Synthesize converts text to raw PCM audio using Cartesia's REST API.
//
//nolint:gocritic // hugeParam: SynthesisConfig passed by value to satisfy Service interface
func (s *CartesiaService) Synthesize(
	ctx context.Context, text string, config SynthesisConfig,
) (io.ReadCloser, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	defer func() {
		prometheus.ObserveProviderRequest(s.Name(), "tts", time.Since(start))
	}()

	voice := config.Voice
	if voice == "" {
		voice = cartesiaDefaultVoice
	}
	model := config.Model
	if model == "" {
		model = s.model
	}
	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}

	reqBody := cartesiaRequest{
		ModelID:    model,
		Transcript: text,
		Voice: cartesiaVoiceConfig{
			Mode: "id",
			ID:   voice,
		},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: sampleRate,
		},
		Language: config.Language,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+cartesiaRESTURL,
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", "2024-06-10")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewSynthesisError("cartesia", "", "request failed", err, true)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, s.handleError(resp)
	}

	return resp.Body, nil
}

// cartesiaErrorResponse represents an error response from Cartesia.
type cartesiaErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleError processes an error response from Cartesia.
func (s *CartesiaService) handleError(resp *http.Response) error {
	var errResp cartesiaErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return NewSynthesisError(
			"cartesia",
			fmt.Sprintf("%d", resp.StatusCode),
			"unknown error",
			err,
			resp.StatusCode >= serverErrorThreshold,
		)
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= serverErrorThreshold

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	}

	message := errResp.Message
	if message == "" {
		message = errResp.Error
	}

	return NewSynthesisError(
		"cartesia",
		errResp.Error,
		message,
		cause,
		retryable,
	)
}
