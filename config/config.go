// Package config loads and validates server configuration from YAML with
// environment overrides for credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Validation sentinel errors.
var (
	ErrMissingServerAddr  = errors.New("server.addr is required")
	ErrMissingStreamURL   = errors.New("server.stream_url is required")
	ErrMissingOpenAIKey   = errors.New("providers.openai.api_key is required (or OPENAI_API_KEY)")
	ErrMissingCartesiaKey = errors.New("providers.cartesia.api_key is required (or CARTESIA_API_KEY)")
	ErrInvalidRedisTTL    = errors.New("redis.ttl must not be negative")
)

// Duration is a time.Duration that unmarshals from YAML strings like "48h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %s", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full intake-server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Intake    IntakeConfig    `yaml:"intake"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// TestMode swaps the OpenAI chat provider for the scripted mock so the
	// full audio path can be exercised without LLM credentials.
	TestMode bool `yaml:"test_mode"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8765".
	Addr string `yaml:"addr"`
	// StreamURL is the public wss:// URL of the media endpoint, advertised
	// in the TwiML webhook response.
	StreamURL string `yaml:"stream_url"`
}

// ProvidersConfig holds external service credentials and model choices.
type ProvidersConfig struct {
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Cartesia CartesiaConfig `yaml:"cartesia"`
}

// OpenAIConfig configures chat generation and Whisper transcription.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// CartesiaConfig configures speech synthesis.
type CartesiaConfig struct {
	APIKey string `yaml:"api_key"`
	Voice  string `yaml:"voice"`
	Model  string `yaml:"model"`
}

// IntakeConfig overrides the dialogue defaults.
type IntakeConfig struct {
	// ReferenceDate is the birth date identity answers are checked against,
	// in YYYY-MM-DD form. Empty uses the built-in default.
	ReferenceDate string `yaml:"reference_date"`
	// OpeningInstruction replaces the default persona/system prompt.
	OpeningInstruction string `yaml:"opening_instruction"`
}

// AudioConfig configures preloaded feedback sounds.
type AudioConfig struct {
	// SoundsDir is a directory of WAV assets loaded once at startup.
	SoundsDir string `yaml:"sounds_dir"`
	// ConnectSound names the asset played when a caller connects.
	ConnectSound string `yaml:"connect_sound"`
}

// RecordingConfig configures agent-audio capture.
type RecordingConfig struct {
	// Dir is where session WAV files are flushed. Empty disables recording.
	Dir string `yaml:"dir"`
}

// RedisConfig configures the intake record sink.
// An empty Addr selects the in-memory sink.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// MetricsConfig configures the Prometheus exporter.
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8765",
			StreamURL: "ws://localhost:8765/ws",
		},
	}
}

// Parse reads a YAML config file and applies environment overrides without
// validating. An empty path yields the defaults plus environment. Callers
// that adjust the result (e.g. forcing test mode) validate afterwards.
func Parse(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Load parses and validates a config file.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays credentials and endpoints from the environment.
// Environment values win over the file so deployments never need secrets
// on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("CARTESIA_API_KEY"); v != "" {
		c.Providers.Cartesia.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

// Validate checks the configuration for a runnable server.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrMissingServerAddr
	}
	if c.Server.StreamURL == "" {
		return ErrMissingStreamURL
	}
	if c.Redis.TTL < 0 {
		return ErrInvalidRedisTTL
	}

	// Whisper and chat generation share the OpenAI key; test mode mocks the
	// chat provider but still needs no credentials at all, since STT and TTS
	// are replaced alongside it.
	if !c.TestMode {
		if c.Providers.OpenAI.APIKey == "" {
			return ErrMissingOpenAIKey
		}
		if c.Providers.Cartesia.APIKey == "" {
			return ErrMissingCartesiaKey
		}
	}

	return nil
}
