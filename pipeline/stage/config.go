package stage

import (
	"time"
)

const (
	// DefaultChannelBufferSize is the default buffer size for channels between stages.
	DefaultChannelBufferSize = 16
	// DefaultGracefulShutdownTimeoutSeconds is the default graceful shutdown timeout in seconds.
	DefaultGracefulShutdownTimeoutSeconds = 10
)

// PipelineConfig defines configuration options for pipeline execution.
type PipelineConfig struct {
	// ChannelBufferSize controls buffering between stages.
	// Smaller values = lower latency but more backpressure.
	// Larger values = higher throughput but more memory usage.
	// Default: 16
	ChannelBufferSize int

	// GracefulShutdownTimeout sets the maximum time to wait for in-flight executions during shutdown.
	// Default: 10 seconds
	GracefulShutdownTimeout time.Duration

	// EnableMetrics enables collection of per-stage Prometheus metrics.
	// Default: false
	EnableMetrics bool
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		ChannelBufferSize:       DefaultChannelBufferSize,
		GracefulShutdownTimeout: DefaultGracefulShutdownTimeoutSeconds * time.Second,
		EnableMetrics:           false,
	}
}

// Validate checks if the configuration is valid.
func (c *PipelineConfig) Validate() error {
	if c.ChannelBufferSize < 0 {
		return ErrInvalidChannelBufferSize
	}
	if c.GracefulShutdownTimeout < 0 {
		return ErrInvalidShutdownTimeout
	}
	return nil
}

// WithChannelBufferSize sets the channel buffer size.
func (c *PipelineConfig) WithChannelBufferSize(size int) *PipelineConfig {
	c.ChannelBufferSize = size
	return c
}

// WithGracefulShutdownTimeout sets the graceful shutdown timeout.
func (c *PipelineConfig) WithGracefulShutdownTimeout(timeout time.Duration) *PipelineConfig {
	c.GracefulShutdownTimeout = timeout
	return c
}

// WithMetrics enables or disables metrics collection.
func (c *PipelineConfig) WithMetrics(enabled bool) *PipelineConfig {
	c.EnableMetrics = enabled
	return c
}
