// Package prometheus provides Prometheus metrics exporters for IntakeKit pipelines.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intakekit"

var (
	// stageDuration is a histogram of stage processing duration in seconds.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Histogram of stage processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "stage_type"},
	)

	// stageFramesTotal is a counter of frames processed by stage.
	stageFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_frames_total",
			Help:      "Total number of frames processed by stage",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	// pipelinesActive is a gauge of currently active pipelines.
	pipelinesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_active",
			Help:      "Number of currently active pipelines",
		},
	)

	// pipelineDuration is a histogram of total pipeline execution duration.
	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Histogram of total pipeline execution duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"}, // status: success, error
	)

	// sessionsTotal is a counter of voice sessions by outcome.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of voice sessions by outcome",
		},
		[]string{"outcome"}, // outcome: completed, cancelled, error
	)

	// stateTransitionsTotal is a counter of dialogue state transitions.
	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of dialogue state machine transitions",
		},
		[]string{"from", "to"},
	)

	// providerRequestDuration is a histogram of external service call duration.
	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of external service calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "kind"}, // kind: stt, tts, llm
	)
)

func init() {
	prometheus.MustRegister(
		stageDuration,
		stageFramesTotal,
		pipelinesActive,
		pipelineDuration,
		sessionsTotal,
		stateTransitionsTotal,
		providerRequestDuration,
	)
}

// PipelineStarted records the start of a pipeline execution.
func PipelineStarted() {
	pipelinesActive.Inc()
}

// PipelineCompleted records the end of a pipeline execution.
func PipelineCompleted(success bool, duration time.Duration) {
	pipelinesActive.Dec()
	status := "success"
	if !success {
		status = "error"
	}
	pipelineDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// StageCompleted records a completed stage run.
func StageCompleted(stage, stageType string, success bool, duration time.Duration) {
	stageDuration.WithLabelValues(stage, stageType).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	stageFramesTotal.WithLabelValues(stage, status).Inc()
}

// FrameProcessed records one processed frame for a stage.
func FrameProcessed(stage string) {
	stageFramesTotal.WithLabelValues(stage, "success").Inc()
}

// SessionEnded records a finished session with its outcome.
func SessionEnded(outcome string) {
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// StateTransition records a dialogue state machine transition.
func StateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveProviderRequest records the duration of one external service call.
func ObserveProviderRequest(provider, kind string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}
