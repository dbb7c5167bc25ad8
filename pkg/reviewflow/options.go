package reviewflow

import (
	"time"

	"github.com/reviewkit/reviewflow/pkg/reviewflow/observability"
)

// runConfig holds configuration for one graph execution.
type runConfig struct {
	maxIterations     int
	fanOutConcurrency int
	branchGrace       time.Duration

	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 1000,
		branchGrace:   5 * time.Second,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations caps the number of node executions per chain.
// Default: 1000. Guards against runaway loops; exceeding the cap fails
// the run with ErrMaxIterations.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithFanOutConcurrency limits how many fan-out branches run at once.
// Default 0 means all selected branches start immediately.
func WithFanOutConcurrency(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.fanOutConcurrency = n
		}
	}
}

// WithBranchGracePeriod sets how long the join waits for in-flight
// branches to stop after the run is cancelled. Branches that cannot stop
// in time are treated as failed for join purposes, so the run fails
// instead of hanging. Default: 5s.
func WithBranchGracePeriod(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d > 0 {
			c.branchGrace = d
		}
	}
}

// WithMetrics enables metrics recording for this run.
// Use observability.NewMetricsRecorder() for OpenTelemetry metrics.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry span creation for the run and each
// node. Configure the global tracer provider before use.
func WithTracing() RunOption {
	return func(c *runConfig) {
		c.spans = observability.NewSpanManager()
		c.tracingEnabled = true
	}
}
