package config

import (
	"time"

	"github.com/reviewkit/reviewflow/pkg/reviewflow"
)

// Settings is the well-known configuration layout for an orchestrator
// deployment.
//
// YAML shape:
//
//	engine:
//	  max_iterations: 200
//	  fan_out_concurrency: 4
//	  branch_grace_period: 5s
//	  tracing: true
//	history:
//	  path: ./history.db
//	gate:
//	  limit: 10
//	  window: 1m
type Settings struct {
	MaxIterations     int
	FanOutConcurrency int
	BranchGracePeriod time.Duration
	Tracing           bool

	HistoryPath string

	GateLimit  int
	GateWindow time.Duration
}

// LoadSettings extracts Settings from a Config, applying defaults for
// anything not present.
func LoadSettings(c Config) Settings {
	engine := c.Sub("engine")
	history := c.Sub("history")
	gate := c.Sub("gate")

	return Settings{
		MaxIterations:     engine.Int("max_iterations", 1000),
		FanOutConcurrency: engine.Int("fan_out_concurrency", 0),
		BranchGracePeriod: engine.Duration("branch_grace_period", 5*time.Second),
		Tracing:           engine.Bool("tracing", false),
		HistoryPath:       history.String("path", ""),
		GateLimit:         gate.Int("limit", 0),
		GateWindow:        gate.Duration("window", time.Minute),
	}
}

// RunOptions converts the engine settings into options for Run.
func (s Settings) RunOptions() []reviewflow.RunOption {
	opts := []reviewflow.RunOption{
		reviewflow.WithMaxIterations(s.MaxIterations),
	}
	if s.FanOutConcurrency > 0 {
		opts = append(opts, reviewflow.WithFanOutConcurrency(s.FanOutConcurrency))
	}
	if s.BranchGracePeriod > 0 {
		opts = append(opts, reviewflow.WithBranchGracePeriod(s.BranchGracePeriod))
	}
	if s.Tracing {
		opts = append(opts, reviewflow.WithTracing())
	}
	return opts
}
