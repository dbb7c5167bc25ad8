// Package observability provides structured logging, metrics, and tracing
// for reviewflow executions.
//
// Logging uses slog. Metrics and tracing use OpenTelemetry and are opt-in;
// no-op implementations are used when disabled.
package observability

import (
	"log/slog"
	"time"
)

// LogRunStart logs the start of a graph run.
func LogRunStart(logger *slog.Logger, runID string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("run_id", runID),
	)
}

// LogRunComplete logs successful graph run completion. The run may still
// carry a business failure in its state; this only means the engine
// reached the terminal marker.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int, cost float64) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
		slog.Float64("cost", cost),
	)
}

// LogRunError logs an engine-level run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs a node-level business failure. The run continues;
// routing decides what happens next.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node reported failure",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogNodeSkipped logs a success-only node being routed around because the
// state already carries a failure.
func LogNodeSkipped(logger *slog.Logger, nodeID, failedStep string) {
	if logger == nil {
		return
	}
	logger.Debug("node skipped on error state",
		slog.String("node_id", nodeID),
		slog.String("failed_step", failedStep),
	)
}

// LogFanOutStart logs the start of parallel branch execution.
func LogFanOutStart(logger *slog.Logger, fanNode, joinNode string, branches []string) {
	if logger == nil {
		return
	}
	logger.Debug("fan-out starting",
		slog.String("fan_node", fanNode),
		slog.String("join_node", joinNode),
		slog.Any("branches", branches),
	)
}

// LogFanOutComplete logs all branches joined.
func LogFanOutComplete(logger *slog.Logger, fanNode, joinNode string, branches int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("fan-out joined",
		slog.String("fan_node", fanNode),
		slog.String("join_node", joinNode),
		slog.Int("branches", branches),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBranchAbandoned logs a branch that failed to stop within the grace
// period after cancellation.
func LogBranchAbandoned(logger *slog.Logger, fanNode, branch string, grace time.Duration) {
	if logger == nil {
		return
	}
	logger.Error("branch did not stop within grace period",
		slog.String("fan_node", fanNode),
		slog.String("branch", branch),
		slog.Duration("grace", grace),
	)
}
