package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest installs a tracer provider with an in-memory span
// recorder and returns a cleanup that restores the global provider.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	// Rebind the package-level tracer to the test provider.
	tracer = otel.Tracer("reviewflow")

	cleanup := func() {
		otel.SetTracerProvider(original)
		tracer = otel.Tracer("reviewflow")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("error shutting down tracer provider: %v", err)
		}
	}
	return exporter, cleanup
}

func TestStartRunSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx := context.Background()
	_, span := sm.StartRunSpan(ctx, "review", "run-123")
	require.NotNil(t, span)

	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "reviewflow.run", s.Name)

	var graphName, runID string
	for _, attr := range s.Attributes {
		switch attr.Key {
		case "graph.name":
			graphName = attr.Value.AsString()
		case "run.id":
			runID = attr.Value.AsString()
		}
	}
	assert.Equal(t, "review", graphName)
	assert.Equal(t, "run-123", runID)
}

func TestStartNodeSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("creates span with node name suffix", func(t *testing.T) {
		_, span := sm.StartNodeSpan(context.Background(), "scan")
		require.NotNil(t, span)

		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "reviewflow.node.scan", spans[0].Name)

		var nodeID string
		for _, attr := range spans[0].Attributes {
			if attr.Key == "node.id" {
				nodeID = attr.Value.AsString()
			}
		}
		assert.Equal(t, "scan", nodeID)
	})

	t.Run("node spans are children of the run span", func(t *testing.T) {
		exporter.Reset()

		ctx := context.Background()
		ctx, runSpan := sm.StartRunSpan(ctx, "review", "run-1")

		_, nodeSpan := sm.StartNodeSpan(ctx, "fix")
		nodeSpan.End()
		runSpan.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)

		var nodeStub *tracetest.SpanStub
		for i := range spans {
			if spans[i].Name == "reviewflow.node.fix" {
				nodeStub = &spans[i]
				break
			}
		}
		require.NotNil(t, nodeStub)
		assert.True(t, nodeStub.Parent.IsValid())
	})
}

func TestStartBranchSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	_, span := sm.StartBranchSpan(context.Background(), "fix", "lint")
	require.NotNil(t, span)

	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "reviewflow.branch.lint", spans[0].Name)

	var fanNode, branch string
	for _, attr := range spans[0].Attributes {
		switch attr.Key {
		case "fan.node":
			fanNode = attr.Value.AsString()
		case "branch":
			branch = attr.Value.AsString()
		}
	}
	assert.Equal(t, "fix", fanNode)
	assert.Equal(t, "lint", branch)
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("sets OK status for nil error", func(t *testing.T) {
		_, span := sm.StartRunSpan(context.Background(), "review", "run-1")

		sm.EndSpanWithError(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
		assert.Equal(t, "", spans[0].Status.Description)
	})

	t.Run("sets Error status and records error", func(t *testing.T) {
		exporter.Reset()

		_, span := sm.StartRunSpan(context.Background(), "review", "run-2")
		sm.EndSpanWithError(span, errors.New("something went wrong"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		s := spans[0]
		assert.Equal(t, codes.Error, s.Status.Code)
		assert.Equal(t, "something went wrong", s.Status.Description)

		require.NotEmpty(t, s.Events)
		found := false
		for _, event := range s.Events {
			if event.Name == "exception" {
				found = true
			}
		}
		assert.True(t, found, "Expected exception event")
	})

	t.Run("nil span does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(nil, nil)
			sm.EndSpanWithError(nil, errors.New("x"))
		})
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("adds event to current span", func(t *testing.T) {
		ctx := context.Background()
		ctx, span := sm.StartRunSpan(ctx, "review", "run-1")

		sm.AddSpanEvent(ctx, "findings_parsed",
			attribute.String("node_id", "scan"),
			attribute.Int64("count", 3),
		)
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		require.NotEmpty(t, spans[0].Events)

		found := false
		for _, event := range spans[0].Events {
			if event.Name == "findings_parsed" {
				found = true
				var nodeID string
				var count int64
				for _, attr := range event.Attributes {
					switch attr.Key {
					case "node_id":
						nodeID = attr.Value.AsString()
					case "count":
						count = attr.Value.AsInt64()
					}
				}
				assert.Equal(t, "scan", nodeID)
				assert.Equal(t, int64(3), count)
			}
		}
		assert.True(t, found, "Expected to find findings_parsed event")
	})

	t.Run("no panic with no current span", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.AddSpanEvent(context.Background(), "orphan_event")
		})
	})
}
