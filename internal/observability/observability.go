// Package observability holds the OpenTelemetry instruments shared by the
// command service and the HTTP layer. Without a configured SDK the global
// providers are no-ops.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "workflowup/backend"

// Metrics records command outcomes.
type Metrics struct {
	commands metric.Int64Counter
	activity metric.Int64Counter
}

// NewMetrics registers the command instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	commands, err := meter.Int64Counter("workflowup.commands",
		metric.WithDescription("Workflow commands by name and outcome"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("create commands counter: %w", err)
	}
	activity, err := meter.Int64Counter("workflowup.activities",
		metric.WithDescription("Activities appended to workflow logs"),
		metric.WithUnit("{activity}"))
	if err != nil {
		return nil, fmt.Errorf("create activities counter: %w", err)
	}
	return &Metrics{commands: commands, activity: activity}, nil
}

// RecordCommand counts one command execution. A nil receiver is a no-op.
func (m *Metrics) RecordCommand(ctx context.Context, command, outcome string) {
	if m == nil {
		return
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	))
}

// RecordActivity counts one appended activity.
func (m *Metrics) RecordActivity(ctx context.Context, label string) {
	if m == nil {
		return
	}
	m.activity.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}
