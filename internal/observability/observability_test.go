package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordCommand(ctx, "request_baseline", "ok")
		m.RecordActivity(ctx, "Baseline requested")
	})

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordCommand(ctx, "close_workflow", "refused")
	})
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "workflow.command", attribute.Int64("workflow_id", 3))
	defer span.End()
	assert.NotNil(t, ctx)
}
