package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "spendpilot"

// StartDecisionSpan starts a span for one orchestration run.
func StartDecisionSpan(ctx context.Context, requestID, tenantID, requestType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("tenant.id", tenantID),
			attribute.String("request.type", requestType),
		),
	)
}

// StartStepSpan starts a span for one workflow step.
func StartStepSpan(ctx context.Context, workflowID, step, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("step.name", step),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartBatchSpan starts a span for a batch of orchestration runs.
func StartBatchSpan(ctx context.Context, size, chunkSize int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "batch",
		trace.WithAttributes(
			attribute.Int("batch.size", size),
			attribute.Int("batch.chunk_size", chunkSize),
		),
	)
}
