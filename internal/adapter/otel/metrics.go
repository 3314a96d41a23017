package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "spendpilot"

// Metrics holds all SpendPilot metric instruments.
// All record methods are safe on a nil *Metrics.
type Metrics struct {
	Decisions        metric.Int64Counter
	StepTimeouts     metric.Int64Counter
	PaymentsExecuted metric.Int64Counter
	DecisionDuration metric.Float64Histogram
	DecisionScore    metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Decisions, err = meter.Int64Counter("spendpilot.decisions",
		metric.WithDescription("Number of orchestration runs by final decision"))
	if err != nil {
		return nil, err
	}

	m.StepTimeouts, err = meter.Int64Counter("spendpilot.step.timeouts",
		metric.WithDescription("Number of workflow steps that timed out"))
	if err != nil {
		return nil, err
	}

	m.PaymentsExecuted, err = meter.Int64Counter("spendpilot.payments.executed",
		metric.WithDescription("Number of payments executed by orchestration runs"))
	if err != nil {
		return nil, err
	}

	m.DecisionDuration, err = meter.Float64Histogram("spendpilot.decision.duration_seconds",
		metric.WithDescription("Orchestration run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.DecisionScore, err = meter.Float64Histogram("spendpilot.decision.confidence",
		metric.WithDescription("Aggregated confidence of orchestration runs"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDecision records one finished orchestration run.
func (m *Metrics) RecordDecision(ctx context.Context, workflowID, decision string, confidence float64, d time.Duration, paid bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("decision", decision),
	)
	m.Decisions.Add(ctx, 1, attrs)
	m.DecisionDuration.Record(ctx, d.Seconds(), attrs)
	m.DecisionScore.Record(ctx, confidence, attrs)
	if paid {
		m.PaymentsExecuted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.id", workflowID)))
	}
}

// RecordStepTimeout records a step that did not answer in time.
func (m *Metrics) RecordStepTimeout(ctx context.Context, agentID string) {
	if m == nil {
		return
	}
	m.StepTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.id", agentID)))
}
