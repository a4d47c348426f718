package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentloop"

// StartTickSpan starts a span covering one orchestrator pass.
func StartTickSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tick")
}

// StartStepSpan starts a span for one step execution.
func StartStepSpan(ctx context.Context, stepID, missionID, stepType, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("mission.id", missionID),
			attribute.String("step.type", stepType),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartTriggerSpan starts a span for one trigger evaluation pass over a step.
func StartTriggerSpan(ctx context.Context, sourceStepID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "trigger",
		trace.WithAttributes(
			attribute.String("step.id", sourceStepID),
		),
	)
}
