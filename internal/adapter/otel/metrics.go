package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentloop"

// Metrics holds all engine metric instruments.
type Metrics struct {
	TicksTotal       metric.Int64Counter
	TickDuration     metric.Float64Histogram
	StepsDispatched  metric.Int64Counter
	StepsCompleted   metric.Int64Counter
	StepsFailed      metric.Int64Counter
	StepsReclaimed   metric.Int64Counter
	ClaimsLost       metric.Int64Counter
	TriggersFired    metric.Int64Counter
	ProposalsDecided metric.Int64Counter
	StepDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TicksTotal, err = meter.Int64Counter("agentloop.ticks",
		metric.WithDescription("Number of orchestrator passes"))
	if err != nil {
		return nil, err
	}

	m.TickDuration, err = meter.Float64Histogram("agentloop.tick.duration_seconds",
		metric.WithDescription("Orchestrator pass duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.StepsDispatched, err = meter.Int64Counter("agentloop.steps.dispatched",
		metric.WithDescription("Number of steps dispatched to agents"))
	if err != nil {
		return nil, err
	}

	m.StepsCompleted, err = meter.Int64Counter("agentloop.steps.completed",
		metric.WithDescription("Number of steps completed"))
	if err != nil {
		return nil, err
	}

	m.StepsFailed, err = meter.Int64Counter("agentloop.steps.failed",
		metric.WithDescription("Number of steps failed terminally"))
	if err != nil {
		return nil, err
	}

	m.StepsReclaimed, err = meter.Int64Counter("agentloop.steps.reclaimed",
		metric.WithDescription("Number of stale claims recovered"))
	if err != nil {
		return nil, err
	}

	m.ClaimsLost, err = meter.Int64Counter("agentloop.claims.lost",
		metric.WithDescription("Number of claim attempts that lost the race"))
	if err != nil {
		return nil, err
	}

	m.TriggersFired, err = meter.Int64Counter("agentloop.triggers.fired",
		metric.WithDescription("Number of trigger firings"))
	if err != nil {
		return nil, err
	}

	m.ProposalsDecided, err = meter.Int64Counter("agentloop.proposals.decided",
		metric.WithDescription("Number of proposals approved, rejected or expired"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("agentloop.step.duration_seconds",
		metric.WithDescription("Step execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
