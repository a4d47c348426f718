package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventStepStatus     = "step.status"
	EventMissionStatus  = "mission.status"
	EventProposalStatus = "proposal.status"
	EventTriggerFired   = "trigger.fired"
	EventTick           = "engine.tick"
)

// StepStatusEvent is broadcast when a step changes state.
type StepStatusEvent struct {
	StepID    string `json:"step_id"`
	MissionID string `json:"mission_id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"step_type"`
	Status    string `json:"status"`
	AgentID   string `json:"agent_id,omitempty"`
}

// MissionStatusEvent is broadcast when a mission changes state.
type MissionStatusEvent struct {
	MissionID string `json:"mission_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// ProposalStatusEvent is broadcast when a proposal is filed or decided.
type ProposalStatusEvent struct {
	ProposalID string `json:"proposal_id"`
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
}

// TriggerFiredEvent is broadcast when a trigger creates a follow-on step.
type TriggerFiredEvent struct {
	TriggerID    string `json:"trigger_id"`
	SourceStepID string `json:"source_step_id"`
	TargetStepID string `json:"target_step_id"`
	MissionID    string `json:"mission_id"`
}

// TickEvent summarizes one orchestrator pass for the dashboard.
type TickEvent struct {
	AutoApproved int `json:"auto_approved"`
	Reclaimed    int `json:"reclaimed"`
	Dispatched   int `json:"dispatched"`
	Fired        int `json:"triggers_fired"`
	Completed    int `json:"missions_completed"`
	Failed       int `json:"missions_failed"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
