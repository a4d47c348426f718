// Package event defines the immutable orchestration event log entry.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of orchestration event.
type Type string

const (
	TypeProposalCreated  Type = "proposal.created"
	TypeProposalApproved Type = "proposal.approved"
	TypeProposalRejected Type = "proposal.rejected"
	TypeProposalExpired  Type = "proposal.expired"

	TypeMissionCreated   Type = "mission.created"
	TypeMissionActivated Type = "mission.activated"
	TypeMissionCompleted Type = "mission.completed"
	TypeMissionFailed    Type = "mission.failed"
	TypeMissionCancelled Type = "mission.cancelled"

	TypeStepCreated   Type = "step.created"
	TypeStepClaimed   Type = "step.claimed"
	TypeStepStarted   Type = "step.started"
	TypeStepCompleted Type = "step.completed"
	TypeStepFailed    Type = "step.failed"
	TypeStepRequeued  Type = "step.requeued"
	TypeStepReclaimed Type = "step.reclaimed"
	TypeStepCancelled Type = "step.cancelled"

	TypeTriggerFired Type = "trigger.fired"
)

// Event is a single append-only audit record. The core's obligation ends at
// durable persistence plus best-effort fan-out; consumer delivery state is
// never tracked.
type Event struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Type          Type            `json:"type"`
	SourceAgentID string          `json:"source_agent_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StepPayload is the payload attached to step.* events.
type StepPayload struct {
	StepID     string `json:"step_id"`
	MissionID  string `json:"mission_id"`
	StepType   string `json:"step_type"`
	AgentID    string `json:"agent_id,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MissionPayload is the payload attached to mission.* events.
type MissionPayload struct {
	MissionID  string `json:"mission_id"`
	ProposalID string `json:"proposal_id,omitempty"`
	Title      string `json:"title,omitempty"`
}

// ProposalPayload is the payload attached to proposal.* events.
type ProposalPayload struct {
	ProposalID string `json:"proposal_id"`
	Title      string `json:"title,omitempty"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
}

// TriggerPayload is the payload attached to trigger.fired events.
type TriggerPayload struct {
	TriggerID    string `json:"trigger_id"`
	SourceStepID string `json:"source_step_id"`
	TargetStepID string `json:"target_step_id"`
	MissionID    string `json:"mission_id"`
}

// Marshal encodes a payload struct, falling back to null on error.
// Payload structs contain only plain fields, so failure is not expected.
func Marshal(payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
