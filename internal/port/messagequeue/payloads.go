package messagequeue

// ProposalCreatedPayload is the schema for proposals.created messages.
type ProposalCreatedPayload struct {
	ProposalID string `json:"proposal_id"`
	ProjectID  string `json:"project_id"`
	Title      string `json:"title"`
	Priority   string `json:"priority"`
}

// ProposalDecidedPayload is the schema for proposals.decided messages.
type ProposalDecidedPayload struct {
	ProposalID string `json:"proposal_id"`
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
	MissionID  string `json:"mission_id,omitempty"`
}

// MissionStatePayload is the schema for missions.state messages.
type MissionStatePayload struct {
	MissionID string `json:"mission_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// StepStatePayload is the schema for steps.state messages.
type StepStatePayload struct {
	StepID    string `json:"step_id"`
	MissionID string `json:"mission_id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	AgentID   string `json:"agent_id,omitempty"`
}

// StepResultPayload is the schema for steps.result messages.
type StepResultPayload struct {
	StepID     string `json:"step_id"`
	MissionID  string `json:"mission_id"`
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// TriggerFiredPayload is the schema for triggers.fired messages.
type TriggerFiredPayload struct {
	TriggerID    string `json:"trigger_id"`
	SourceStepID string `json:"source_step_id"`
	TargetStepID string `json:"target_step_id"`
	MissionID    string `json:"mission_id"`
	ProjectID    string `json:"project_id"`
}

// AgentStatusPayload is the schema for agents.status messages.
type AgentStatusPayload struct {
	AgentID   string `json:"agent_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}
