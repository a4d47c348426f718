// Package database defines the port interface for the persistence layer.
//
// All state transitions that the engine relies on for correctness are
// expressed here as single atomic operations. Adapters must implement each
// transition as one transaction so that no caller can ever observe a step,
// mission, or proposal changing state without the matching event row.
package database

import (
	"context"
	"time"

	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/project"
	"github.com/agentloop/agentloop/internal/domain/proposal"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/domain/trigger"
)

// StepFilter narrows step listings.
type StepFilter struct {
	MissionID string
	Status    step.Status
	Type      string
	ClaimedBy string
}

// ProposalFilter narrows proposal listings.
type ProposalFilter struct {
	ProjectID string
	Status    proposal.Status
}

// MissionFilter narrows mission listings.
type MissionFilter struct {
	ProjectID string
	Status    mission.Status
}

// ReclaimOutcome reports what a stale-claim sweep did.
type ReclaimOutcome struct {
	Requeued []step.Step
	Failed   []step.Step
}

// StatusCounts is an aggregate snapshot used by the dashboard overview.
type StatusCounts struct {
	Projects         int            `json:"projects"`
	Agents           int            `json:"agents"`
	AvailableAgents  int            `json:"available_agents"`
	PendingProposals int            `json:"pending_proposals"`
	ActiveMissions   int            `json:"active_missions"`
	StepsByStatus    map[string]int `json:"steps_by_status"`
	StaleClaims      int            `json:"stale_claims"`

	// StuckMissions counts active missions with no live steps and nothing
	// completed; they need operator attention.
	StuckMissions int `json:"stuck_missions"`
}

// Store is the port interface for the persistence layer.
type Store interface {
	// Projects.
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*project.Project, error)
	CreateProject(ctx context.Context, p *project.Project) error
	UpdateProject(ctx context.Context, p *project.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Agents.
	ListAgents(ctx context.Context, projectID string) ([]agent.Agent, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	CreateAgent(ctx context.Context, a *agent.Agent) error
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error
	TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error
	DeleteAgent(ctx context.Context, id string) error

	// LeastRecentlyDispatchedAgent returns the active agent for the project
	// and role whose last dispatch is oldest (never-dispatched agents first).
	// Agents that currently hold a claimed or running step are excluded.
	// Returns domain.ErrNotFound when no agent qualifies.
	LeastRecentlyDispatchedAgent(ctx context.Context, projectID string, role agent.Role) (*agent.Agent, error)

	// Proposals.
	ListProposals(ctx context.Context, f ProposalFilter) ([]proposal.Proposal, error)
	GetProposal(ctx context.Context, id string) (*proposal.Proposal, error)
	CreateProposal(ctx context.Context, p *proposal.Proposal) error

	// ApproveProposal transitions a pending proposal to approved, creates the
	// mission and its initial steps, and appends the corresponding events, all
	// in one transaction. Returns domain.ErrConflict when the proposal is not
	// pending.
	ApproveProposal(ctx context.Context, id, reviewedBy string, steps []step.CreateRequest) (*mission.Mission, error)

	// RejectProposal transitions a pending proposal to rejected. Returns
	// domain.ErrConflict when the proposal is not pending.
	RejectProposal(ctx context.Context, id, reviewedBy string) error

	// ExpireProposals marks pending proposals created before the cutoff as
	// expired and returns them.
	ExpireProposals(ctx context.Context, cutoff time.Time) ([]proposal.Proposal, error)

	// Missions.
	ListMissions(ctx context.Context, f MissionFilter) ([]mission.Mission, error)
	ListActiveMissions(ctx context.Context) ([]mission.Mission, error)
	GetMission(ctx context.Context, id string) (*mission.Mission, error)

	// CreateMission creates a mission directly, without a proposal, together
	// with its initial steps in one transaction.
	CreateMission(ctx context.Context, m *mission.Mission, steps []step.CreateRequest) error

	// CompleteMission transitions an active mission to completed. No-op
	// returning domain.ErrConflict if the mission is already terminal.
	CompleteMission(ctx context.Context, id string) error

	// FailMission transitions an active mission to failed.
	FailMission(ctx context.Context, id string) error

	// CancelMission cancels a non-terminal mission and all of its non-terminal
	// steps in one transaction.
	CancelMission(ctx context.Context, id string) error

	// Steps.
	ListSteps(ctx context.Context, f StepFilter) ([]step.Step, error)
	GetStep(ctx context.Context, id string) (*step.Step, error)
	CreateStep(ctx context.Context, s *step.Step) error

	// ListDispatchableSteps returns pending steps whose mission is planned or
	// active, ordered by mission creation then order index, capped at limit.
	ListDispatchableSteps(ctx context.Context, limit int) ([]step.Step, error)

	// ClaimStep attempts the atomic claim: the step moves from pending to
	// claimed with the given agent and token if and only if it is still
	// pending, its mission is not terminal, and the agent is active and holds
	// no other claimed or running step. The check and the write are one
	// statement; on success the mission is activated if still planned and the
	// agent's last dispatch time is updated. ClaimLost is not an error.
	ClaimStep(ctx context.Context, stepID, agentID, token string) (step.ClaimResult, error)

	// StartStep moves a claimed step to running. The token must match the one
	// issued at claim time; a stale token yields domain.ErrConflict.
	StartStep(ctx context.Context, stepID, token string) error

	// CompleteStep moves a claimed or running step to completed and records
	// the result. Token-guarded like StartStep.
	CompleteStep(ctx context.Context, stepID, token, result string) error

	// FailStep records a failure. If retries remain the step returns to
	// pending with retry_count incremented and the claim cleared, and requeued
	// is true; otherwise the step is failed terminally. Token-guarded.
	FailStep(ctx context.Context, stepID, token, errMsg string) (requeued bool, err error)

	// ReleaseStep returns a claimed step to pending without consuming a
	// retry. Token-guarded.
	ReleaseStep(ctx context.Context, stepID, token string) error

	// CancelStep cancels a non-terminal step.
	CancelStep(ctx context.Context, stepID string) error

	// ReclaimStaleSteps sweeps claimed and running steps whose claim is older
	// than the step's timeout as of now: steps with retries remaining return
	// to pending, the rest are failed.
	ReclaimStaleSteps(ctx context.Context, now time.Time) (*ReclaimOutcome, error)

	// Triggers.
	ListTriggers(ctx context.Context, projectID string) ([]trigger.Trigger, error)
	ListEnabledTriggers(ctx context.Context, projectID string) ([]trigger.Trigger, error)
	GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error)
	CreateTrigger(ctx context.Context, t *trigger.Trigger) error
	UpdateTrigger(ctx context.Context, t *trigger.Trigger) error
	SetTriggerEnabled(ctx context.Context, id string, enabled bool) error
	DeleteTrigger(ctx context.Context, id string) error

	// CreateStepFromTrigger fires a trigger against a source step: it records
	// the (step, trigger) firing, appends the target step to the source's
	// mission, and stamps the trigger's last fired time, all in one
	// transaction. If this trigger already fired for this step the call is a
	// no-op and returns (nil, nil).
	CreateStepFromTrigger(ctx context.Context, t *trigger.Trigger, source *step.Step, target step.CreateRequest) (*step.Step, error)

	// Maintenance.
	TrimEvents(ctx context.Context, cutoff time.Time) (int64, error)
	CountsByStatus(ctx context.Context, staleCutoff time.Time) (*StatusCounts, error)

	Ping(ctx context.Context) error
	Close()
}
