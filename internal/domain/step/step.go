// Package step defines the Step domain entity and the claim protocol types.
package step

import (
	"fmt"
	"time"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/agent"
)

// Status represents the current state of a step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Well-known step types. The column is free-form; these are the types the
// default work breakdown and the bundled triggers use.
const (
	TypeResearch  = "research"
	TypeImplement = "implement"
	TypeTest      = "test"
	TypeReview    = "review"
	TypeDeploy    = "deploy"
	TypeSecurity  = "security"
)

// Step is an atomic, independently claimable unit of execution within a
// mission. The claim token guards every transition out of claimed/running
// against stale claimants and is cleared once the step settles; ClaimedBy
// outlives it on completed and failed steps so the work stays attributed to
// its agent.
type Step struct {
	ID             string     `json:"id"`
	MissionID      string     `json:"mission_id"`
	Type           string     `json:"step_type"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         Status     `json:"status"`
	OrderIndex     int        `json:"order_index"`
	ClaimedBy      string     `json:"claimed_by_agent_id,omitempty"`
	ClaimToken     string     `json:"-"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the step can no longer change state.
func (s *Step) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CreateRequest holds the fields needed to add a step to a mission.
type CreateRequest struct {
	MissionID      string `json:"mission_id"`
	Type           string `json:"step_type"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	OrderIndex     int    `json:"order_index"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MaxRetries     int    `json:"max_retries,omitempty"`
}

// Validate checks the request against step invariants.
func (r *CreateRequest) Validate() error {
	if r.MissionID == "" {
		return fmt.Errorf("mission_id is required: %w", domain.ErrValidation)
	}
	if r.Type == "" {
		return fmt.Errorf("step_type is required: %w", domain.ErrValidation)
	}
	if r.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if r.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be >= 0: %w", domain.ErrValidation)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0: %w", domain.ErrValidation)
	}
	return nil
}

// ClaimResult is the outcome of a claim attempt. Lost is a normal
// concurrency outcome, not an error.
type ClaimResult int

const (
	ClaimLost ClaimResult = iota
	ClaimWon
)

func (r ClaimResult) String() string {
	if r == ClaimWon {
		return "won"
	}
	return "lost"
}

// roleByType maps a step type to the agent role required to execute it.
var roleByType = map[string]agent.Role{
	TypeResearch:  agent.RoleProductManager,
	TypeImplement: agent.RoleDeveloper,
	TypeTest:      agent.RoleQualityAssurance,
	TypeReview:    agent.RoleQualityAssurance,
	TypeDeploy:    agent.RoleDeployer,
	TypeSecurity:  agent.RoleSecurity,
}

// RoleForType returns the agent role required for the given step type.
// Unknown types fall back to developer so free-form tags stay dispatchable.
func RoleForType(stepType string) agent.Role {
	if role, ok := roleByType[stepType]; ok {
		return role
	}
	return agent.RoleDeveloper
}

// DefaultBreakdown returns the initial step graph for a mission with no
// explicit work breakdown: research, implement, test, review.
func DefaultBreakdown(missionTitle string) []CreateRequest {
	return []CreateRequest{
		{Type: TypeResearch, OrderIndex: 0, Title: "Research and planning",
			Description: "Research and plan the implementation of: " + missionTitle},
		{Type: TypeImplement, OrderIndex: 1, Title: "Implementation",
			Description: "Implement the solution for: " + missionTitle},
		{Type: TypeTest, OrderIndex: 2, Title: "Testing",
			Description: "Test the implementation of: " + missionTitle},
		{Type: TypeReview, OrderIndex: 3, Title: "Review",
			Description: "Review and validate: " + missionTitle},
	}
}
