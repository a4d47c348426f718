// Package proposal defines the Proposal domain entity and approval rules.
package proposal

import (
	"fmt"
	"time"

	"github.com/agentloop/agentloop/internal/domain"
)

// Status represents the current state of a proposal. Transitions are
// one-way: pending -> approved|rejected|expired.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Priority ranks proposals for review.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Proposal is a candidate unit of work awaiting approval. Approval is the
// only path that creates a Mission.
type Proposal struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	AgentID     string     `json:"agent_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Rationale   string     `json:"rationale,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	AutoApprove bool       `json:"auto_approve"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields needed to file a new proposal.
type CreateRequest struct {
	ProjectID   string   `json:"project_id"`
	AgentID     string   `json:"agent_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	AutoApprove bool     `json:"auto_approve,omitempty"`
}

// Validate checks the request against proposal invariants.
func (r *CreateRequest) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if r.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if len(r.Title) > 255 {
		return fmt.Errorf("title exceeds 255 characters: %w", domain.ErrValidation)
	}
	switch r.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return fmt.Errorf("unknown priority %q: %w", r.Priority, domain.ErrValidation)
	}
	return nil
}

// Terminal reports whether the proposal can no longer change state.
func (p *Proposal) Terminal() bool {
	return p.Status != StatusPending
}
