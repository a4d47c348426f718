// Package mission defines the Mission domain entity.
package mission

import "time"

// Status represents the current state of a mission.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Mission is a tracked unit of delivery spawned from an approved proposal.
// Missions are append-only history: they are never deleted, only driven to a
// terminal state.
type Mission struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	ProposalID  string     `json:"proposal_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Version     int        `json:"version"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal reports whether the mission can no longer change state.
func (m *Mission) Terminal() bool {
	switch m.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
