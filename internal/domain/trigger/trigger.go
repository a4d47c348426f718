// Package trigger defines declarative rules that chain completed steps into
// follow-on work.
package trigger

import (
	"fmt"
	"time"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/step"
)

// Trigger is a pure rule: when a step of SourceStepType reaches SourceStatus
// and the condition matches, a new pending step of TargetStepType is created
// in the same mission. Evaluation never mutates the source step.
type Trigger struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"project_id,omitempty"` // empty = global
	Name           string            `json:"name"`
	SourceStepType string            `json:"source_step_type"`
	SourceStatus   step.Status       `json:"source_status"`
	TargetStepType string            `json:"target_step_type"`
	Condition      map[string]string `json:"condition,omitempty"`
	Enabled        bool              `json:"enabled"`
	LastFiredAt    *time.Time        `json:"last_fired_at,omitempty"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CreateRequest holds the fields needed to define a new trigger.
type CreateRequest struct {
	ProjectID      string            `json:"project_id,omitempty"`
	Name           string            `json:"name"`
	SourceStepType string            `json:"source_step_type"`
	SourceStatus   step.Status       `json:"source_status,omitempty"`
	TargetStepType string            `json:"target_step_type"`
	Condition      map[string]string `json:"condition,omitempty"`
	Enabled        *bool             `json:"enabled,omitempty"`
}

// Validate checks the request against trigger invariants.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if r.SourceStepType == "" {
		return fmt.Errorf("source_step_type is required: %w", domain.ErrValidation)
	}
	if r.TargetStepType == "" {
		return fmt.Errorf("target_step_type is required: %w", domain.ErrValidation)
	}
	switch r.SourceStatus {
	case "", step.StatusCompleted, step.StatusFailed:
	default:
		return fmt.Errorf("source_status must be completed or failed: %w", domain.ErrValidation)
	}
	if r.SourceStepType == r.TargetStepType {
		return fmt.Errorf("trigger may not target its own source step type: %w", domain.ErrValidation)
	}
	return nil
}

// Context is the set of mission/step fields a trigger condition can match:
// step_type, step_status, mission_status, priority, project_id.
type Context map[string]string

// Matches reports whether the trigger applies to the given source step
// transition: type, status, project scope, and every condition key must match.
func (t *Trigger) Matches(stepType string, status step.Status, projectID string, ctx Context) bool {
	if !t.Enabled {
		return false
	}
	if t.SourceStepType != stepType || t.SourceStatus != status {
		return false
	}
	if t.ProjectID != "" && t.ProjectID != projectID {
		return false
	}
	for key, want := range t.Condition {
		if ctx[key] != want {
			return false
		}
	}
	return true
}
