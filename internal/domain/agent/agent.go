// Package agent defines the Agent domain entity.
package agent

import (
	"fmt"
	"time"

	"github.com/agentloop/agentloop/internal/domain"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Role identifies the kind of work an agent performs. The worker engine
// matches steps to agents by role.
type Role string

const (
	RoleProductManager   Role = "product_manager"
	RoleDeveloper        Role = "developer"
	RoleQualityAssurance Role = "quality_assurance"
	RoleDeployer         Role = "deployer"
	RoleSecurity         Role = "security"
)

// KnownRoles lists every role the worker engine can match against.
var KnownRoles = []Role{
	RoleProductManager,
	RoleDeveloper,
	RoleQualityAssurance,
	RoleDeployer,
	RoleSecurity,
}

// Agent represents a role-typed worker that executes steps through the
// external executor capability. Agents are never hard-deleted while steps
// reference them; pausing is the soft-disable path.
type Agent struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"project_id"`
	Name           string            `json:"name"`
	Role           Role              `json:"role"`
	Status         Status            `json:"status"`
	Config         map[string]string `json:"config,omitempty"`
	LastHeartbeat  *time.Time        `json:"last_heartbeat,omitempty"`
	LastDispatched *time.Time        `json:"last_dispatched,omitempty"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CreateRequest holds the fields needed to register a new agent.
type CreateRequest struct {
	ProjectID string            `json:"project_id"`
	Name      string            `json:"name"`
	Role      Role              `json:"role"`
	Config    map[string]string `json:"config,omitempty"`
}

// Validate checks the request against agent invariants.
func (r *CreateRequest) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if r.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if len(r.Name) > 128 {
		return fmt.Errorf("name exceeds 128 characters: %w", domain.ErrValidation)
	}
	if !ValidRole(r.Role) {
		return fmt.Errorf("unknown role %q: %w", r.Role, domain.ErrValidation)
	}
	return nil
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	for _, known := range KnownRoles {
		if r == known {
			return true
		}
	}
	return false
}
