// Package project defines the Project domain entity.
package project

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/agentloop/agentloop/internal/domain"
)

// Project is a namespace grouping agents and their work.
type Project struct {
	ID          string            `json:"id"`
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	RepoPath    string            `json:"repo_path,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new project.
type CreateRequest struct {
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	RepoPath    string            `json:"repo_path,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
}

// Validate checks the request against project invariants.
func (r *CreateRequest) Validate() error {
	if r.Slug == "" {
		return fmt.Errorf("slug is required: %w", domain.ErrValidation)
	}
	if len(r.Slug) > 64 {
		return fmt.Errorf("slug exceeds 64 characters: %w", domain.ErrValidation)
	}
	for _, c := range r.Slug {
		if !unicode.IsLower(c) && !unicode.IsDigit(c) && c != '-' {
			return fmt.Errorf("slug must be lowercase alphanumeric with dashes: %w", domain.ErrValidation)
		}
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if len(r.Name) > 255 {
		return fmt.Errorf("name exceeds 255 characters: %w", domain.ErrValidation)
	}
	return nil
}
