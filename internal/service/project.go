// Package service implements the use-case layer between HTTP handlers and
// the ports.
package service

import (
	"context"

	"github.com/agentloop/agentloop/internal/domain/project"
	"github.com/agentloop/agentloop/internal/port/database"
)

// ProjectService handles project business logic.
type ProjectService struct {
	store database.Store
}

// NewProjectService creates a new ProjectService.
func NewProjectService(store database.Store) *ProjectService {
	return &ProjectService{store: store}
}

// List returns all projects.
func (s *ProjectService) List(ctx context.Context) ([]project.Project, error) {
	return s.store.ListProjects(ctx)
}

// Get returns a project by ID.
func (s *ProjectService) Get(ctx context.Context, id string) (*project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// GetBySlug returns a project by its slug.
func (s *ProjectService) GetBySlug(ctx context.Context, slug string) (*project.Project, error) {
	return s.store.GetProjectBySlug(ctx, slug)
}

// Create validates and persists a new project.
func (s *ProjectService) Create(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := &project.Project{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		RepoPath:    req.RepoPath,
		Config:      req.Config,
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update persists changes to a project using optimistic concurrency.
func (s *ProjectService) Update(ctx context.Context, p *project.Project) error {
	return s.store.UpdateProject(ctx, p)
}

// Delete removes a project and, through cascade, its agents, proposals,
// missions and steps.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteProject(ctx, id)
}
