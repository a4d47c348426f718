package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/project"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/domain/trigger"
	"github.com/agentloop/agentloop/internal/port/database"
)

// Bootstrap applies the startup seed: projects are upserted by slug, agents
// by name within their project, triggers by name. Existing entries are left
// untouched, so applying the same seed on every start is safe.
func Bootstrap(ctx context.Context, store database.Store, projects *ProjectService, agents *AgentService, triggers *TriggerService, seed *config.SeedFile) error {
	for _, sp := range seed.Projects {
		p, err := seedProject(ctx, store, projects, sp)
		if err != nil {
			return fmt.Errorf("seed project %q: %w", sp.Slug, err)
		}
		if err := seedAgents(ctx, store, agents, p, sp.Agents); err != nil {
			return fmt.Errorf("seed agents for %q: %w", sp.Slug, err)
		}
		if err := seedTriggers(ctx, store, triggers, p, sp.Triggers); err != nil {
			return fmt.Errorf("seed triggers for %q: %w", sp.Slug, err)
		}
	}
	return nil
}

func seedProject(ctx context.Context, store database.Store, projects *ProjectService, sp config.SeedProject) (*project.Project, error) {
	p, err := store.GetProjectBySlug(ctx, sp.Slug)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	p, err = projects.Create(ctx, project.CreateRequest{
		Slug:        sp.Slug,
		Name:        sp.Name,
		Description: sp.Description,
		RepoPath:    sp.RepoPath,
		Config:      sp.Config,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("seeded project", "slug", sp.Slug, "project_id", p.ID)
	return p, nil
}

func seedAgents(ctx context.Context, store database.Store, agents *AgentService, p *project.Project, seeds []config.SeedAgent) error {
	existing, err := store.ListAgents(ctx, p.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]bool, len(existing))
	for _, a := range existing {
		byName[a.Name] = true
	}

	for _, sa := range seeds {
		if byName[sa.Name] {
			continue
		}
		a, err := agents.Create(ctx, agent.CreateRequest{
			ProjectID: p.ID,
			Name:      sa.Name,
			Role:      agent.Role(sa.Role),
			Config:    sa.Config,
		})
		if err != nil {
			return fmt.Errorf("agent %q: %w", sa.Name, err)
		}
		slog.Info("seeded agent", "name", sa.Name, "role", sa.Role, "agent_id", a.ID)
	}
	return nil
}

func seedTriggers(ctx context.Context, store database.Store, triggers *TriggerService, p *project.Project, seeds []config.SeedTrigger) error {
	existing, err := store.ListTriggers(ctx, p.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]bool, len(existing))
	for _, t := range existing {
		byName[t.Name] = true
	}

	for _, st := range seeds {
		if byName[st.Name] {
			continue
		}
		t, err := triggers.Create(ctx, trigger.CreateRequest{
			ProjectID:      p.ID,
			Name:           st.Name,
			SourceStepType: st.SourceStepType,
			SourceStatus:   step.Status(st.SourceStatus),
			TargetStepType: st.TargetStepType,
			Condition:      st.Condition,
			Enabled:        st.Enabled,
		})
		if err != nil {
			return fmt.Errorf("trigger %q: %w", st.Name, err)
		}
		slog.Info("seeded trigger", "name", st.Name, "trigger_id", t.ID)
	}
	return nil
}
