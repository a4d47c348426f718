package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
)

// AgentService handles agent registration and lifecycle.
type AgentService struct {
	store database.Store
	queue messagequeue.Queue
}

// NewAgentService creates a new AgentService.
func NewAgentService(store database.Store, queue messagequeue.Queue) *AgentService {
	return &AgentService{store: store, queue: queue}
}

// List returns agents, optionally scoped to a project.
func (s *AgentService) List(ctx context.Context, projectID string) ([]agent.Agent, error) {
	return s.store.ListAgents(ctx, projectID)
}

// Get returns an agent by ID.
func (s *AgentService) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return s.store.GetAgent(ctx, id)
}

// Create validates and registers a new agent. New agents start active.
func (s *AgentService) Create(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := &agent.Agent{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Role:      req.Role,
		Status:    agent.StatusActive,
		Config:    req.Config,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Pause takes an agent out of dispatch rotation. Steps it already holds
// keep running.
func (s *AgentService) Pause(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, agent.StatusPaused)
}

// Resume puts a paused agent back into rotation.
func (s *AgentService) Resume(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, agent.StatusActive)
}

func (s *AgentService) setStatus(ctx context.Context, id string, status agent.Status) error {
	if err := s.store.UpdateAgentStatus(ctx, id, status); err != nil {
		return err
	}
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(messagequeue.AgentStatusPayload{
		AgentID:   a.ID,
		ProjectID: a.ProjectID,
		Status:    string(a.Status),
	})
	if err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectAgentStatus, data); err != nil {
			slog.Error("publish agent status", "agent_id", id, "error", err)
		}
	}
	return nil
}

// Heartbeat records that an agent checked in.
func (s *AgentService) Heartbeat(ctx context.Context, id string) error {
	return s.store.TouchAgentHeartbeat(ctx, id, time.Now().UTC())
}

// Delete removes an agent no step references. An agent with claimed or
// completed steps stays; pause it to take it out of rotation instead.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	steps, err := s.store.ListSteps(ctx, database.StepFilter{ClaimedBy: id})
	if err != nil {
		return err
	}
	if len(steps) > 0 {
		return fmt.Errorf("agent %s is referenced by %d steps, pause it instead: %w",
			id, len(steps), domain.ErrConflict)
	}
	return s.store.DeleteAgent(ctx, id)
}
