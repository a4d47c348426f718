package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

// StepService exposes the claim protocol to external workers. The built-in
// engine and an external worker race through the same atomic claim, so both
// can run side by side.
type StepService struct {
	store  database.Store
	worker *WorkerService
	engine config.Engine
}

// NewStepService creates a new StepService. Announcements reuse the worker's
// broadcast path so external and built-in transitions look the same on the
// wire.
func NewStepService(store database.Store, worker *WorkerService, engine config.Engine) *StepService {
	return &StepService{store: store, worker: worker, engine: engine}
}

// List returns steps matching the filter.
func (s *StepService) List(ctx context.Context, f database.StepFilter) ([]step.Step, error) {
	return s.store.ListSteps(ctx, f)
}

// Get returns one step by ID.
func (s *StepService) Get(ctx context.Context, id string) (*step.Step, error) {
	return s.store.GetStep(ctx, id)
}

// Claim attempts to claim a pending step for an agent. On success it returns
// the step and the claim token the caller must present on every subsequent
// transition. A lost race yields domain.ErrConflict.
func (s *StepService) Claim(ctx context.Context, stepID, agentID string) (*step.Step, string, error) {
	token := uuid.NewString()
	res, err := s.store.ClaimStep(ctx, stepID, agentID, token)
	if err != nil {
		return nil, "", err
	}
	if res == step.ClaimLost {
		return nil, "", fmt.Errorf("step %s could not be claimed: %w", stepID, domain.ErrConflict)
	}

	st, m, err := s.resolve(ctx, stepID)
	if err != nil {
		return nil, "", err
	}
	s.worker.broadcastStep(ctx, st, m, step.StatusClaimed, agentID)
	return st, token, nil
}

// Start moves a claimed step to running.
func (s *StepService) Start(ctx context.Context, stepID, token string) (*step.Step, error) {
	if err := s.store.StartStep(ctx, stepID, token); err != nil {
		return nil, err
	}
	return s.announce(ctx, stepID, step.StatusRunning)
}

// Complete settles a step successfully and records its result.
func (s *StepService) Complete(ctx context.Context, stepID, token, result string) (*step.Step, error) {
	if err := s.store.CompleteStep(ctx, stepID, token, result); err != nil {
		return nil, err
	}
	return s.announce(ctx, stepID, step.StatusCompleted)
}

// Fail records a failure; the step returns to pending while retries remain.
func (s *StepService) Fail(ctx context.Context, stepID, token, errMsg string) (*step.Step, bool, error) {
	requeued, err := s.store.FailStep(ctx, stepID, token, errMsg)
	if err != nil {
		return nil, false, err
	}
	status := step.StatusFailed
	if requeued {
		status = step.StatusPending
	}
	st, err := s.announce(ctx, stepID, status)
	return st, requeued, err
}

// Release returns a claimed step to pending without consuming a retry.
func (s *StepService) Release(ctx context.Context, stepID, token string) (*step.Step, error) {
	if err := s.store.ReleaseStep(ctx, stepID, token); err != nil {
		return nil, err
	}
	return s.announce(ctx, stepID, step.StatusPending)
}

// Cancel cancels a non-terminal step.
func (s *StepService) Cancel(ctx context.Context, stepID string) (*step.Step, error) {
	if err := s.store.CancelStep(ctx, stepID); err != nil {
		return nil, err
	}
	return s.announce(ctx, stepID, step.StatusCancelled)
}

func (s *StepService) resolve(ctx context.Context, stepID string) (*step.Step, *mission.Mission, error) {
	st, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.store.GetMission(ctx, st.MissionID)
	if err != nil {
		return nil, nil, err
	}
	return st, m, nil
}

func (s *StepService) announce(ctx context.Context, stepID string, status step.Status) (*step.Step, error) {
	st, m, err := s.resolve(ctx, stepID)
	if err != nil {
		return nil, err
	}
	s.worker.broadcastStep(ctx, st, m, status, st.ClaimedBy)
	return st, nil
}
