package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentloop/agentloop/internal/adapter/ws"
	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/broadcast"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
)

// MissionService handles mission reads, direct creation, and cancellation.
// Missions normally come from approved proposals; direct creation is the
// escape hatch for operator-driven work.
type MissionService struct {
	store  database.Store
	queue  messagequeue.Queue
	hub    broadcast.Broadcaster
	engine config.Engine
}

// NewMissionService creates a new MissionService.
func NewMissionService(store database.Store, queue messagequeue.Queue, hub broadcast.Broadcaster, engine config.Engine) *MissionService {
	return &MissionService{store: store, queue: queue, hub: hub, engine: engine}
}

// List returns missions filtered by project and status.
func (s *MissionService) List(ctx context.Context, f database.MissionFilter) ([]mission.Mission, error) {
	return s.store.ListMissions(ctx, f)
}

// Get returns a mission by ID.
func (s *MissionService) Get(ctx context.Context, id string) (*mission.Mission, error) {
	return s.store.GetMission(ctx, id)
}

// Steps returns the steps of a mission in order.
func (s *MissionService) Steps(ctx context.Context, missionID string) ([]step.Step, error) {
	if _, err := s.store.GetMission(ctx, missionID); err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, database.StepFilter{MissionID: missionID})
}

// MissionCreateRequest holds the fields for direct mission creation.
type MissionCreateRequest struct {
	ProjectID   string               `json:"project_id"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Steps       []step.CreateRequest `json:"steps,omitempty"`
}

// Create creates a mission without a proposal. An empty step list falls back
// to the default breakdown.
func (s *MissionService) Create(ctx context.Context, req MissionCreateRequest) (*mission.Mission, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", domain.ErrValidation)
	}

	breakdown := req.Steps
	if len(breakdown) == 0 {
		breakdown = step.DefaultBreakdown(req.Title)
	}
	for i := range breakdown {
		if err := validateBreakdownStep(&breakdown[i]); err != nil {
			return nil, err
		}
		if breakdown[i].TimeoutSeconds <= 0 {
			breakdown[i].TimeoutSeconds = int(s.engine.StepTimeout.Seconds())
		}
		if breakdown[i].MaxRetries == 0 {
			breakdown[i].MaxRetries = s.engine.StepMaxRetries
		}
	}

	m := &mission.Mission{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.store.CreateMission(ctx, m, breakdown); err != nil {
		return nil, err
	}

	s.publishState(ctx, m)
	s.hub.BroadcastEvent(ctx, ws.EventMissionStatus, ws.MissionStatusEvent{
		MissionID: m.ID, ProjectID: m.ProjectID, Status: string(m.Status),
	})
	return m, nil
}

// Cancel drives a mission and its unfinished steps to cancelled.
func (s *MissionService) Cancel(ctx context.Context, id string) error {
	if err := s.store.CancelMission(ctx, id); err != nil {
		return err
	}
	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return err
	}

	s.publishState(ctx, m)
	s.hub.BroadcastEvent(ctx, ws.EventMissionStatus, ws.MissionStatusEvent{
		MissionID: m.ID, ProjectID: m.ProjectID, Status: string(m.Status),
	})
	return nil
}

func (s *MissionService) publishState(ctx context.Context, m *mission.Mission) {
	data, err := json.Marshal(messagequeue.MissionStatePayload{
		MissionID: m.ID, ProjectID: m.ProjectID, Status: string(m.Status),
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectMissionState, data); err != nil {
		slog.Error("publish mission state", "mission_id", m.ID, "error", err)
	}
}
