package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentloop/agentloop/internal/adapter/ws"
	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/domain/trigger"
	"github.com/agentloop/agentloop/internal/port/broadcast"
	"github.com/agentloop/agentloop/internal/port/cache"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
)

// triggerCacheTTL bounds staleness of the per-project rule list. Rule edits
// also invalidate eagerly, so the TTL only covers other instances.
const triggerCacheTTL = 30 * time.Second

// TriggerService manages trigger rules and evaluates them against step
// transitions.
type TriggerService struct {
	store  database.Store
	queue  messagequeue.Queue
	hub    broadcast.Broadcaster
	cache  cache.Cache
	engine config.Engine
}

// NewTriggerService creates a new TriggerService.
func NewTriggerService(store database.Store, queue messagequeue.Queue, hub broadcast.Broadcaster, c cache.Cache, engine config.Engine) *TriggerService {
	return &TriggerService{store: store, queue: queue, hub: hub, cache: c, engine: engine}
}

// List returns triggers visible to a project (its own plus global ones).
func (s *TriggerService) List(ctx context.Context, projectID string) ([]trigger.Trigger, error) {
	return s.store.ListTriggers(ctx, projectID)
}

// Get returns a trigger by ID.
func (s *TriggerService) Get(ctx context.Context, id string) (*trigger.Trigger, error) {
	return s.store.GetTrigger(ctx, id)
}

// Create validates and persists a new trigger rule.
func (s *TriggerService) Create(ctx context.Context, req trigger.CreateRequest) (*trigger.Trigger, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sourceStatus := req.SourceStatus
	if sourceStatus == "" {
		sourceStatus = step.StatusCompleted
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	t := &trigger.Trigger{
		ProjectID:      req.ProjectID,
		Name:           req.Name,
		SourceStepType: req.SourceStepType,
		SourceStatus:   sourceStatus,
		TargetStepType: req.TargetStepType,
		Condition:      req.Condition,
		Enabled:        enabled,
	}
	if err := s.store.CreateTrigger(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(ctx, t.ProjectID)
	return t, nil
}

// Update persists rule changes using optimistic concurrency.
func (s *TriggerService) Update(ctx context.Context, t *trigger.Trigger) error {
	if err := s.store.UpdateTrigger(ctx, t); err != nil {
		return err
	}
	s.invalidate(ctx, t.ProjectID)
	return nil
}

// SetEnabled flips a rule on or off.
func (s *TriggerService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	t, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetTriggerEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.invalidate(ctx, t.ProjectID)
	return nil
}

// Delete removes a rule.
func (s *TriggerService) Delete(ctx context.Context, id string) error {
	t, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTrigger(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, t.ProjectID)
	return nil
}

// EvaluateStep runs every enabled rule against a terminal step. Firing is
// idempotent per (step, trigger), so re-evaluating the same step on later
// passes creates nothing new. Returns how many rules fired.
func (s *TriggerService) EvaluateStep(ctx context.Context, st *step.Step, m *mission.Mission, priority string) (int, error) {
	if m.Terminal() {
		return 0, nil
	}

	triggers, err := s.enabledTriggers(ctx, m.ProjectID)
	if err != nil {
		return 0, err
	}

	tctx := trigger.Context{
		"step_type":      st.Type,
		"step_status":    string(st.Status),
		"mission_status": string(m.Status),
		"project_id":     m.ProjectID,
		"priority":       priority,
	}

	fired := 0
	for i := range triggers {
		t := &triggers[i]
		if !t.Matches(st.Type, st.Status, m.ProjectID, tctx) {
			continue
		}

		target := step.CreateRequest{
			Type:           t.TargetStepType,
			Title:          followUpTitle(t.TargetStepType, st.Title),
			Description:    "Follow-up on step: " + st.Title,
			OrderIndex:     st.OrderIndex + 1,
			TimeoutSeconds: int(s.engine.StepTimeout.Seconds()),
			MaxRetries:     s.engine.StepMaxRetries,
		}

		created, err := s.store.CreateStepFromTrigger(ctx, t, st, target)
		if err != nil {
			slog.Error("trigger firing failed", "trigger_id", t.ID, "step_id", st.ID, "error", err)
			continue
		}
		if created == nil {
			// Already fired for this step on an earlier pass.
			continue
		}
		fired++

		s.publishFired(ctx, t, st, created, m)
		s.hub.BroadcastEvent(ctx, ws.EventTriggerFired, ws.TriggerFiredEvent{
			TriggerID:    t.ID,
			SourceStepID: st.ID,
			TargetStepID: created.ID,
			MissionID:    m.ID,
		})
	}
	return fired, nil
}

// followUpTitle names the chained step after its type and provenance.
func followUpTitle(targetType, sourceTitle string) string {
	return targetType + " after: " + sourceTitle
}

// enabledTriggers returns the project's enabled rules, cached briefly since
// every tick re-reads them for every terminal step.
func (s *TriggerService) enabledTriggers(ctx context.Context, projectID string) ([]trigger.Trigger, error) {
	key := "triggers:" + projectID
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached []trigger.Trigger
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	triggers, err := s.store.ListEnabledTriggers(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(triggers); err == nil {
		_ = s.cache.Set(ctx, key, data, triggerCacheTTL)
	}
	return triggers, nil
}

func (s *TriggerService) invalidate(ctx context.Context, projectID string) {
	_ = s.cache.Delete(ctx, "triggers:"+projectID)
	if projectID != "" {
		// Global rules live in every project's list.
		return
	}
	// A global rule changed; per-project lists expire via TTL.
}

func (s *TriggerService) publishFired(ctx context.Context, t *trigger.Trigger, source, target *step.Step, m *mission.Mission) {
	data, err := json.Marshal(messagequeue.TriggerFiredPayload{
		TriggerID:    t.ID,
		SourceStepID: source.ID,
		TargetStepID: target.ID,
		MissionID:    m.ID,
		ProjectID:    m.ProjectID,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectTriggerFired, data); err != nil {
		slog.Error("publish trigger fired", "trigger_id", t.ID, "error", err)
	}
}
