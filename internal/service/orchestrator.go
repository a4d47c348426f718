package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentloop/agentloop/internal/adapter/otel"
	"github.com/agentloop/agentloop/internal/adapter/ws"
	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/broadcast"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
)

// TickSummary reports what one orchestrator pass did.
type TickSummary struct {
	AutoApproved      int           `json:"auto_approved"`
	Requeued          int           `json:"requeued"`
	ReclaimFailed     int           `json:"reclaim_failed"`
	Dispatched        int           `json:"steps_dispatched"`
	StepsCompleted    int           `json:"steps_completed"`
	StepsFailed       int           `json:"steps_failed"`
	TriggersFired     int           `json:"triggers_fired"`
	MissionsCompleted int           `json:"missions_completed"`
	MissionsFailed    int           `json:"missions_failed"`
	ProposalsExpired  int           `json:"proposals_expired"`
	EventsTrimmed     int64         `json:"events_trimmed"`
	StuckMissions     int           `json:"stuck_missions"`
	Duration          time.Duration `json:"duration_ns"`
}

// OrchestratorService runs the engine loop: auto-approval, stale-claim
// reclamation, dispatch, trigger evaluation, mission completion, cleanup.
type OrchestratorService struct {
	store     database.Store
	proposals *ProposalService
	worker    *WorkerService
	triggers  *TriggerService
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
	engine    config.Engine

	// Serializes ticks: a manual tick and the background ticker must never
	// overlap.
	mu sync.Mutex
}

// NewOrchestratorService creates a new OrchestratorService.
func NewOrchestratorService(store database.Store, proposals *ProposalService, worker *WorkerService, triggers *TriggerService, queue messagequeue.Queue, hub broadcast.Broadcaster, metrics *otel.Metrics, engine config.Engine) *OrchestratorService {
	return &OrchestratorService{
		store:     store,
		proposals: proposals,
		worker:    worker,
		triggers:  triggers,
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
		engine:    engine,
	}
}

// Tick runs one full engine pass. Phases run in a fixed order so each one
// can build on the previous: reclaimed steps become dispatchable in the same
// pass, and trigger-created steps keep their mission open before the
// completion check sees it. Every phase is idempotent; a failing phase is
// recorded and the pass moves on.
func (s *OrchestratorService) Tick(ctx context.Context) (*TickSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := otel.StartTickSpan(ctx)
	defer span.End()

	start := time.Now()
	now := start.UTC()
	summary := &TickSummary{}
	var errs []error

	phase := func(name string, fn func() error) {
		if err := fn(); err != nil {
			slog.Error("tick phase failed", "phase", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	phase("auto_approve", func() error {
		n, err := s.proposals.AutoApprovePass(ctx)
		summary.AutoApproved = n
		return err
	})

	phase("reclaim", func() error {
		return s.reclaim(ctx, now, summary)
	})

	phase("dispatch", func() error {
		out, err := s.worker.DispatchPass(ctx)
		summary.Dispatched = out.Dispatched
		summary.StepsCompleted = out.Completed
		summary.StepsFailed = out.Failed
		return err
	})

	phase("triggers", func() error {
		return s.evaluateTriggers(ctx, summary)
	})

	phase("completion", func() error {
		return s.completeMissions(ctx, now, summary)
	})

	phase("cleanup", func() error {
		n, err := s.proposals.ExpireStale(ctx, now)
		summary.ProposalsExpired = n
		if err != nil {
			return err
		}
		trimmed, err := s.store.TrimEvents(ctx, now.Add(-s.engine.EventRetention))
		summary.EventsTrimmed = trimmed
		return err
	})

	summary.Duration = time.Since(start)
	s.metrics.TicksTotal.Add(ctx, 1)
	s.metrics.TickDuration.Record(ctx, summary.Duration.Seconds())

	s.hub.BroadcastEvent(ctx, ws.EventTick, ws.TickEvent{
		AutoApproved: summary.AutoApproved,
		Reclaimed:    summary.Requeued + summary.ReclaimFailed,
		Dispatched:   summary.Dispatched,
		Fired:        summary.TriggersFired,
		Completed:    summary.MissionsCompleted,
		Failed:       summary.MissionsFailed,
	})

	slog.Info("tick complete",
		"auto_approved", summary.AutoApproved,
		"requeued", summary.Requeued,
		"reclaim_failed", summary.ReclaimFailed,
		"dispatched", summary.Dispatched,
		"steps_completed", summary.StepsCompleted,
		"steps_failed", summary.StepsFailed,
		"triggers_fired", summary.TriggersFired,
		"missions_completed", summary.MissionsCompleted,
		"missions_failed", summary.MissionsFailed,
		"duration", summary.Duration)

	return summary, errors.Join(errs...)
}

// Run drives Tick on the configured interval until the context is cancelled.
func (s *OrchestratorService) Run(ctx context.Context) error {
	if !s.engine.AutoTick {
		slog.Info("auto tick disabled, engine runs on manual ticks only")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.engine.TickInterval)
	defer ticker.Stop()

	slog.Info("engine loop started", "interval", s.engine.TickInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("engine loop stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.Error("tick", "error", err)
			}
		}
	}
}

// reclaim sweeps expired claims back to pending or to terminal failure and
// announces each affected step.
func (s *OrchestratorService) reclaim(ctx context.Context, now time.Time, summary *TickSummary) error {
	outcome, err := s.store.ReclaimStaleSteps(ctx, now)
	if err != nil {
		return err
	}
	summary.Requeued = len(outcome.Requeued)
	summary.ReclaimFailed = len(outcome.Failed)
	if summary.Requeued == 0 && summary.ReclaimFailed == 0 {
		return nil
	}

	s.metrics.StepsReclaimed.Add(ctx, int64(summary.Requeued))
	s.metrics.StepsFailed.Add(ctx, int64(summary.ReclaimFailed))

	missions := make(map[string]*mission.Mission)
	announce := func(steps []step.Step, status step.Status) {
		for i := range steps {
			st := steps[i]
			m, ok := missions[st.MissionID]
			if !ok {
				m, err = s.store.GetMission(ctx, st.MissionID)
				if err != nil {
					slog.Error("resolve mission for reclaimed step", "step_id", st.ID, "error", err)
					continue
				}
				missions[st.MissionID] = m
			}
			slog.Warn("reclaimed stale claim",
				"step_id", st.ID, "agent_id", st.ClaimedBy, "status", status, "retry_count", st.RetryCount)
			s.worker.broadcastStep(ctx, &st, m, status, st.ClaimedBy)
		}
	}
	announce(outcome.Requeued, step.StatusPending)
	announce(outcome.Failed, step.StatusFailed)
	return nil
}

// evaluateTriggers scans terminal steps of open missions and fires any
// matching triggers. The firing record makes re-evaluation across ticks a
// no-op.
func (s *OrchestratorService) evaluateTriggers(ctx context.Context, summary *TickSummary) error {
	missions, err := s.store.ListActiveMissions(ctx)
	if err != nil {
		return err
	}

	for i := range missions {
		m := missions[i]
		steps, err := s.store.ListSteps(ctx, database.StepFilter{MissionID: m.ID})
		if err != nil {
			return err
		}

		priority, err := s.missionPriority(ctx, &m)
		if err != nil {
			slog.Error("resolve mission priority", "mission_id", m.ID, "error", err)
		}

		for j := range steps {
			st := steps[j]
			if st.Status != step.StatusCompleted && st.Status != step.StatusFailed {
				continue
			}
			fired, err := s.triggers.EvaluateStep(ctx, &st, &m, priority)
			if err != nil {
				slog.Error("evaluate triggers", "step_id", st.ID, "error", err)
				continue
			}
			summary.TriggersFired += fired
		}
	}
	return nil
}

// missionPriority resolves the priority of the proposal the mission came
// from; directly created missions have none.
func (s *OrchestratorService) missionPriority(ctx context.Context, m *mission.Mission) (string, error) {
	if m.ProposalID == "" {
		return "", nil
	}
	p, err := s.store.GetProposal(ctx, m.ProposalID)
	if err != nil {
		return "", err
	}
	return string(p.Priority), nil
}

// completeMissions closes missions whose steps have all settled and flags
// open missions that have gone quiet for too long.
func (s *OrchestratorService) completeMissions(ctx context.Context, now time.Time, summary *TickSummary) error {
	missions, err := s.store.ListActiveMissions(ctx)
	if err != nil {
		return err
	}

	stuckCutoff := now.Add(-s.engine.StuckMissionAfter)
	for i := range missions {
		m := missions[i]
		steps, err := s.store.ListSteps(ctx, database.StepFilter{MissionID: m.ID})
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			continue
		}

		settled := true
		anyFailed := false
		anyCompleted := false
		for j := range steps {
			if !steps[j].Terminal() {
				settled = false
				break
			}
			switch steps[j].Status {
			case step.StatusFailed:
				anyFailed = true
			case step.StatusCompleted:
				anyCompleted = true
			}
		}

		if !settled {
			if m.Status == mission.StatusActive && m.UpdatedAt.Before(stuckCutoff) {
				summary.StuckMissions++
				slog.Warn("mission has made no progress",
					"mission_id", m.ID, "title", m.Title, "updated_at", m.UpdatedAt)
			}
			continue
		}

		// Completion requires at least one completed step; a mission whose
		// steps were all cancelled individually is cancelled, not completed.
		var status mission.Status
		var finish func(context.Context, string) error
		switch {
		case anyFailed:
			status = mission.StatusFailed
			finish = s.store.FailMission
		case anyCompleted:
			status = mission.StatusCompleted
			finish = s.store.CompleteMission
		default:
			status = mission.StatusCancelled
			finish = s.store.CancelMission
		}
		if err := finish(ctx, m.ID); err != nil {
			slog.Error("finish mission", "mission_id", m.ID, "status", status, "error", err)
			continue
		}
		switch status {
		case mission.StatusFailed:
			summary.MissionsFailed++
		case mission.StatusCompleted:
			summary.MissionsCompleted++
		}
		slog.Info("mission settled", "mission_id", m.ID, "title", m.Title, "status", status)
		s.announceMission(ctx, &m, status)
	}
	return nil
}

func (s *OrchestratorService) announceMission(ctx context.Context, m *mission.Mission, status mission.Status) {
	s.hub.BroadcastEvent(ctx, ws.EventMissionStatus, ws.MissionStatusEvent{
		MissionID: m.ID,
		ProjectID: m.ProjectID,
		Status:    string(status),
	})

	data, err := json.Marshal(messagequeue.MissionStatePayload{
		MissionID: m.ID,
		ProjectID: m.ProjectID,
		Status:    string(status),
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectMissionState, data); err != nil {
		slog.Error("publish mission state", "mission_id", m.ID, "error", err)
	}
}
