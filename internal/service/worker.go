package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentloop/agentloop/internal/adapter/otel"
	"github.com/agentloop/agentloop/internal/adapter/ws"
	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/broadcast"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/executor"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
)

// WorkerService matches dispatchable steps to available agents, claims them
// atomically, and drives execution through the executor port.
type WorkerService struct {
	store   database.Store
	exec    executor.Executor
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	engine  config.Engine
}

// NewWorkerService creates a new WorkerService.
func NewWorkerService(store database.Store, exec executor.Executor, queue messagequeue.Queue, hub broadcast.Broadcaster, metrics *otel.Metrics, engine config.Engine) *WorkerService {
	return &WorkerService{store: store, exec: exec, queue: queue, hub: hub, metrics: metrics, engine: engine}
}

// DispatchOutcome reports what one dispatch pass did. Requeued failures
// count as neither completed nor failed; they come back as pending.
type DispatchOutcome struct {
	Dispatched int
	Completed  int
	Failed     int
}

// DispatchPass claims and executes one batch of pending steps. Claims happen
// sequentially so one batch never hands two steps to the same agent;
// execution runs in parallel up to the configured limit, and the pass blocks
// until every dispatched step settles or times out.
func (s *WorkerService) DispatchPass(ctx context.Context) (DispatchOutcome, error) {
	var out DispatchOutcome

	steps, err := s.store.ListDispatchableSteps(ctx, s.engine.DispatchBatch)
	if err != nil {
		return out, err
	}
	if len(steps) == 0 {
		return out, nil
	}

	missions := make(map[string]*mission.Mission)
	g := new(errgroup.Group)
	g.SetLimit(s.engine.DispatchConcurrency)

	var completed, failed atomic.Int64
	for i := range steps {
		st := steps[i]

		m, ok := missions[st.MissionID]
		if !ok {
			m, err = s.store.GetMission(ctx, st.MissionID)
			if err != nil {
				slog.Error("resolve mission for dispatch", "step_id", st.ID, "error", err)
				continue
			}
			missions[st.MissionID] = m
		}

		role := step.RoleForType(st.Type)
		a, err := s.store.LeastRecentlyDispatchedAgent(ctx, m.ProjectID, role)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// No agent free for this role; the step stays pending.
				continue
			}
			return out, err
		}

		token := uuid.NewString()
		res, err := s.store.ClaimStep(ctx, st.ID, a.ID, token)
		if err != nil {
			slog.Error("claim step", "step_id", st.ID, "agent_id", a.ID, "error", err)
			continue
		}
		if res == step.ClaimLost {
			s.metrics.ClaimsLost.Add(ctx, 1)
			continue
		}

		out.Dispatched++
		s.metrics.StepsDispatched.Add(ctx, 1)
		s.broadcastStep(ctx, &st, m, step.StatusClaimed, a.ID)

		g.Go(func() error {
			switch s.execute(ctx, &st, m, a, token) {
			case step.StatusCompleted:
				completed.Add(1)
			case step.StatusFailed:
				failed.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()
	out.Completed = int(completed.Load())
	out.Failed = int(failed.Load())
	return out, nil
}

// execute runs one claimed step to a settled state and reports that state.
// The claim token authenticates every write; if the claim was reclaimed
// underneath us the writes fail with a conflict and the result is discarded.
// A timeout leaves the step running and returns the zero status.
func (s *WorkerService) execute(ctx context.Context, st *step.Step, m *mission.Mission, a *agent.Agent, token string) step.Status {
	ctx, span := otel.StartStepSpan(ctx, st.ID, m.ID, st.Type, a.ID)
	defer span.End()

	if err := s.store.StartStep(ctx, st.ID, token); err != nil {
		slog.Error("start step", "step_id", st.ID, "error", err)
		return ""
	}
	s.broadcastStep(ctx, st, m, step.StatusRunning, a.ID)

	timeout := time.Duration(st.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = s.engine.StepTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := s.exec.Execute(execCtx, &executor.Request{
		StepID:      st.ID,
		MissionID:   m.ID,
		ProjectID:   m.ProjectID,
		StepType:    st.Type,
		Title:       st.Title,
		Description: st.Description,
		AgentID:     a.ID,
		AgentName:   a.Name,
		AgentConfig: a.Config,
	})
	s.metrics.StepDuration.Record(ctx, time.Since(start).Seconds())

	// Result writes must land even when the pass context is being torn down.
	settleCtx := context.WithoutCancel(ctx)

	if err != nil {
		if execCtx.Err() != nil {
			// The backend may still finish remotely; the step stays running
			// and the stale-claim sweep requeues or fails it later.
			slog.Warn("step execution timed out, leaving claim for reclamation",
				"step_id", st.ID, "agent_id", a.ID, "timeout", timeout)
			return ""
		}
		return s.settleFailure(settleCtx, st, m, a, token, err.Error())
	}

	if result.Success {
		if err := s.store.CompleteStep(settleCtx, st.ID, token, result.Output); err != nil {
			slog.Error("complete step", "step_id", st.ID, "error", err)
			return ""
		}
		s.metrics.StepsCompleted.Add(settleCtx, 1)
		s.broadcastStep(settleCtx, st, m, step.StatusCompleted, a.ID)
		s.publishResult(settleCtx, st, m, step.StatusCompleted, result.Output, "", st.RetryCount)
		return step.StatusCompleted
	}

	return s.settleFailure(settleCtx, st, m, a, token, result.Error)
}

// settleFailure records a failure and reports the step's resulting status.
func (s *WorkerService) settleFailure(ctx context.Context, st *step.Step, m *mission.Mission, a *agent.Agent, token, errMsg string) step.Status {
	requeued, err := s.store.FailStep(ctx, st.ID, token, errMsg)
	if err != nil {
		slog.Error("fail step", "step_id", st.ID, "error", err)
		return ""
	}
	if requeued {
		s.broadcastStep(ctx, st, m, step.StatusPending, "")
		s.publishResult(ctx, st, m, step.StatusPending, "", errMsg, st.RetryCount+1)
		return step.StatusPending
	}
	// Terminal failure does not consume another retry; the counter stays at
	// max_retries.
	s.metrics.StepsFailed.Add(ctx, 1)
	s.broadcastStep(ctx, st, m, step.StatusFailed, a.ID)
	s.publishResult(ctx, st, m, step.StatusFailed, "", errMsg, st.RetryCount)
	return step.StatusFailed
}

func (s *WorkerService) broadcastStep(ctx context.Context, st *step.Step, m *mission.Mission, status step.Status, agentID string) {
	s.hub.BroadcastEvent(ctx, ws.EventStepStatus, ws.StepStatusEvent{
		StepID:    st.ID,
		MissionID: m.ID,
		ProjectID: m.ProjectID,
		Type:      st.Type,
		Status:    string(status),
		AgentID:   agentID,
	})

	data, err := json.Marshal(messagequeue.StepStatePayload{
		StepID:    st.ID,
		MissionID: m.ID,
		ProjectID: m.ProjectID,
		Type:      st.Type,
		Status:    string(status),
		AgentID:   agentID,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectStepState, data); err != nil {
		slog.Error("publish step state", "step_id", st.ID, "error", err)
	}
}

func (s *WorkerService) publishResult(ctx context.Context, st *step.Step, m *mission.Mission, status step.Status, output, errMsg string, retries int) {
	data, err := json.Marshal(messagequeue.StepResultPayload{
		StepID:     st.ID,
		MissionID:  m.ID,
		ProjectID:  m.ProjectID,
		Status:     string(status),
		Result:     output,
		Error:      errMsg,
		RetryCount: retries,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectStepResult, data); err != nil {
		slog.Error("publish step result", "step_id", st.ID, "error", err)
	}
}
