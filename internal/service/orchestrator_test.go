package service

import (
	"context"
	"testing"
	"time"

	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/project"
	"github.com/agentloop/agentloop/internal/domain/proposal"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/domain/trigger"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/executor"
)

// engineFixture assembles the full service graph on the in-memory adapters,
// the way main wires it against the real ones.
type engineFixture struct {
	store     *mockStore
	exec      *mockExecutor
	queue     *mockQueue
	hub       *mockBroadcaster
	cache     *mockCache
	proposals *ProposalService
	worker    *WorkerService
	triggers  *TriggerService
	orch      *OrchestratorService
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store: newMockStore(),
		exec:  &mockExecutor{},
		queue: &mockQueue{},
		hub:   &mockBroadcaster{},
		cache: newMockCache(),
	}
	eng := testEngine()
	metrics := testMetrics(t)
	f.proposals = NewProposalService(f.store, f.queue, f.hub, eng)
	f.worker = NewWorkerService(f.store, f.exec, f.queue, f.hub, metrics, eng)
	f.triggers = NewTriggerService(f.store, f.queue, f.hub, f.cache, eng)
	f.orch = NewOrchestratorService(f.store, f.proposals, f.worker, f.triggers, f.queue, f.hub, metrics, eng)
	return f
}

// seedProject creates a project with one active agent per known role.
func (f *engineFixture) seedProject(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	p := &project.Project{Name: "Demo", Slug: "demo"}
	if err := f.store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	for _, role := range agent.KnownRoles {
		a := &agent.Agent{ProjectID: p.ID, Name: string(role) + "-1", Role: role, Status: agent.StatusActive}
		if err := f.store.CreateAgent(ctx, a); err != nil {
			t.Fatalf("CreateAgent: %v", err)
		}
	}
	return p.ID
}

func TestTickDrivesProposalToCompletedMission(t *testing.T) {
	f := newEngineFixture(t)
	projectID := f.seedProject(t)
	ctx := context.Background()

	if _, err := f.proposals.Create(ctx, proposal.CreateRequest{
		ProjectID:   projectID,
		Title:       "Fix the flaky login test",
		Priority:    proposal.PriorityLow,
		AutoApprove: true,
	}); err != nil {
		t.Fatalf("Create proposal: %v", err)
	}

	// Tick 1: auto-approve spawns the mission and dispatch runs the default
	// breakdown. Test and review share the single QA agent, so one of them
	// waits for the next pass.
	s1, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if s1.AutoApproved != 1 {
		t.Fatalf("auto approved = %d, want 1", s1.AutoApproved)
	}
	if s1.Dispatched != 3 {
		t.Fatalf("dispatched = %d, want 3", s1.Dispatched)
	}
	if s1.StepsCompleted != 3 || s1.StepsFailed != 0 {
		t.Fatalf("steps completed/failed = %d/%d, want 3/0", s1.StepsCompleted, s1.StepsFailed)
	}

	// Tick 2: the remaining step runs and the mission settles.
	s2, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if s2.Dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", s2.Dispatched)
	}
	if s2.MissionsCompleted != 1 {
		t.Fatalf("missions completed = %d, want 1", s2.MissionsCompleted)
	}
	if s2.StepsCompleted != 1 {
		t.Fatalf("steps completed = %d, want 1", s2.StepsCompleted)
	}

	missions, _ := f.store.ListMissions(ctx, database.MissionFilter{ProjectID: projectID})
	if len(missions) != 1 || missions[0].Status != mission.StatusCompleted {
		t.Fatalf("mission not completed: %+v", missions)
	}

	// Tick 3: nothing left to do.
	s3, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	if s3.AutoApproved+s3.Dispatched+s3.MissionsCompleted+s3.MissionsFailed != 0 {
		t.Errorf("idle tick did work: %+v", s3)
	}
}

func TestTickFailsMissionWhenStepExhaustsRetries(t *testing.T) {
	f := newEngineFixture(t)
	projectID := f.seedProject(t)
	f.exec.result = executor.Result{Success: false, Error: "segfault"}
	ctx := context.Background()

	m := &mission.Mission{ProjectID: projectID, Title: "Doomed"}
	if err := f.store.CreateMission(ctx, m, []step.CreateRequest{{
		Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60, MaxRetries: 1,
	}}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	// Two passes: requeue, then terminal failure and mission settles.
	s1, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if s1.StepsFailed != 0 {
		t.Fatalf("steps failed = %d on the requeue pass, want 0", s1.StepsFailed)
	}
	s2, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if s2.MissionsFailed != 1 {
		t.Fatalf("missions failed = %d, want 1", s2.MissionsFailed)
	}
	if s2.StepsFailed != 1 {
		t.Fatalf("steps failed = %d, want 1", s2.StepsFailed)
	}

	got, _ := f.store.GetMission(ctx, m.ID)
	if got.Status != mission.StatusFailed {
		t.Errorf("mission status = %s, want failed", got.Status)
	}
}

func TestTickReclaimsStaleClaims(t *testing.T) {
	f := newEngineFixture(t)
	projectID := f.seedProject(t)
	ctx := context.Background()

	m := &mission.Mission{ProjectID: projectID, Title: "Stalled"}
	if err := f.store.CreateMission(ctx, m, []step.CreateRequest{{
		Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 30, MaxRetries: 1,
	}}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	// Claim the step and age the claim past its timeout.
	agents, _ := f.store.ListAgents(ctx, projectID)
	var dev string
	for _, a := range agents {
		if a.Role == agent.RoleDeveloper {
			dev = a.ID
		}
	}
	steps, _ := f.store.ListSteps(ctx, database.StepFilter{MissionID: m.ID})
	res, err := f.store.ClaimStep(ctx, steps[0].ID, dev, "stale-token")
	if err != nil || res != step.ClaimWon {
		t.Fatalf("ClaimStep: res=%s err=%v", res, err)
	}
	f.store.mu.Lock()
	old := time.Now().Add(-time.Hour)
	f.store.steps[0].ClaimedAt = &old
	f.store.mu.Unlock()

	summary, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if summary.Requeued != 1 {
		t.Fatalf("requeued = %d, want 1", summary.Requeued)
	}
	// The same pass re-dispatches the recovered step.
	if summary.Dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", summary.Dispatched)
	}
}

func TestTickFiresTriggersOnce(t *testing.T) {
	f := newEngineFixture(t)
	projectID := f.seedProject(t)
	ctx := context.Background()

	if _, err := f.triggers.Create(ctx, trigger.CreateRequest{
		ProjectID:      projectID,
		Name:           "security review after implementation",
		SourceStepType: step.TypeImplement,
		TargetStepType: step.TypeSecurity,
	}); err != nil {
		t.Fatalf("Create trigger: %v", err)
	}

	m := &mission.Mission{ProjectID: projectID, Title: "Chained"}
	if err := f.store.CreateMission(ctx, m, []step.CreateRequest{{
		Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60,
	}}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	// Tick 1: implement completes and the trigger appends a security step;
	// the mission must stay open.
	s1, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if s1.TriggersFired != 1 {
		t.Fatalf("triggers fired = %d, want 1", s1.TriggersFired)
	}
	if s1.MissionsCompleted != 0 {
		t.Fatalf("mission settled with a freshly chained step pending")
	}

	steps, _ := f.store.ListSteps(ctx, database.StepFilter{MissionID: m.ID})
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}

	// Tick 2: the security step runs; the firing record keeps the trigger
	// from firing again for the same source step.
	s2, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if s2.TriggersFired != 0 {
		t.Errorf("triggers fired = %d, want 0 on re-evaluation", s2.TriggersFired)
	}
	if s2.MissionsCompleted != 1 {
		t.Errorf("missions completed = %d, want 1", s2.MissionsCompleted)
	}
}

func TestTickExpiresStaleProposals(t *testing.T) {
	f := newEngineFixture(t)
	projectID := f.seedProject(t)
	ctx := context.Background()

	p, err := f.proposals.Create(ctx, proposal.CreateRequest{
		ProjectID: projectID,
		Title:     "Rewrite everything in a new framework",
	})
	if err != nil {
		t.Fatalf("Create proposal: %v", err)
	}
	f.store.mu.Lock()
	for i := range f.store.proposals {
		if f.store.proposals[i].ID == p.ID {
			f.store.proposals[i].CreatedAt = time.Now().Add(-48 * time.Hour)
		}
	}
	f.store.mu.Unlock()

	summary, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if summary.ProposalsExpired != 1 {
		t.Fatalf("proposals expired = %d, want 1", summary.ProposalsExpired)
	}

	got, _ := f.store.GetProposal(ctx, p.ID)
	if got.Status != proposal.StatusExpired {
		t.Errorf("proposal status = %s, want expired", got.Status)
	}
}

func TestTickCancelsMissionWhenAllStepsCancelled(t *testing.T) {
	f := newEngineFixture(t)
	projectID := f.seedProject(t)
	ctx := context.Background()

	m := &mission.Mission{ProjectID: projectID, Title: "Abandoned"}
	if err := f.store.CreateMission(ctx, m, []step.CreateRequest{
		{Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60},
		{Type: step.TypeTest, Title: "Test", TimeoutSeconds: 60},
	}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	steps, _ := f.store.ListSteps(ctx, database.StepFilter{MissionID: m.ID})
	for _, st := range steps {
		if err := f.store.CancelStep(ctx, st.ID); err != nil {
			t.Fatalf("CancelStep: %v", err)
		}
	}

	summary, err := f.orch.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// Nothing ran to completion, so the mission settles as cancelled.
	if summary.MissionsCompleted != 0 {
		t.Fatalf("missions completed = %d, want 0", summary.MissionsCompleted)
	}

	got, _ := f.store.GetMission(ctx, m.ID)
	if got.Status != mission.StatusCancelled {
		t.Errorf("mission status = %s, want cancelled", got.Status)
	}
}
