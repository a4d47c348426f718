package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/project"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

type stepAPIFixture struct {
	store   *mockStore
	hub     *mockBroadcaster
	svc     *StepService
	agentID string
	stepID  string
}

func newStepAPIFixture(t *testing.T) *stepAPIFixture {
	t.Helper()
	store := newMockStore()
	queue := &mockQueue{}
	hub := &mockBroadcaster{}
	eng := testEngine()
	worker := NewWorkerService(store, &mockExecutor{}, queue, hub, testMetrics(t), eng)

	f := &stepAPIFixture{
		store: store,
		hub:   hub,
		svc:   NewStepService(store, worker, eng),
	}

	ctx := context.Background()
	p := &project.Project{Name: "Demo", Slug: "demo"}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	a := &agent.Agent{ProjectID: p.ID, Name: "dev-1", Role: agent.RoleDeveloper, Status: agent.StatusActive}
	if err := store.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	f.agentID = a.ID

	m := &mission.Mission{ProjectID: p.ID, Title: "External work"}
	if err := store.CreateMission(ctx, m, []step.CreateRequest{{
		Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60, MaxRetries: 1,
	}}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	steps, _ := store.ListSteps(ctx, database.StepFilter{MissionID: m.ID})
	f.stepID = steps[0].ID
	return f
}

func TestClaimIssuesToken(t *testing.T) {
	f := newStepAPIFixture(t)

	st, token, err := f.svc.Claim(context.Background(), f.stepID, f.agentID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if token == "" {
		t.Fatal("empty claim token")
	}
	if st.Status != step.StatusClaimed {
		t.Errorf("status = %s, want claimed", st.Status)
	}
	if st.ClaimedBy != f.agentID {
		t.Errorf("claimed_by = %s, want %s", st.ClaimedBy, f.agentID)
	}
}

func TestClaimLostYieldsConflict(t *testing.T) {
	f := newStepAPIFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.Claim(ctx, f.stepID, f.agentID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, _, err := f.svc.Claim(ctx, f.stepID, f.agentID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second claim err = %v, want conflict", err)
	}
}

func TestTransitionsRequireMatchingToken(t *testing.T) {
	f := newStepAPIFixture(t)
	ctx := context.Background()

	_, token, err := f.svc.Claim(ctx, f.stepID, f.agentID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if _, err := f.svc.Start(ctx, f.stepID, "forged-token"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("start with forged token err = %v, want conflict", err)
	}

	st, err := f.svc.Start(ctx, f.stepID, token)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.Status != step.StatusRunning {
		t.Errorf("status = %s, want running", st.Status)
	}

	if _, err := f.svc.Complete(ctx, f.stepID, "forged-token", "x"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("complete with forged token err = %v, want conflict", err)
	}

	st, err = f.svc.Complete(ctx, f.stepID, token, "shipped")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if st.Status != step.StatusCompleted || st.Result != "shipped" {
		t.Errorf("after complete: %+v", st)
	}

	// A settled step accepts no further transitions, even with the old token.
	if _, err := f.svc.Complete(ctx, f.stepID, token, "again"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("double complete err = %v, want conflict", err)
	}
}

func TestFailRequeuesWhileRetriesRemain(t *testing.T) {
	f := newStepAPIFixture(t)
	ctx := context.Background()

	_, token, err := f.svc.Claim(ctx, f.stepID, f.agentID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	st, requeued, err := f.svc.Fail(ctx, f.stepID, token, "flaky network")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if !requeued {
		t.Fatal("requeued = false, want true on first failure")
	}
	if st.Status != step.StatusPending || st.RetryCount != 1 {
		t.Fatalf("after requeue: status=%s retries=%d", st.Status, st.RetryCount)
	}
	if st.ClaimedBy != "" {
		t.Errorf("claim not cleared on requeue")
	}

	// Second failure exhausts the budget.
	_, token, err = f.svc.Claim(ctx, f.stepID, f.agentID)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	st, requeued, err = f.svc.Fail(ctx, f.stepID, token, "still flaky")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if requeued {
		t.Fatal("requeued = true after retry budget exhausted")
	}
	if st.Status != step.StatusFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
	// The terminal failure does not consume another retry.
	if st.RetryCount != st.MaxRetries {
		t.Errorf("retry count = %d, want %d", st.RetryCount, st.MaxRetries)
	}
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	f := newStepAPIFixture(t)
	ctx := context.Background()

	// One rival agent per goroutine, all racing for the same pending step.
	const rivals = 16
	p, _ := f.store.ListProjects(ctx)
	agentIDs := make([]string, 0, rivals)
	for i := 0; i < rivals; i++ {
		a := &agent.Agent{
			ProjectID: p[0].ID,
			Name:      fmt.Sprintf("dev-%d", i+2),
			Role:      agent.RoleDeveloper,
			Status:    agent.StatusActive,
		}
		if err := f.store.CreateAgent(ctx, a); err != nil {
			t.Fatalf("CreateAgent: %v", err)
		}
		agentIDs = append(agentIDs, a.ID)
	}

	var wg sync.WaitGroup
	results := make([]error, rivals)
	for i, id := range agentIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, _, results[i] = f.svc.Claim(ctx, f.stepID, id)
		}(i, id)
	}
	wg.Wait()

	var won int
	for i, err := range results {
		switch {
		case err == nil:
			won++
		case !errors.Is(err, domain.ErrConflict):
			t.Errorf("loser %d got %v, want conflict", i, err)
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}

	st, err := f.store.GetStep(ctx, f.stepID)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if st.Status != step.StatusClaimed || st.ClaimToken == "" {
		t.Errorf("after race: status=%s token=%q", st.Status, st.ClaimToken)
	}
}

func TestReleaseReturnsStepWithoutConsumingRetry(t *testing.T) {
	f := newStepAPIFixture(t)
	ctx := context.Background()

	_, token, err := f.svc.Claim(ctx, f.stepID, f.agentID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	st, err := f.svc.Release(ctx, f.stepID, token)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if st.Status != step.StatusPending {
		t.Errorf("status = %s, want pending", st.Status)
	}
	if st.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", st.RetryCount)
	}

	// The step is claimable again.
	if _, _, err := f.svc.Claim(ctx, f.stepID, f.agentID); err != nil {
		t.Errorf("claim after release: %v", err)
	}
}

func TestReleaseRunningStepConflicts(t *testing.T) {
	f := newStepAPIFixture(t)
	ctx := context.Background()

	_, token, err := f.svc.Claim(ctx, f.stepID, f.agentID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Start(ctx, f.stepID, token); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := f.svc.Release(ctx, f.stepID, token); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("release of running step err = %v, want conflict", err)
	}
}

func TestCancelStep(t *testing.T) {
	f := newStepAPIFixture(t)

	st, err := f.svc.Cancel(context.Background(), f.stepID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if st.Status != step.StatusCancelled {
		t.Errorf("status = %s, want cancelled", st.Status)
	}

	if _, err := f.svc.Cancel(context.Background(), f.stepID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("double cancel err = %v, want conflict", err)
	}
}
