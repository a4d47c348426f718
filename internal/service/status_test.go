package service

import (
	"context"
	"testing"
	"time"

	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/project"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

func TestOverviewCountsAndCaches(t *testing.T) {
	store := newMockStore()
	c := newMockCache()
	svc := NewStatusService(store, c, time.Minute, testEngine())
	ctx := context.Background()

	p := &project.Project{Name: "Demo", Slug: "demo"}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	a := &agent.Agent{ProjectID: p.ID, Name: "dev-1", Role: agent.RoleDeveloper, Status: agent.StatusActive}
	if err := store.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	m := &mission.Mission{ProjectID: p.ID, Title: "Work"}
	if err := store.CreateMission(ctx, m, []step.CreateRequest{
		{Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60},
	}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	counts, err := svc.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if counts.Projects != 1 || counts.Agents != 1 || counts.ActiveMissions != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if counts.AvailableAgents != 1 {
		t.Errorf("available agents = %d, want 1", counts.AvailableAgents)
	}
	if counts.StepsByStatus["pending"] != 1 {
		t.Errorf("pending steps = %d, want 1", counts.StepsByStatus["pending"])
	}

	// A second read comes from the cache and misses store changes.
	if err := store.CreateProject(ctx, &project.Project{Name: "Other", Slug: "other"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	cached, err := svc.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if cached.Projects != 1 {
		t.Errorf("cached projects = %d, want the cached value 1", cached.Projects)
	}
}

func TestOverviewCountsStaleClaims(t *testing.T) {
	store := newMockStore()
	svc := NewStatusService(store, newMockCache(), time.Minute, testEngine())
	ctx := context.Background()

	p := &project.Project{Name: "Demo", Slug: "demo"}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	a := &agent.Agent{ProjectID: p.ID, Name: "dev-1", Role: agent.RoleDeveloper, Status: agent.StatusActive}
	if err := store.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	m := &mission.Mission{ProjectID: p.ID, Title: "Work"}
	if err := store.CreateMission(ctx, m, []step.CreateRequest{
		{Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60},
	}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	steps, _ := store.ListSteps(ctx, database.StepFilter{MissionID: m.ID})
	if res, err := store.ClaimStep(ctx, steps[0].ID, a.ID, "tok"); err != nil || res != step.ClaimWon {
		t.Fatalf("ClaimStep: res=%s err=%v", res, err)
	}
	store.mu.Lock()
	old := time.Now().Add(-time.Hour)
	store.steps[0].ClaimedAt = &old
	store.mu.Unlock()

	counts, err := svc.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if counts.StaleClaims != 1 {
		t.Errorf("stale claims = %d, want 1", counts.StaleClaims)
	}
	// The claim holder is no longer available.
	if counts.AvailableAgents != 0 {
		t.Errorf("available agents = %d, want 0", counts.AvailableAgents)
	}
}

func TestOverviewCountsStuckMissions(t *testing.T) {
	store := newMockStore()
	svc := NewStatusService(store, newMockCache(), time.Minute, testEngine())
	ctx := context.Background()

	p := &project.Project{Name: "Demo", Slug: "demo"}
	if err := store.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	// Stuck: still active, its only step cancelled, nothing completed.
	stuck := &mission.Mission{ProjectID: p.ID, Title: "Stuck"}
	if err := store.CreateMission(ctx, stuck, []step.CreateRequest{
		{Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60},
	}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	steps, _ := store.ListSteps(ctx, database.StepFilter{MissionID: stuck.ID})
	if err := store.CancelStep(ctx, steps[0].ID); err != nil {
		t.Fatalf("CancelStep: %v", err)
	}

	// Healthy: active with a pending step.
	healthy := &mission.Mission{ProjectID: p.ID, Title: "Healthy"}
	if err := store.CreateMission(ctx, healthy, []step.CreateRequest{
		{Type: step.TypeImplement, Title: "Implement", TimeoutSeconds: 60},
	}); err != nil {
		t.Fatalf("CreateMission: %v", err)
	}

	counts, err := svc.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if counts.StuckMissions != 1 {
		t.Errorf("stuck missions = %d, want 1", counts.StuckMissions)
	}
}
