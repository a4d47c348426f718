package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentloop/agentloop/internal/adapter/otel"
	"github.com/agentloop/agentloop/internal/config"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/project"
	"github.com/agentloop/agentloop/internal/domain/proposal"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/domain/trigger"
	"github.com/agentloop/agentloop/internal/port/broadcast"
	"github.com/agentloop/agentloop/internal/port/cache"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/executor"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store        = (*mockStore)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
	_ cache.Cache           = (*mockCache)(nil)
	_ executor.Executor     = (*mockExecutor)(nil)
)

func testEngine() config.Engine {
	return config.Engine{
		TickInterval:        time.Second,
		DispatchBatch:       10,
		DispatchConcurrency: 4,
		StepTimeout:         5 * time.Second,
		StepMaxRetries:      2,
		ProposalTTL:         24 * time.Hour,
		EventRetention:      24 * time.Hour,
		StuckMissionAfter:   time.Hour,
		HeartbeatTimeout:    time.Minute,
	}
}

// testMetrics builds instruments against the global (no-op) meter.
func testMetrics(t *testing.T) *otel.Metrics {
	t.Helper()
	m, err := otel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// mockStore is an in-memory implementation of database.Store. The claim
// protocol and the transition guards mirror the SQL adapter so concurrency
// behavior can be tested without a database.
type mockStore struct {
	mu        sync.Mutex
	seq       int
	projects  []project.Project
	agents    []agent.Agent
	proposals []proposal.Proposal
	missions  []mission.Mission
	steps     []step.Step
	triggers  []trigger.Trigger
	firings   map[string]map[string]bool // stepID -> triggerID -> fired

	// Error hooks. Set these to inject failures.
	listDispatchableErr error
	claimErr            error
	reclaimErr          error
}

func newMockStore() *mockStore {
	return &mockStore{firings: make(map[string]map[string]bool)}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// --- Projects ---

func (m *mockStore) ListProjects(_ context.Context) ([]project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]project.Project(nil), m.projects...), nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == id {
			p := m.projects[i]
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetProjectBySlug(_ context.Context, slug string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].Slug == slug {
			p := m.projects[i]
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID("proj")
	p.Version = 1
	p.CreatedAt = time.Now()
	m.projects = append(m.projects, *p)
	return nil
}

func (m *mockStore) UpdateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == p.ID {
			if m.projects[i].Version != p.Version {
				return domain.ErrConflict
			}
			p.Version++
			m.projects[i] = *p
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == id {
			m.projects = append(m.projects[:i], m.projects[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// --- Agents ---

func (m *mockStore) ListAgents(_ context.Context, projectID string) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for i := range m.agents {
		if projectID == "" || m.agents[i].ProjectID == projectID {
			out = append(out, m.agents[i])
		}
	}
	return out, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == id {
			a := m.agents[i]
			return &a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID("agent")
	a.Version = 1
	a.CreatedAt = time.Now()
	m.agents = append(m.agents, *a)
	return nil
}

func (m *mockStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == id {
			m.agents[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) TouchAgentHeartbeat(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == id {
			m.agents[i].LastHeartbeat = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].ID == id {
			m.agents = append(m.agents[:i], m.agents[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// hasLiveClaim reports whether the agent currently holds a claimed or
// running step. Callers must hold m.mu.
func (m *mockStore) hasLiveClaim(agentID string) bool {
	for i := range m.steps {
		if m.steps[i].ClaimedBy == agentID &&
			(m.steps[i].Status == step.StatusClaimed || m.steps[i].Status == step.StatusRunning) {
			return true
		}
	}
	return false
}

func (m *mockStore) LeastRecentlyDispatchedAgent(_ context.Context, projectID string, role agent.Role) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *agent.Agent
	for i := range m.agents {
		a := &m.agents[i]
		if a.ProjectID != projectID || a.Role != role || a.Status != agent.StatusActive {
			continue
		}
		if m.hasLiveClaim(a.ID) {
			continue
		}
		if best == nil {
			best = a
			continue
		}
		switch {
		case a.LastDispatched == nil && best.LastDispatched != nil:
			best = a
		case a.LastDispatched != nil && best.LastDispatched != nil && a.LastDispatched.Before(*best.LastDispatched):
			best = a
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	out := *best
	return &out, nil
}

// --- Proposals ---

func (m *mockStore) ListProposals(_ context.Context, f database.ProposalFilter) ([]proposal.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []proposal.Proposal
	for i := range m.proposals {
		p := m.proposals[i]
		if f.ProjectID != "" && p.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStore) GetProposal(_ context.Context, id string) (*proposal.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.proposals {
		if m.proposals[i].ID == id {
			p := m.proposals[i]
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateProposal(_ context.Context, p *proposal.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID("prop")
	p.Version = 1
	p.CreatedAt = time.Now()
	m.proposals = append(m.proposals, *p)
	return nil
}

func (m *mockStore) ApproveProposal(_ context.Context, id, reviewedBy string, steps []step.CreateRequest) (*mission.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.proposals {
		p := &m.proposals[i]
		if p.ID != id {
			continue
		}
		if p.Status != proposal.StatusPending {
			return nil, domain.ErrConflict
		}
		now := time.Now()
		p.Status = proposal.StatusApproved
		p.ReviewedBy = reviewedBy
		p.ReviewedAt = &now

		ms := mission.Mission{
			ID:          m.nextID("mission"),
			ProjectID:   p.ProjectID,
			ProposalID:  p.ID,
			Title:       p.Title,
			Description: p.Description,
			Status:      mission.StatusPlanned,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m.missions = append(m.missions, ms)
		for _, req := range steps {
			m.insertStep(ms.ID, req)
		}
		out := ms
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) RejectProposal(_ context.Context, id, reviewedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.proposals {
		p := &m.proposals[i]
		if p.ID != id {
			continue
		}
		if p.Status != proposal.StatusPending {
			return domain.ErrConflict
		}
		now := time.Now()
		p.Status = proposal.StatusRejected
		p.ReviewedBy = reviewedBy
		p.ReviewedAt = &now
		return nil
	}
	return domain.ErrNotFound
}

func (m *mockStore) ExpireProposals(_ context.Context, cutoff time.Time) ([]proposal.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []proposal.Proposal
	for i := range m.proposals {
		p := &m.proposals[i]
		if p.Status == proposal.StatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = proposal.StatusExpired
			expired = append(expired, *p)
		}
	}
	return expired, nil
}

// --- Missions ---

func (m *mockStore) ListMissions(_ context.Context, f database.MissionFilter) ([]mission.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mission.Mission
	for i := range m.missions {
		ms := m.missions[i]
		if f.ProjectID != "" && ms.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && ms.Status != f.Status {
			continue
		}
		out = append(out, ms)
	}
	return out, nil
}

func (m *mockStore) ListActiveMissions(_ context.Context) ([]mission.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mission.Mission
	for i := range m.missions {
		if m.missions[i].Status == mission.StatusPlanned || m.missions[i].Status == mission.StatusActive {
			out = append(out, m.missions[i])
		}
	}
	return out, nil
}

func (m *mockStore) GetMission(_ context.Context, id string) (*mission.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getMissionLocked(id)
}

func (m *mockStore) getMissionLocked(id string) (*mission.Mission, error) {
	for i := range m.missions {
		if m.missions[i].ID == id {
			ms := m.missions[i]
			return &ms, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateMission(_ context.Context, ms *mission.Mission, steps []step.CreateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms.ID = m.nextID("mission")
	ms.Status = mission.StatusPlanned
	ms.Version = 1
	ms.CreatedAt = time.Now()
	ms.UpdatedAt = ms.CreatedAt
	m.missions = append(m.missions, *ms)
	for _, req := range steps {
		m.insertStep(ms.ID, req)
	}
	return nil
}

func (m *mockStore) finishMission(id string, status mission.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.missions {
		ms := &m.missions[i]
		if ms.ID != id {
			continue
		}
		if ms.Status != mission.StatusPlanned && ms.Status != mission.StatusActive {
			return domain.ErrConflict
		}
		now := time.Now()
		ms.Status = status
		ms.CompletedAt = &now
		ms.UpdatedAt = now
		return nil
	}
	return domain.ErrNotFound
}

func (m *mockStore) CompleteMission(ctx context.Context, id string) error {
	return m.finishMission(id, mission.StatusCompleted)
}

func (m *mockStore) FailMission(ctx context.Context, id string) error {
	return m.finishMission(id, mission.StatusFailed)
}

func (m *mockStore) CancelMission(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.missions {
		ms := &m.missions[i]
		if ms.ID != id {
			continue
		}
		if ms.Status != mission.StatusPlanned && ms.Status != mission.StatusActive {
			return domain.ErrConflict
		}
		ms.Status = mission.StatusCancelled
		for j := range m.steps {
			st := &m.steps[j]
			if st.MissionID == id && !st.Terminal() {
				st.Status = step.StatusCancelled
				st.ClaimToken = ""
			}
		}
		return nil
	}
	return domain.ErrNotFound
}

// --- Steps ---

func (m *mockStore) insertStep(missionID string, req step.CreateRequest) *step.Step {
	st := step.Step{
		ID:             m.nextID("step"),
		MissionID:      missionID,
		Type:           req.Type,
		Title:          req.Title,
		Description:    req.Description,
		Status:         step.StatusPending,
		OrderIndex:     req.OrderIndex,
		TimeoutSeconds: req.TimeoutSeconds,
		MaxRetries:     req.MaxRetries,
		CreatedAt:      time.Now(),
	}
	m.steps = append(m.steps, st)
	return &m.steps[len(m.steps)-1]
}

func (m *mockStore) ListSteps(_ context.Context, f database.StepFilter) ([]step.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []step.Step
	for i := range m.steps {
		st := m.steps[i]
		if f.MissionID != "" && st.MissionID != f.MissionID {
			continue
		}
		if f.Status != "" && st.Status != f.Status {
			continue
		}
		if f.Type != "" && st.Type != f.Type {
			continue
		}
		if f.ClaimedBy != "" && st.ClaimedBy != f.ClaimedBy {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (m *mockStore) GetStep(_ context.Context, id string) (*step.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		if m.steps[i].ID == id {
			st := m.steps[i]
			return &st, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateStep(_ context.Context, s *step.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, err := m.getMissionLocked(s.MissionID)
	if err != nil {
		return err
	}
	if ms.Terminal() {
		return domain.ErrConflict
	}
	created := m.insertStep(s.MissionID, step.CreateRequest{
		Type: s.Type, Title: s.Title, Description: s.Description,
		OrderIndex: s.OrderIndex, TimeoutSeconds: s.TimeoutSeconds, MaxRetries: s.MaxRetries,
	})
	*s = *created
	return nil
}

func (m *mockStore) ListDispatchableSteps(_ context.Context, limit int) ([]step.Step, error) {
	if m.listDispatchableErr != nil {
		return nil, m.listDispatchableErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []step.Step
	for i := range m.steps {
		st := m.steps[i]
		if st.Status != step.StatusPending {
			continue
		}
		ms, err := m.getMissionLocked(st.MissionID)
		if err != nil || ms.Terminal() {
			continue
		}
		out = append(out, st)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) ClaimStep(_ context.Context, stepID, agentID, token string) (step.ClaimResult, error) {
	if m.claimErr != nil {
		return step.ClaimLost, m.claimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		st := &m.steps[i]
		if st.ID != stepID {
			continue
		}
		if st.Status != step.StatusPending {
			return step.ClaimLost, nil
		}
		ms, err := m.getMissionLocked(st.MissionID)
		if err != nil || ms.Terminal() {
			return step.ClaimLost, nil
		}
		var claimant *agent.Agent
		for j := range m.agents {
			if m.agents[j].ID == agentID {
				claimant = &m.agents[j]
				break
			}
		}
		if claimant == nil || claimant.Status != agent.StatusActive || claimant.ProjectID != ms.ProjectID {
			return step.ClaimLost, nil
		}
		if m.hasLiveClaim(agentID) {
			return step.ClaimLost, nil
		}

		now := time.Now()
		st.Status = step.StatusClaimed
		st.ClaimedBy = agentID
		st.ClaimToken = token
		st.ClaimedAt = &now
		claimant.LastDispatched = &now
		if ms.Status == mission.StatusPlanned {
			for j := range m.missions {
				if m.missions[j].ID == ms.ID {
					m.missions[j].Status = mission.StatusActive
					m.missions[j].UpdatedAt = now
				}
			}
		}
		return step.ClaimWon, nil
	}
	return step.ClaimLost, domain.ErrNotFound
}

func (m *mockStore) StartStep(_ context.Context, stepID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		st := &m.steps[i]
		if st.ID != stepID {
			continue
		}
		if st.Status != step.StatusClaimed || st.ClaimToken != token {
			return domain.ErrConflict
		}
		now := time.Now()
		st.Status = step.StatusRunning
		st.StartedAt = &now
		return nil
	}
	return domain.ErrNotFound
}

func (m *mockStore) CompleteStep(_ context.Context, stepID, token, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		st := &m.steps[i]
		if st.ID != stepID {
			continue
		}
		if (st.Status != step.StatusClaimed && st.Status != step.StatusRunning) || st.ClaimToken != token {
			return domain.ErrConflict
		}
		now := time.Now()
		st.Status = step.StatusCompleted
		st.Result = result
		st.ClaimToken = ""
		st.FinishedAt = &now
		return nil
	}
	return domain.ErrNotFound
}

func (m *mockStore) FailStep(_ context.Context, stepID, token, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		st := &m.steps[i]
		if st.ID != stepID {
			continue
		}
		if (st.Status != step.StatusClaimed && st.Status != step.StatusRunning) || st.ClaimToken != token {
			return false, domain.ErrConflict
		}
		return m.failStepLocked(st, errMsg), nil
	}
	return false, domain.ErrNotFound
}

// failStepLocked applies the retry policy. Callers must hold m.mu.
func (m *mockStore) failStepLocked(st *step.Step, errMsg string) bool {
	st.Error = errMsg
	if st.RetryCount < st.MaxRetries {
		st.RetryCount++
		st.Status = step.StatusPending
		st.ClaimedBy = ""
		st.ClaimToken = ""
		st.ClaimedAt = nil
		st.StartedAt = nil
		return true
	}
	now := time.Now()
	st.Status = step.StatusFailed
	st.ClaimToken = ""
	st.FinishedAt = &now
	return false
}

func (m *mockStore) ReleaseStep(_ context.Context, stepID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		st := &m.steps[i]
		if st.ID != stepID {
			continue
		}
		if st.Status != step.StatusClaimed || st.ClaimToken != token {
			return domain.ErrConflict
		}
		st.Status = step.StatusPending
		st.ClaimedBy = ""
		st.ClaimToken = ""
		st.ClaimedAt = nil
		return nil
	}
	return domain.ErrNotFound
}

func (m *mockStore) CancelStep(_ context.Context, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		st := &m.steps[i]
		if st.ID != stepID {
			continue
		}
		if st.Terminal() {
			return domain.ErrConflict
		}
		st.Status = step.StatusCancelled
		st.ClaimToken = ""
		return nil
	}
	return domain.ErrNotFound
}

func (m *mockStore) ReclaimStaleSteps(_ context.Context, now time.Time) (*database.ReclaimOutcome, error) {
	if m.reclaimErr != nil {
		return nil, m.reclaimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := &database.ReclaimOutcome{}
	for i := range m.steps {
		st := &m.steps[i]
		if st.Status != step.StatusClaimed && st.Status != step.StatusRunning {
			continue
		}
		if st.ClaimedAt == nil {
			continue
		}
		deadline := st.ClaimedAt.Add(time.Duration(st.TimeoutSeconds) * time.Second)
		if !deadline.Before(now) {
			continue
		}
		if m.failStepLocked(st, "claim expired") {
			outcome.Requeued = append(outcome.Requeued, *st)
		} else {
			outcome.Failed = append(outcome.Failed, *st)
		}
	}
	return outcome, nil
}

// --- Triggers ---

func (m *mockStore) ListTriggers(_ context.Context, projectID string) ([]trigger.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []trigger.Trigger
	for i := range m.triggers {
		t := m.triggers[i]
		if projectID == "" || t.ProjectID == "" || t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) ListEnabledTriggers(_ context.Context, projectID string) ([]trigger.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []trigger.Trigger
	for i := range m.triggers {
		t := m.triggers[i]
		if !t.Enabled {
			continue
		}
		if t.ProjectID == "" || t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) GetTrigger(_ context.Context, id string) (*trigger.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.triggers {
		if m.triggers[i].ID == id {
			t := m.triggers[i]
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) CreateTrigger(_ context.Context, t *trigger.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID("trig")
	t.Version = 1
	t.CreatedAt = time.Now()
	m.triggers = append(m.triggers, *t)
	return nil
}

func (m *mockStore) UpdateTrigger(_ context.Context, t *trigger.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.triggers {
		if m.triggers[i].ID == t.ID {
			m.triggers[i] = *t
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) SetTriggerEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.triggers {
		if m.triggers[i].ID == id {
			m.triggers[i].Enabled = enabled
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) DeleteTrigger(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.triggers {
		if m.triggers[i].ID == id {
			m.triggers = append(m.triggers[:i], m.triggers[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) CreateStepFromTrigger(_ context.Context, t *trigger.Trigger, source *step.Step, target step.CreateRequest) (*step.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firings[source.ID] == nil {
		m.firings[source.ID] = make(map[string]bool)
	}
	if m.firings[source.ID][t.ID] {
		return nil, nil
	}
	ms, err := m.getMissionLocked(source.MissionID)
	if err != nil {
		return nil, err
	}
	if ms.Terminal() {
		return nil, domain.ErrConflict
	}
	m.firings[source.ID][t.ID] = true
	created := *m.insertStep(source.MissionID, target)
	now := time.Now()
	for i := range m.triggers {
		if m.triggers[i].ID == t.ID {
			m.triggers[i].LastFiredAt = &now
		}
	}
	return &created, nil
}

// --- Maintenance ---

func (m *mockStore) TrimEvents(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (m *mockStore) CountsByStatus(_ context.Context, staleCutoff time.Time) (*database.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := &database.StatusCounts{
		Projects:      len(m.projects),
		Agents:        len(m.agents),
		StepsByStatus: make(map[string]int),
	}
	for i := range m.agents {
		if m.agents[i].Status == agent.StatusActive && !m.hasLiveClaim(m.agents[i].ID) {
			counts.AvailableAgents++
		}
	}
	for i := range m.proposals {
		if m.proposals[i].Status == proposal.StatusPending {
			counts.PendingProposals++
		}
	}
	for i := range m.missions {
		if m.missions[i].Status == mission.StatusPlanned || m.missions[i].Status == mission.StatusActive {
			counts.ActiveMissions++
		}
	}
	for i := range m.steps {
		st := &m.steps[i]
		counts.StepsByStatus[string(st.Status)]++
		if (st.Status == step.StatusClaimed || st.Status == step.StatusRunning) &&
			st.ClaimedAt != nil && st.ClaimedAt.Before(staleCutoff) {
			counts.StaleClaims++
		}
	}
	for i := range m.missions {
		if m.missions[i].Status != mission.StatusActive {
			continue
		}
		live, anyCompleted := false, false
		for j := range m.steps {
			if m.steps[j].MissionID != m.missions[i].ID {
				continue
			}
			switch m.steps[j].Status {
			case step.StatusPending, step.StatusClaimed, step.StatusRunning:
				live = true
			case step.StatusCompleted:
				anyCompleted = true
			}
		}
		if !live && !anyCompleted {
			counts.StuckMissions++
		}
	}
	return counts, nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) Close() {}

// --- Queue, broadcaster, cache, executor mocks ---

type publishedMsg struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	publishErr error
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMsg{subject, data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) countSubject(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.published {
		if p.subject == subject {
			n++
		}
	}
	return n
}

type broadcastRecord struct {
	eventType string
	payload   any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastRecord{eventType, payload})
}

func (m *mockBroadcaster) countType(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

type mockCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{items: make(map[string][]byte)}
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// mockExecutor returns canned results, optionally per step type.
type mockExecutor struct {
	mu      sync.Mutex
	calls   []executor.Request
	result  executor.Result
	err     error
	byType  map[string]executor.Result
	block   time.Duration // simulated execution time, honors ctx cancellation
}

func (m *mockExecutor) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, *req)
	m.mu.Unlock()

	if m.block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.block):
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.byType[req.StepType]; ok {
		out := r
		return &out, nil
	}
	out := m.result
	if out.Output == "" && !out.Success && out.Error == "" {
		out = executor.Result{Success: true, Output: "done"}
	}
	return &out, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
