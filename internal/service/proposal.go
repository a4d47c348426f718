package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentloop/agentloop/internal/adapter/ws"
	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/proposal"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/broadcast"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
)

// AutoReviewer is recorded as the reviewer on auto-approved proposals.
const AutoReviewer = "auto-approval"

// ProposalService handles the proposal lifecycle: filing, review, and the
// approval pipeline that spawns missions.
type ProposalService struct {
	store  database.Store
	queue  messagequeue.Queue
	hub    broadcast.Broadcaster
	engine config.Engine
}

// NewProposalService creates a new ProposalService.
func NewProposalService(store database.Store, queue messagequeue.Queue, hub broadcast.Broadcaster, engine config.Engine) *ProposalService {
	return &ProposalService{store: store, queue: queue, hub: hub, engine: engine}
}

// List returns proposals filtered by project and status.
func (s *ProposalService) List(ctx context.Context, f database.ProposalFilter) ([]proposal.Proposal, error) {
	return s.store.ListProposals(ctx, f)
}

// Get returns a proposal by ID.
func (s *ProposalService) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	return s.store.GetProposal(ctx, id)
}

// Create validates and files a new proposal.
func (s *ProposalService) Create(ctx context.Context, req proposal.CreateRequest) (*proposal.Proposal, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = proposal.PriorityMedium
	}
	p := &proposal.Proposal{
		ProjectID:   req.ProjectID,
		AgentID:     req.AgentID,
		Title:       req.Title,
		Description: req.Description,
		Rationale:   req.Rationale,
		Priority:    req.Priority,
		Status:      proposal.StatusPending,
		AutoApprove: req.AutoApprove,
	}
	if err := s.store.CreateProposal(ctx, p); err != nil {
		return nil, err
	}

	s.publishCreated(ctx, p)
	s.hub.BroadcastEvent(ctx, ws.EventProposalStatus, ws.ProposalStatusEvent{
		ProposalID: p.ID, ProjectID: p.ProjectID, Status: string(p.Status),
	})
	return p, nil
}

// Approve flips a pending proposal to approved and creates the mission with
// its initial steps. An empty breakdown falls back to the default
// research/implement/test/review sequence.
func (s *ProposalService) Approve(ctx context.Context, id, reviewedBy string, breakdown []step.CreateRequest) (*mission.Mission, error) {
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(breakdown) == 0 {
		breakdown = step.DefaultBreakdown(p.Title)
	}
	for i := range breakdown {
		if err := validateBreakdownStep(&breakdown[i]); err != nil {
			return nil, err
		}
	}
	s.fillStepDefaults(breakdown)

	m, err := s.store.ApproveProposal(ctx, id, reviewedBy, breakdown)
	if err != nil {
		return nil, err
	}

	s.publishDecided(ctx, p, proposal.StatusApproved, reviewedBy, m.ID)
	s.hub.BroadcastEvent(ctx, ws.EventProposalStatus, ws.ProposalStatusEvent{
		ProposalID: id, ProjectID: p.ProjectID, Status: string(proposal.StatusApproved),
	})
	s.hub.BroadcastEvent(ctx, ws.EventMissionStatus, ws.MissionStatusEvent{
		MissionID: m.ID, ProjectID: m.ProjectID, Status: string(m.Status),
	})
	return m, nil
}

// Reject flips a pending proposal to rejected.
func (s *ProposalService) Reject(ctx context.Context, id, reviewedBy string) error {
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.RejectProposal(ctx, id, reviewedBy); err != nil {
		return err
	}

	s.publishDecided(ctx, p, proposal.StatusRejected, reviewedBy, "")
	s.hub.BroadcastEvent(ctx, ws.EventProposalStatus, ws.ProposalStatusEvent{
		ProposalID: id, ProjectID: p.ProjectID, Status: string(proposal.StatusRejected),
	})
	return nil
}

// AutoApprovePass reviews all pending proposals against the auto-approval
// heuristics and approves the ones that clear them. Returns how many were
// approved.
func (s *ProposalService) AutoApprovePass(ctx context.Context) (int, error) {
	pending, err := s.store.ListProposals(ctx, database.ProposalFilter{Status: proposal.StatusPending})
	if err != nil {
		return 0, err
	}

	approved := 0
	for i := range pending {
		p := &pending[i]
		if !proposal.ShouldAutoApprove(p) {
			continue
		}
		if _, err := s.Approve(ctx, p.ID, AutoReviewer, nil); err != nil {
			// Another reviewer may have decided it in the meantime; move on.
			slog.Warn("auto-approve failed", "proposal_id", p.ID, "error", err)
			continue
		}
		approved++
	}
	return approved, nil
}

// ExpireStale ages out pending proposals older than the configured TTL.
func (s *ProposalService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if s.engine.ProposalTTL <= 0 {
		return 0, nil
	}
	expired, err := s.store.ExpireProposals(ctx, now.Add(-s.engine.ProposalTTL))
	if err != nil {
		return 0, err
	}
	for i := range expired {
		p := &expired[i]
		s.publishDecided(ctx, p, proposal.StatusExpired, "", "")
		s.hub.BroadcastEvent(ctx, ws.EventProposalStatus, ws.ProposalStatusEvent{
			ProposalID: p.ID, ProjectID: p.ProjectID, Status: string(proposal.StatusExpired),
		})
	}
	return len(expired), nil
}

// fillStepDefaults applies the configured timeout and retry budget where the
// breakdown left them at zero.
func (s *ProposalService) fillStepDefaults(reqs []step.CreateRequest) {
	for i := range reqs {
		if reqs[i].TimeoutSeconds <= 0 {
			reqs[i].TimeoutSeconds = int(s.engine.StepTimeout.Seconds())
		}
		if reqs[i].MaxRetries == 0 {
			reqs[i].MaxRetries = s.engine.StepMaxRetries
		}
	}
}

// validateBreakdownStep checks a breakdown entry; MissionID is assigned by
// the store so it is exempt here.
func validateBreakdownStep(req *step.CreateRequest) error {
	probe := *req
	probe.MissionID = "unassigned"
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("breakdown step %q: %w", req.Title, err)
	}
	return nil
}

func (s *ProposalService) publishCreated(ctx context.Context, p *proposal.Proposal) {
	data, err := json.Marshal(messagequeue.ProposalCreatedPayload{
		ProposalID: p.ID, ProjectID: p.ProjectID, Title: p.Title, Priority: string(p.Priority),
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectProposalCreated, data); err != nil {
		slog.Error("publish proposal created", "proposal_id", p.ID, "error", err)
	}
}

func (s *ProposalService) publishDecided(ctx context.Context, p *proposal.Proposal, status proposal.Status, reviewedBy, missionID string) {
	data, err := json.Marshal(messagequeue.ProposalDecidedPayload{
		ProposalID: p.ID, ProjectID: p.ProjectID, Status: string(status),
		ReviewedBy: reviewedBy, MissionID: missionID,
	})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectProposalDecided, data); err != nil {
		slog.Error("publish proposal decided", "proposal_id", p.ID, "error", err)
	}
}
