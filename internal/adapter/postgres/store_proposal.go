package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/event"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/proposal"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

const proposalCols = `id, project_id, agent_id, title, description, rationale, priority, status, auto_approve, reviewed_by, reviewed_at, version, created_at, updated_at`

func (s *Store) ListProposals(ctx context.Context, f database.ProposalFilter) ([]proposal.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalCols+` FROM proposals
		 WHERE ($1 = '' OR project_id = $1::uuid)
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC`,
		f.ProjectID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []proposal.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func (s *Store) GetProposal(ctx context.Context, id string) (*proposal.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalCols+` FROM proposals WHERE id = $1`, id)

	p, err := scanProposal(row)
	if err != nil {
		return nil, notFoundWrap(err, "get proposal %s", id)
	}
	return &p, nil
}

func (s *Store) CreateProposal(ctx context.Context, p *proposal.Proposal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create proposal: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO proposals (project_id, agent_id, title, description, rationale, priority, auto_approve)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+proposalCols,
		p.ProjectID, nullIfEmpty(p.AgentID), p.Title, p.Description, p.Rationale, p.Priority, p.AutoApprove)

	created, err := scanProposal(row)
	if err != nil {
		return fmt.Errorf("create proposal: %w", err)
	}

	err = appendEvent(ctx, tx, created.ProjectID, event.TypeProposalCreated, created.AgentID,
		event.ProposalPayload{ProposalID: created.ID, Title: created.Title})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create proposal: %w", err)
	}
	*p = created
	return nil
}

// ApproveProposal performs the approval pipeline in one transaction: the
// proposal flips to approved, the mission and its initial steps are created,
// and the events land alongside. A proposal that is no longer pending yields
// domain.ErrConflict without side effects.
func (s *Store) ApproveProposal(ctx context.Context, id, reviewedBy string, steps []step.CreateRequest) (*mission.Mission, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin approve proposal: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE proposals
		 SET status = 'approved', reviewed_by = $2, reviewed_at = now(),
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+proposalCols,
		id, reviewedBy)

	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.proposalDecisionConflict(ctx, id, "approve")
		}
		return nil, fmt.Errorf("approve proposal %s: %w", id, err)
	}

	mrow := tx.QueryRow(ctx,
		`INSERT INTO missions (project_id, proposal_id, title, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+missionCols,
		p.ProjectID, p.ID, p.Title, p.Description)

	m, err := scanMission(mrow)
	if err != nil {
		return nil, fmt.Errorf("create mission for proposal %s: %w", id, err)
	}

	for _, req := range steps {
		req.MissionID = m.ID
		if _, err := insertStep(ctx, tx, p.ProjectID, req); err != nil {
			return nil, err
		}
	}

	err = appendEvent(ctx, tx, p.ProjectID, event.TypeProposalApproved, "",
		event.ProposalPayload{ProposalID: p.ID, Title: p.Title, ReviewedBy: reviewedBy})
	if err != nil {
		return nil, err
	}
	err = appendEvent(ctx, tx, p.ProjectID, event.TypeMissionCreated, "",
		event.MissionPayload{MissionID: m.ID, ProposalID: p.ID, Title: m.Title})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit approve proposal: %w", err)
	}
	return &m, nil
}

func (s *Store) RejectProposal(ctx context.Context, id, reviewedBy string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reject proposal: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE proposals
		 SET status = 'rejected', reviewed_by = $2, reviewed_at = now(),
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+proposalCols,
		id, reviewedBy)

	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.proposalDecisionConflict(ctx, id, "reject")
		}
		return fmt.Errorf("reject proposal %s: %w", id, err)
	}

	err = appendEvent(ctx, tx, p.ProjectID, event.TypeProposalRejected, "",
		event.ProposalPayload{ProposalID: p.ID, Title: p.Title, ReviewedBy: reviewedBy})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reject proposal: %w", err)
	}
	return nil
}

// ExpireProposals ages out pending proposals created before the cutoff.
func (s *Store) ExpireProposals(ctx context.Context, cutoff time.Time) ([]proposal.Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin expire proposals: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`UPDATE proposals
		 SET status = 'expired', version = version + 1, updated_at = now()
		 WHERE status = 'pending' AND created_at < $1
		 RETURNING `+proposalCols,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire proposals: %w", err)
	}

	var expired []proposal.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range expired {
		p := &expired[i]
		err = appendEvent(ctx, tx, p.ProjectID, event.TypeProposalExpired, "",
			event.ProposalPayload{ProposalID: p.ID, Title: p.Title})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit expire proposals: %w", err)
	}
	return expired, nil
}

// proposalDecisionConflict distinguishes a missing proposal from one that
// already left pending.
func (s *Store) proposalDecisionConflict(ctx context.Context, id, verb string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM proposals WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "%s proposal %s", verb, id)
	}
	return fmt.Errorf("%s proposal %s in status %s: %w", verb, id, status, domain.ErrConflict)
}

func scanProposal(row scannable) (proposal.Proposal, error) {
	var p proposal.Proposal
	var agentID, reviewedBy *string
	err := row.Scan(
		&p.ID, &p.ProjectID, &agentID, &p.Title, &p.Description, &p.Rationale,
		&p.Priority, &p.Status, &p.AutoApprove, &reviewedBy, &p.ReviewedAt,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	if agentID != nil {
		p.AgentID = *agentID
	}
	if reviewedBy != nil {
		p.ReviewedBy = *reviewedBy
	}
	return p, nil
}
