package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/event"
	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

const missionCols = `id, project_id, proposal_id, title, description, status, version, created_at, updated_at, completed_at`

func (s *Store) ListMissions(ctx context.Context, f database.MissionFilter) ([]mission.Mission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+missionCols+` FROM missions
		 WHERE ($1 = '' OR project_id = $1::uuid)
		   AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC`,
		f.ProjectID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var missions []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// ListActiveMissions returns missions the orchestrator still has to drive,
// oldest first so long-running work is considered before fresh work.
func (s *Store) ListActiveMissions(ctx context.Context) ([]mission.Mission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+missionCols+` FROM missions
		 WHERE status IN ('planned', 'active')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active missions: %w", err)
	}
	defer rows.Close()

	var missions []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

func (s *Store) GetMission(ctx context.Context, id string) (*mission.Mission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+missionCols+` FROM missions WHERE id = $1`, id)

	m, err := scanMission(row)
	if err != nil {
		return nil, notFoundWrap(err, "get mission %s", id)
	}
	return &m, nil
}

func (s *Store) CreateMission(ctx context.Context, m *mission.Mission, steps []step.CreateRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create mission: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO missions (project_id, proposal_id, title, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+missionCols,
		m.ProjectID, nullIfEmpty(m.ProposalID), m.Title, m.Description)

	created, err := scanMission(row)
	if err != nil {
		return fmt.Errorf("create mission: %w", err)
	}

	for _, req := range steps {
		req.MissionID = created.ID
		if _, err := insertStep(ctx, tx, created.ProjectID, req); err != nil {
			return err
		}
	}

	err = appendEvent(ctx, tx, created.ProjectID, event.TypeMissionCreated, "",
		event.MissionPayload{MissionID: created.ID, Title: created.Title})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create mission: %w", err)
	}
	*m = created
	return nil
}

func (s *Store) CompleteMission(ctx context.Context, id string) error {
	return s.finishMission(ctx, id, mission.StatusCompleted, event.TypeMissionCompleted)
}

func (s *Store) FailMission(ctx context.Context, id string) error {
	return s.finishMission(ctx, id, mission.StatusFailed, event.TypeMissionFailed)
}

// finishMission drives an active or planned mission to a terminal state.
func (s *Store) finishMission(ctx context.Context, id string, status mission.Status, evtType event.Type) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finish mission: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var projectID, title string
	err = tx.QueryRow(ctx,
		`UPDATE missions
		 SET status = $2, completed_at = now(), version = version + 1, updated_at = now()
		 WHERE id = $1 AND status IN ('planned', 'active')
		 RETURNING project_id, title`,
		id, status).Scan(&projectID, &title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.missionStateConflict(ctx, id, string(status))
		}
		return fmt.Errorf("finish mission %s as %s: %w", id, status, err)
	}

	if err := appendEvent(ctx, tx, projectID, evtType, "", event.MissionPayload{MissionID: id, Title: title}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finish mission: %w", err)
	}
	return nil
}

// CancelMission cancels the mission and every step of it that has not
// finished, in one transaction.
func (s *Store) CancelMission(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel mission: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var projectID, title string
	err = tx.QueryRow(ctx,
		`UPDATE missions
		 SET status = 'cancelled', completed_at = now(), version = version + 1, updated_at = now()
		 WHERE id = $1 AND status IN ('planned', 'active')
		 RETURNING project_id, title`,
		id).Scan(&projectID, &title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.missionStateConflict(ctx, id, "cancel")
		}
		return fmt.Errorf("cancel mission %s: %w", id, err)
	}

	rows, err := tx.Query(ctx,
		`UPDATE steps
		 SET status = 'cancelled', claimed_by = NULL, claim_token = NULL,
		     finished_at = now(), updated_at = now()
		 WHERE mission_id = $1 AND status IN ('pending', 'claimed', 'running')
		 RETURNING id, step_type`,
		id)
	if err != nil {
		return fmt.Errorf("cancel mission %s steps: %w", id, err)
	}
	type cancelled struct{ id, stepType string }
	var steps []cancelled
	for rows.Next() {
		var c cancelled
		if err := rows.Scan(&c.id, &c.stepType); err != nil {
			rows.Close()
			return fmt.Errorf("scan cancelled step: %w", err)
		}
		steps = append(steps, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range steps {
		err = appendEvent(ctx, tx, projectID, event.TypeStepCancelled, "",
			event.StepPayload{StepID: c.id, MissionID: id, StepType: c.stepType})
		if err != nil {
			return err
		}
	}
	err = appendEvent(ctx, tx, projectID, event.TypeMissionCancelled, "",
		event.MissionPayload{MissionID: id, Title: title})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel mission: %w", err)
	}
	return nil
}

// missionStateConflict distinguishes a missing mission from one already in a
// terminal state.
func (s *Store) missionStateConflict(ctx context.Context, id, verb string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM missions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "%s mission %s", verb, id)
	}
	return fmt.Errorf("%s mission %s in status %s: %w", verb, id, status, domain.ErrConflict)
}

func scanMission(row scannable) (mission.Mission, error) {
	var m mission.Mission
	var proposalID *string
	err := row.Scan(
		&m.ID, &m.ProjectID, &proposalID, &m.Title, &m.Description,
		&m.Status, &m.Version, &m.CreatedAt, &m.UpdatedAt, &m.CompletedAt,
	)
	if err != nil {
		return m, err
	}
	if proposalID != nil {
		m.ProposalID = *proposalID
	}
	return m, nil
}
