package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/event"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

const stepCols = `id, mission_id, step_type, title, description, status, order_index, claimed_by, claim_token, claimed_at, started_at, finished_at, timeout_seconds, retry_count, max_retries, result, error, created_at, updated_at`

// stepColsPrefixed qualifies the step columns for queries that join missions.
const stepColsPrefixed = `st.id, st.mission_id, st.step_type, st.title, st.description, st.status, st.order_index, st.claimed_by, st.claim_token, st.claimed_at, st.started_at, st.finished_at, st.timeout_seconds, st.retry_count, st.max_retries, st.result, st.error, st.created_at, st.updated_at`

func (s *Store) ListSteps(ctx context.Context, f database.StepFilter) ([]step.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepCols+` FROM steps
		 WHERE ($1 = '' OR mission_id = $1::uuid)
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR step_type = $3)
		   AND ($4 = '' OR claimed_by = $4::uuid)
		 ORDER BY order_index, created_at`,
		f.MissionID, string(f.Status), f.Type, f.ClaimedBy)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []step.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *Store) GetStep(ctx context.Context, id string) (*step.Step, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepCols+` FROM steps WHERE id = $1`, id)

	st, err := scanStep(row)
	if err != nil {
		return nil, notFoundWrap(err, "get step %s", id)
	}
	return &st, nil
}

func (s *Store) CreateStep(ctx context.Context, st *step.Step) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create step: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var projectID string
	err = tx.QueryRow(ctx,
		`SELECT project_id FROM missions WHERE id = $1 AND status IN ('planned', 'active')`,
		st.MissionID).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("create step: mission %s not open: %w", st.MissionID, domain.ErrConflict)
		}
		return fmt.Errorf("create step: %w", err)
	}

	created, err := insertStep(ctx, tx, projectID, step.CreateRequest{
		MissionID:      st.MissionID,
		Type:           st.Type,
		Title:          st.Title,
		Description:    st.Description,
		OrderIndex:     st.OrderIndex,
		TimeoutSeconds: st.TimeoutSeconds,
		MaxRetries:     st.MaxRetries,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create step: %w", err)
	}
	*st = *created
	return nil
}

// insertStep adds a pending step and its step.created event inside the
// caller's transaction. Callers are responsible for filling in timeout and
// retry defaults.
func insertStep(ctx context.Context, tx pgx.Tx, projectID string, req step.CreateRequest) (*step.Step, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO steps (mission_id, step_type, title, description, order_index, timeout_seconds, max_retries)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+stepCols,
		req.MissionID, req.Type, req.Title, req.Description, req.OrderIndex, req.TimeoutSeconds, req.MaxRetries)

	st, err := scanStep(row)
	if err != nil {
		return nil, fmt.Errorf("insert step: %w", err)
	}

	err = appendEvent(ctx, tx, projectID, event.TypeStepCreated, "",
		event.StepPayload{StepID: st.ID, MissionID: st.MissionID, StepType: st.Type})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListDispatchableSteps returns pending steps of open missions in dispatch
// order.
func (s *Store) ListDispatchableSteps(ctx context.Context, limit int) ([]step.Step, error) {
	if limit <= 0 {
		limit = 32
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColsPrefixed+` FROM steps st
		 JOIN missions m ON m.id = st.mission_id
		 WHERE st.status = 'pending' AND m.status IN ('planned', 'active')
		 ORDER BY m.created_at, st.order_index, st.created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatchable steps: %w", err)
	}
	defer rows.Close()

	var steps []step.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ClaimStep is the heart of the dispatch protocol. The eligibility checks
// and the write are a single UPDATE, so two workers racing for the same step
// or the same agent cannot both win; the loser simply affects zero rows.
func (s *Store) ClaimStep(ctx context.Context, stepID, agentID, token string) (step.ClaimResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return step.ClaimLost, fmt.Errorf("begin claim step: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missionID, stepType, projectID string
	var missionStatus string
	err = tx.QueryRow(ctx,
		`UPDATE steps st
		 SET status = 'claimed', claimed_by = $2, claim_token = $3,
		     claimed_at = now(), updated_at = now()
		 FROM missions m
		 WHERE st.id = $1 AND st.status = 'pending'
		   AND m.id = st.mission_id AND m.status IN ('planned', 'active')
		   AND EXISTS (
		     SELECT 1 FROM agents a
		     WHERE a.id = $2 AND a.status = 'active' AND a.project_id = m.project_id
		   )
		   AND NOT EXISTS (
		     SELECT 1 FROM steps held
		     WHERE held.claimed_by = $2 AND held.status IN ('claimed', 'running')
		   )
		 RETURNING st.mission_id, st.step_type, m.project_id, m.status`,
		stepID, agentID, token).Scan(&missionID, &stepType, &projectID, &missionStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return step.ClaimLost, nil
		}
		// Two rival claims for the same agent can both pass the NOT EXISTS
		// check on their snapshots; the one-live-claim index rejects the
		// second. That is a lost race, not an error.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return step.ClaimLost, nil
		}
		return step.ClaimLost, fmt.Errorf("claim step %s: %w", stepID, err)
	}

	// First claim of a planned mission activates it.
	if missionStatus == "planned" {
		tag, err := tx.Exec(ctx,
			`UPDATE missions SET status = 'active', version = version + 1, updated_at = now()
			 WHERE id = $1 AND status = 'planned'`, missionID)
		if err != nil {
			return step.ClaimLost, fmt.Errorf("activate mission %s: %w", missionID, err)
		}
		if tag.RowsAffected() == 1 {
			err = appendEvent(ctx, tx, projectID, event.TypeMissionActivated, "",
				event.MissionPayload{MissionID: missionID})
			if err != nil {
				return step.ClaimLost, err
			}
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE agents SET last_dispatched_at = now(), updated_at = now() WHERE id = $1`, agentID)
	if err != nil {
		return step.ClaimLost, fmt.Errorf("touch agent %s dispatch time: %w", agentID, err)
	}

	err = appendEvent(ctx, tx, projectID, event.TypeStepClaimed, agentID,
		event.StepPayload{StepID: stepID, MissionID: missionID, StepType: stepType, AgentID: agentID})
	if err != nil {
		return step.ClaimLost, err
	}

	if err := tx.Commit(ctx); err != nil {
		return step.ClaimLost, fmt.Errorf("commit claim step: %w", err)
	}
	return step.ClaimWon, nil
}

func (s *Store) StartStep(ctx context.Context, stepID, token string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin start step: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missionID, stepType, projectID, agentID string
	err = tx.QueryRow(ctx,
		`UPDATE steps st
		 SET status = 'running', started_at = now(), updated_at = now()
		 FROM missions m
		 WHERE st.id = $1 AND st.claim_token = $2 AND st.status = 'claimed'
		   AND m.id = st.mission_id
		 RETURNING st.mission_id, st.step_type, m.project_id, st.claimed_by`,
		stepID, token).Scan(&missionID, &stepType, &projectID, &agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.stepGuardConflict(ctx, stepID, "start")
		}
		return fmt.Errorf("start step %s: %w", stepID, err)
	}

	err = appendEvent(ctx, tx, projectID, event.TypeStepStarted, agentID,
		event.StepPayload{StepID: stepID, MissionID: missionID, StepType: stepType, AgentID: agentID})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit start step: %w", err)
	}
	return nil
}

// CompleteStep finishes a step. The claim token is cleared but claimed_by is
// kept so the completed step stays attributed to its agent.
func (s *Store) CompleteStep(ctx context.Context, stepID, token, result string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete step: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missionID, stepType, projectID, agentID string
	err = tx.QueryRow(ctx,
		`UPDATE steps st
		 SET status = 'completed', result = $3, claim_token = NULL,
		     finished_at = now(), updated_at = now()
		 FROM missions m
		 WHERE st.id = $1 AND st.claim_token = $2 AND st.status IN ('claimed', 'running')
		   AND m.id = st.mission_id
		 RETURNING st.mission_id, st.step_type, m.project_id, st.claimed_by`,
		stepID, token, result).Scan(&missionID, &stepType, &projectID, &agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.stepGuardConflict(ctx, stepID, "complete")
		}
		return fmt.Errorf("complete step %s: %w", stepID, err)
	}

	err = appendEvent(ctx, tx, projectID, event.TypeStepCompleted, agentID,
		event.StepPayload{StepID: stepID, MissionID: missionID, StepType: stepType, AgentID: agentID})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete step: %w", err)
	}
	return nil
}

// FailStep records a failure, requeueing while retries remain. The retry
// decision and the write are one statement.
func (s *Store) FailStep(ctx context.Context, stepID, token, errMsg string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin fail step: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missionID, stepType, projectID, status string
	var agentID *string
	var retryCount int
	err = tx.QueryRow(ctx,
		`UPDATE steps st
		 SET status      = CASE WHEN st.retry_count < st.max_retries THEN 'pending' ELSE 'failed' END,
		     retry_count = CASE WHEN st.retry_count < st.max_retries THEN st.retry_count + 1 ELSE st.retry_count END,
		     error       = $3,
		     claimed_by  = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE st.claimed_by END,
		     claim_token = NULL,
		     claimed_at  = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE st.claimed_at END,
		     started_at  = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE st.started_at END,
		     finished_at = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE now() END,
		     updated_at  = now()
		 FROM missions m
		 WHERE st.id = $1 AND st.claim_token = $2 AND st.status IN ('claimed', 'running')
		   AND m.id = st.mission_id
		 RETURNING st.mission_id, st.step_type, m.project_id, st.status, st.retry_count, st.claimed_by`,
		stepID, token, errMsg).Scan(&missionID, &stepType, &projectID, &status, &retryCount, &agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, s.stepGuardConflict(ctx, stepID, "fail")
		}
		return false, fmt.Errorf("fail step %s: %w", stepID, err)
	}

	requeued := status == "pending"
	evtType := event.TypeStepFailed
	if requeued {
		evtType = event.TypeStepRequeued
	}
	var evtAgent string
	if agentID != nil {
		evtAgent = *agentID
	}
	err = appendEvent(ctx, tx, projectID, evtType, evtAgent,
		event.StepPayload{StepID: stepID, MissionID: missionID, StepType: stepType, AgentID: evtAgent, RetryCount: retryCount, Error: errMsg})
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit fail step: %w", err)
	}
	return requeued, nil
}

// ReleaseStep hands a claimed step back without consuming a retry.
func (s *Store) ReleaseStep(ctx context.Context, stepID, token string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release step: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missionID, stepType, projectID string
	err = tx.QueryRow(ctx,
		`UPDATE steps st
		 SET status = 'pending', claimed_by = NULL, claim_token = NULL,
		     claimed_at = NULL, started_at = NULL, updated_at = now()
		 FROM missions m
		 WHERE st.id = $1 AND st.claim_token = $2 AND st.status IN ('claimed', 'running')
		   AND m.id = st.mission_id
		 RETURNING st.mission_id, st.step_type, m.project_id`,
		stepID, token).Scan(&missionID, &stepType, &projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.stepGuardConflict(ctx, stepID, "release")
		}
		return fmt.Errorf("release step %s: %w", stepID, err)
	}

	err = appendEvent(ctx, tx, projectID, event.TypeStepRequeued, "",
		event.StepPayload{StepID: stepID, MissionID: missionID, StepType: stepType})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit release step: %w", err)
	}
	return nil
}

func (s *Store) CancelStep(ctx context.Context, stepID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel step: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missionID, stepType, projectID string
	err = tx.QueryRow(ctx,
		`UPDATE steps st
		 SET status = 'cancelled', claimed_by = NULL, claim_token = NULL,
		     finished_at = now(), updated_at = now()
		 FROM missions m
		 WHERE st.id = $1 AND st.status IN ('pending', 'claimed', 'running')
		   AND m.id = st.mission_id
		 RETURNING st.mission_id, st.step_type, m.project_id`,
		stepID).Scan(&missionID, &stepType, &projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.stepGuardConflict(ctx, stepID, "cancel")
		}
		return fmt.Errorf("cancel step %s: %w", stepID, err)
	}

	err = appendEvent(ctx, tx, projectID, event.TypeStepCancelled, "",
		event.StepPayload{StepID: stepID, MissionID: missionID, StepType: stepType})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel step: %w", err)
	}
	return nil
}

// ReclaimStaleSteps sweeps claims whose timeout elapsed as of now. The sweep
// is one UPDATE so concurrent ticks cannot double-count a step.
func (s *Store) ReclaimStaleSteps(ctx context.Context, now time.Time) (*database.ReclaimOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reclaim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`UPDATE steps st
		 SET status      = CASE WHEN st.retry_count < st.max_retries THEN 'pending' ELSE 'failed' END,
		     retry_count = CASE WHEN st.retry_count < st.max_retries THEN st.retry_count + 1 ELSE st.retry_count END,
		     error       = CASE WHEN st.retry_count < st.max_retries THEN st.error ELSE 'claim timed out' END,
		     claimed_by  = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE st.claimed_by END,
		     claim_token = NULL,
		     claimed_at  = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE st.claimed_at END,
		     started_at  = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE st.started_at END,
		     finished_at = CASE WHEN st.retry_count < st.max_retries THEN NULL ELSE now() END,
		     updated_at  = now()
		 FROM missions m
		 WHERE m.id = st.mission_id
		   AND st.status IN ('claimed', 'running')
		   AND st.claimed_at + make_interval(secs => st.timeout_seconds) < $1
		 RETURNING `+stepColsPrefixed+`, m.project_id`,
		now)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale steps: %w", err)
	}

	type reclaimed struct {
		st        step.Step
		projectID string
	}
	var swept []reclaimed
	for rows.Next() {
		var r reclaimed
		var claimedBy, claimToken *string
		err := rows.Scan(
			&r.st.ID, &r.st.MissionID, &r.st.Type, &r.st.Title, &r.st.Description,
			&r.st.Status, &r.st.OrderIndex, &claimedBy, &claimToken,
			&r.st.ClaimedAt, &r.st.StartedAt, &r.st.FinishedAt,
			&r.st.TimeoutSeconds, &r.st.RetryCount, &r.st.MaxRetries,
			&r.st.Result, &r.st.Error, &r.st.CreatedAt, &r.st.UpdatedAt,
			&r.projectID,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reclaimed step: %w", err)
		}
		if claimedBy != nil {
			r.st.ClaimedBy = *claimedBy
		}
		swept = append(swept, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	outcome := &database.ReclaimOutcome{}
	for _, r := range swept {
		evtType := event.TypeStepReclaimed
		if r.st.Status == step.StatusFailed {
			evtType = event.TypeStepFailed
			outcome.Failed = append(outcome.Failed, r.st)
		} else {
			outcome.Requeued = append(outcome.Requeued, r.st)
		}
		err = appendEvent(ctx, tx, r.projectID, evtType, r.st.ClaimedBy,
			event.StepPayload{
				StepID: r.st.ID, MissionID: r.st.MissionID, StepType: r.st.Type,
				AgentID: r.st.ClaimedBy, RetryCount: r.st.RetryCount, Error: r.st.Error,
			})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reclaim: %w", err)
	}
	return outcome, nil
}

// stepGuardConflict distinguishes a missing step from one whose status or
// token no longer matches the transition guard.
func (s *Store) stepGuardConflict(ctx context.Context, id, verb string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM steps WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "%s step %s", verb, id)
	}
	return fmt.Errorf("%s step %s in status %s: %w", verb, id, status, domain.ErrConflict)
}

func scanStep(row scannable) (step.Step, error) {
	var st step.Step
	var claimedBy, claimToken *string
	err := row.Scan(
		&st.ID, &st.MissionID, &st.Type, &st.Title, &st.Description,
		&st.Status, &st.OrderIndex, &claimedBy, &claimToken,
		&st.ClaimedAt, &st.StartedAt, &st.FinishedAt,
		&st.TimeoutSeconds, &st.RetryCount, &st.MaxRetries,
		&st.Result, &st.Error, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return st, err
	}
	if claimedBy != nil {
		st.ClaimedBy = *claimedBy
	}
	if claimToken != nil {
		st.ClaimToken = *claimToken
	}
	return st, nil
}
