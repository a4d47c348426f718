package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/event"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/domain/trigger"
)

const triggerCols = `id, project_id, name, source_step_type, source_status, target_step_type, condition, enabled, last_fired_at, version, created_at, updated_at`

func (s *Store) ListTriggers(ctx context.Context, projectID string) ([]trigger.Trigger, error) {
	return s.listTriggers(ctx, projectID, false)
}

// ListEnabledTriggers returns enabled triggers scoped to the project plus
// global ones.
func (s *Store) ListEnabledTriggers(ctx context.Context, projectID string) ([]trigger.Trigger, error) {
	return s.listTriggers(ctx, projectID, true)
}

func (s *Store) listTriggers(ctx context.Context, projectID string, enabledOnly bool) ([]trigger.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerCols+` FROM triggers
		 WHERE ($1 = '' OR project_id IS NULL OR project_id = $1::uuid)
		   AND (NOT $2 OR enabled)
		 ORDER BY created_at`,
		projectID, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []trigger.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (s *Store) GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+triggerCols+` FROM triggers WHERE id = $1`, id)

	t, err := scanTrigger(row)
	if err != nil {
		return nil, notFoundWrap(err, "get trigger %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTrigger(ctx context.Context, t *trigger.Trigger) error {
	conditionJSON, err := json.Marshal(t.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO triggers (project_id, name, source_step_type, source_status, target_step_type, condition, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+triggerCols,
		nullIfEmpty(t.ProjectID), t.Name, t.SourceStepType, t.SourceStatus, t.TargetStepType, conditionJSON, t.Enabled)

	created, err := scanTrigger(row)
	if err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	*t = created
	return nil
}

func (s *Store) UpdateTrigger(ctx context.Context, t *trigger.Trigger) error {
	conditionJSON, err := json.Marshal(t.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers
		 SET name = $2, source_step_type = $3, source_status = $4, target_step_type = $5,
		     condition = $6, enabled = $7, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $8`,
		t.ID, t.Name, t.SourceStepType, t.SourceStatus, t.TargetStepType, conditionJSON, t.Enabled, t.Version)
	if err != nil {
		return fmt.Errorf("update trigger %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update trigger %s: %w", t.ID, domain.ErrConflict)
	}
	t.Version++
	return nil
}

func (s *Store) SetTriggerEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers SET enabled = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, enabled)
	return execExpectOne(tag, err, "set trigger %s enabled", id)
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete trigger %s", id)
}

// CreateStepFromTrigger appends the target step atomically with the firing
// marker. The (step, trigger) primary key makes repeat evaluations of the
// same source step no-ops, so a trigger fires at most once per step no matter
// how many ticks observe the transition.
func (s *Store) CreateStepFromTrigger(ctx context.Context, t *trigger.Trigger, source *step.Step, target step.CreateRequest) (*step.Step, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin trigger firing: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO trigger_firings (step_id, trigger_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		source.ID, t.ID)
	if err != nil {
		return nil, fmt.Errorf("record trigger firing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already fired for this step.
		return nil, nil
	}

	var projectID string
	err = tx.QueryRow(ctx,
		`SELECT project_id FROM missions WHERE id = $1 AND status IN ('planned', 'active')`,
		source.MissionID).Scan(&projectID)
	if err != nil {
		return nil, notFoundWrap(err, "trigger %s target mission %s", t.ID, source.MissionID)
	}

	target.MissionID = source.MissionID
	created, err := insertStep(ctx, tx, projectID, target)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE triggers SET last_fired_at = now(), updated_at = now() WHERE id = $1`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("stamp trigger %s: %w", t.ID, err)
	}

	err = appendEvent(ctx, tx, projectID, event.TypeTriggerFired, "",
		event.TriggerPayload{
			TriggerID:    t.ID,
			SourceStepID: source.ID,
			TargetStepID: created.ID,
			MissionID:    source.MissionID,
		})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit trigger firing: %w", err)
	}
	return created, nil
}

func scanTrigger(row scannable) (trigger.Trigger, error) {
	var t trigger.Trigger
	var projectID *string
	var conditionJSON []byte
	err := row.Scan(
		&t.ID, &projectID, &t.Name, &t.SourceStepType, &t.SourceStatus,
		&t.TargetStepType, &conditionJSON, &t.Enabled, &t.LastFiredAt,
		&t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	if projectID != nil {
		t.ProjectID = *projectID
	}
	if conditionJSON != nil {
		if err := json.Unmarshal(conditionJSON, &t.Condition); err != nil {
			return t, fmt.Errorf("unmarshal condition: %w", err)
		}
	}
	return t, nil
}
