package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentloop/agentloop/internal/domain/event"
	"github.com/agentloop/agentloop/internal/port/eventstore"
)

// execer is satisfied by *pgxpool.Pool and pgx.Tx, so event appends can ride
// inside the transaction that performs the state transition.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// appendEvent inserts one event row. Transition methods call this with their
// own transaction so the event and the transition commit together.
func appendEvent(ctx context.Context, q execer, projectID string, typ event.Type, sourceAgentID string, payload any) error {
	_, err := q.Exec(ctx,
		`INSERT INTO events (project_id, type, source_agent_id, payload) VALUES ($1, $2, $3, $4)`,
		nullIfEmpty(projectID), typ, nullIfEmpty(sourceAgentID), event.Marshal(payload))
	if err != nil {
		return fmt.Errorf("append event %s: %w", typ, err)
	}
	return nil
}

// EventStore implements eventstore.Store using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append writes a standalone event outside any transition transaction.
func (s *EventStore) Append(ctx context.Context, e *event.Event) error {
	return appendEvent(ctx, s.pool, e.ProjectID, e.Type, e.SourceAgentID, e.Payload)
}

// List returns events newest first, filtered by project and type when set.
func (s *EventStore) List(ctx context.Context, f eventstore.Filter) ([]event.Event, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, type, source_agent_id, payload, created_at
		 FROM events
		 WHERE ($1 = '' OR project_id = $1::uuid)
		   AND ($2 = '' OR type = $2)
		   AND ($3 = '' OR payload->>'mission_id' = $3)
		 ORDER BY created_at DESC
		 LIMIT $4`,
		f.ProjectID, string(f.Type), f.MissionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var projectID, sourceAgentID *string
		if err := rows.Scan(&e.ID, &projectID, &e.Type, &sourceAgentID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if projectID != nil {
			e.ProjectID = *projectID
		}
		if sourceAgentID != nil {
			e.SourceAgentID = *sourceAgentID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
