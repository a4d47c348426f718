package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/agentloop/agentloop/internal/port/database"
)

// TrimEvents deletes events older than the cutoff and returns how many went.
func (s *Store) TrimEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountsByStatus gathers the dashboard overview in one round trip per table.
func (s *Store) CountsByStatus(ctx context.Context, staleCutoff time.Time) (*database.StatusCounts, error) {
	counts := &database.StatusCounts{StepsByStatus: map[string]int{}}

	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM projects`).Scan(&counts.Projects)
	if err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (
		          WHERE a.status = 'active' AND NOT EXISTS (
		            SELECT 1 FROM steps st
		            WHERE st.claimed_by = a.id AND st.status IN ('claimed', 'running')
		          )
		        )
		 FROM agents a`).Scan(&counts.Agents, &counts.AvailableAgents)
	if err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM proposals WHERE status = 'pending'`).Scan(&counts.PendingProposals)
	if err != nil {
		return nil, fmt.Errorf("count proposals: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM missions WHERE status = 'active'`).Scan(&counts.ActiveMissions)
	if err != nil {
		return nil, fmt.Errorf("count missions: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM steps GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan step count: %w", err)
		}
		counts.StepsByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM steps
		 WHERE status IN ('claimed', 'running')
		   AND claimed_at + make_interval(secs => timeout_seconds) < $1`,
		staleCutoff).Scan(&counts.StaleClaims)
	if err != nil {
		return nil, fmt.Errorf("count stale claims: %w", err)
	}

	// Active missions with no live steps and nothing completed are stuck.
	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM missions m
		 WHERE m.status = 'active'
		   AND NOT EXISTS (
		     SELECT 1 FROM steps st
		     WHERE st.mission_id = m.id AND st.status IN ('pending', 'claimed', 'running')
		   )
		   AND NOT EXISTS (
		     SELECT 1 FROM steps st
		     WHERE st.mission_id = m.id AND st.status = 'completed'
		   )`).Scan(&counts.StuckMissions)
	if err != nil {
		return nil, fmt.Errorf("count stuck missions: %w", err)
	}

	return counts, nil
}
