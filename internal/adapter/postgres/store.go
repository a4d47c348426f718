package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentloop/agentloop/internal/domain"
	"github.com/agentloop/agentloop/internal/domain/agent"
	"github.com/agentloop/agentloop/internal/domain/project"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// --- Projects ---

const projectCols = `id, slug, name, description, repo_path, config, version, created_at, updated_at`

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectCols+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) GetProjectBySlug(ctx context.Context, slug string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectCols+` FROM projects WHERE slug = $1`, slug)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project by slug %s", slug)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO projects (slug, name, description, repo_path, config)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+projectCols,
		p.Slug, p.Name, p.Description, p.RepoPath, configJSON)

	created, err := scanProject(row)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	*p = created
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects
		 SET name = $2, description = $3, repo_path = $4, config = $5,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $6`,
		p.ID, p.Name, p.Description, p.RepoPath, configJSON, p.Version)
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update project %s: %w", p.ID, domain.ErrConflict)
	}
	p.Version++
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete project %s", id)
}

// --- Agents ---

const agentCols = `id, project_id, name, role, status, config, last_heartbeat, last_dispatched_at, version, created_at, updated_at`

func (s *Store) ListAgents(ctx context.Context, projectID string) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentCols+` FROM agents
		 WHERE ($1 = '' OR project_id = $1::uuid)
		 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	configJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (project_id, name, role, status, config)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+agentCols,
		a.ProjectID, a.Name, a.Role, a.Status, configJSON)

	created, err := scanAgent(row)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	*a = created
	return nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, status)
	return execExpectOne(tag, err, "update agent %s status", id)
}

func (s *Store) TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_heartbeat = $2, updated_at = now() WHERE id = $1`,
		id, at)
	return execExpectOne(tag, err, "heartbeat agent %s", id)
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete agent %s", id)
}

// LeastRecentlyDispatchedAgent picks the matching candidate for a dispatch.
// The availability predicate (no live claim) is advisory here; the claim
// statement re-checks it atomically.
func (s *Store) LeastRecentlyDispatchedAgent(ctx context.Context, projectID string, role agent.Role) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentCols+` FROM agents a
		 WHERE a.project_id = $1 AND a.role = $2 AND a.status = 'active'
		   AND NOT EXISTS (
		     SELECT 1 FROM steps st
		     WHERE st.claimed_by = a.id AND st.status IN ('claimed', 'running')
		   )
		 ORDER BY a.last_dispatched_at ASC NULLS FIRST, a.created_at ASC
		 LIMIT 1`, projectID, role)

	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "pick agent for role %s in project %s", role, projectID)
	}
	return &a, nil
}

// --- Scan helpers ---

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	var configJSON []byte
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.RepoPath, &configJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &p.Config); err != nil {
			return p, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return p, nil
}

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	var configJSON []byte
	err := row.Scan(
		&a.ID, &a.ProjectID, &a.Name, &a.Role, &a.Status, &configJSON,
		&a.LastHeartbeat, &a.LastDispatched, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return a, err
	}
	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &a.Config); err != nil {
			return a, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return a, nil
}
