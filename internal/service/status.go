package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/agentloop/agentloop/internal/config"
	"github.com/agentloop/agentloop/internal/port/cache"
	"github.com/agentloop/agentloop/internal/port/database"
)

const statusCacheKey = "status:overview"

// StatusService serves the dashboard overview. The aggregate query touches
// every table, so the result is cached for a short TTL.
type StatusService struct {
	store  database.Store
	cache  cache.Cache
	ttl    time.Duration
	engine config.Engine
}

// NewStatusService creates a new StatusService.
func NewStatusService(store database.Store, c cache.Cache, ttl time.Duration, engine config.Engine) *StatusService {
	return &StatusService{store: store, cache: c, ttl: ttl, engine: engine}
}

// Overview returns the current system-wide counts. Agents silent longer than
// the heartbeat timeout and claims older than the step timeout count as stale.
func (s *StatusService) Overview(ctx context.Context) (*database.StatusCounts, error) {
	if data, ok, err := s.cache.Get(ctx, statusCacheKey); err == nil && ok {
		var counts database.StatusCounts
		if err := json.Unmarshal(data, &counts); err == nil {
			return &counts, nil
		}
	}

	counts, err := s.store.CountsByStatus(ctx, time.Now().UTC().Add(-s.engine.StepTimeout))
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(counts); err == nil {
		if err := s.cache.Set(ctx, statusCacheKey, data, s.ttl); err != nil {
			slog.Debug("cache status overview", "error", err)
		}
	}
	return counts, nil
}
