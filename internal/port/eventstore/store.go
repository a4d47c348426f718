// Package eventstore defines the port interface for the append-only event log.
package eventstore

import (
	"context"

	"github.com/agentloop/agentloop/internal/domain/event"
)

// Filter narrows event listings. MissionID matches on the event payload,
// since events are stored per project.
type Filter struct {
	ProjectID string
	MissionID string
	Type      event.Type
	Limit     int
}

// Store is the port interface for the event log. Events that accompany a
// state transition are appended by the database store inside the same
// transaction; this port covers standalone appends and reads.
type Store interface {
	Append(ctx context.Context, e *event.Event) error
	List(ctx context.Context, f Filter) ([]event.Event, error)
}
