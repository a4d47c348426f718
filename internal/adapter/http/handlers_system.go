package http

import (
	"net/http"
	"strconv"

	"github.com/agentloop/agentloop/internal/domain/event"
	"github.com/agentloop/agentloop/internal/port/eventstore"
)

// ListEvents handles GET /api/v1/events?project_id=&mission_id=&type=&limit=
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	events, err := h.Events.List(r.Context(), eventstore.Filter{
		ProjectID: q.Get("project_id"),
		MissionID: q.Get("mission_id"),
		Type:      event.Type(q.Get("type")),
		Limit:     limit,
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetStatus handles GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Status.Overview(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Tick handles POST /api/v1/orchestrator/tick, running one engine pass
// synchronously. External schedulers drive the engine through this endpoint
// when the built-in ticker is disabled.
func (h *Handlers) Tick(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Orchestrator.Tick(r.Context())
	if err != nil {
		// Partial progress is still progress; report the summary with the error.
		writeJSON(w, http.StatusInternalServerError, struct {
			Summary any    `json:"summary"`
			Error   string `json:"error"`
		}{Summary: summary, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
