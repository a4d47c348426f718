package http

import (
	"net/http"

	"github.com/agentloop/agentloop/internal/domain/mission"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

// ListMissions handles GET /api/v1/missions?project_id=&status=
func (h *Handlers) ListMissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	missions, err := h.Missions.List(r.Context(), database.MissionFilter{
		ProjectID: q.Get("project_id"),
		Status:    mission.Status(q.Get("status")),
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if missions == nil {
		missions = []mission.Mission{}
	}
	writeJSON(w, http.StatusOK, missions)
}

// GetMission handles GET /api/v1/missions/{id}
func (h *Handlers) GetMission(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Missions.Get, "mission not found")(w, r)
}

// CreateMission handles POST /api/v1/missions
func (h *Handlers) CreateMission(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.Missions.Create)(w, r)
}

// ListMissionSteps handles GET /api/v1/missions/{id}/steps
func (h *Handlers) ListMissionSteps(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	steps, err := h.Missions.Steps(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	if steps == nil {
		steps = []step.Step{}
	}
	writeJSON(w, http.StatusOK, steps)
}

// CancelMission handles POST /api/v1/missions/{id}/cancel
func (h *Handlers) CancelMission(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Missions.Cancel, "mission not found")(w, r)
}
