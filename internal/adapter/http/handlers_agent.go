package http

import (
	"net/http"

	"github.com/agentloop/agentloop/internal/domain/agent"
)

// ListAgents handles GET /api/v1/agents?project_id=
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Agents.List(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Agents.Get, "agent not found")(w, r)
}

// CreateAgent handles POST /api/v1/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.Agents.Create)(w, r)
}

// PauseAgent handles POST /api/v1/agents/{id}/pause
func (h *Handlers) PauseAgent(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Agents.Pause, "agent not found")(w, r)
}

// ResumeAgent handles POST /api/v1/agents/{id}/resume
func (h *Handlers) ResumeAgent(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Agents.Resume, "agent not found")(w, r)
}

// AgentHeartbeat handles POST /api/v1/agents/{id}/heartbeat
func (h *Handlers) AgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	handleAction(h.Agents.Heartbeat, "agent not found")(w, r)
}

// DeleteAgent handles DELETE /api/v1/agents/{id}
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Agents.Delete, "agent not found")(w, r)
}
