package http

import (
	"net/http"

	"github.com/agentloop/agentloop/internal/adapter/ws"
	"github.com/agentloop/agentloop/internal/port/database"
	"github.com/agentloop/agentloop/internal/port/eventstore"
	"github.com/agentloop/agentloop/internal/port/messagequeue"
	"github.com/agentloop/agentloop/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Projects     *service.ProjectService
	Agents       *service.AgentService
	Proposals    *service.ProposalService
	Missions     *service.MissionService
	Steps        *service.StepService
	Triggers     *service.TriggerService
	Orchestrator *service.OrchestratorService
	Status       *service.StatusService
	Events       eventstore.Store
	Store        database.Store
	Queue        messagequeue.Queue
	Hub          *ws.Hub
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type component struct {
		Status string `json:"status"`
	}
	resp := struct {
		Status   string               `json:"status"`
		Services map[string]component `json:"services"`
	}{
		Status:   "ok",
		Services: map[string]component{},
	}

	if err := h.Store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Services["postgres"] = component{Status: "down"}
	} else {
		resp.Services["postgres"] = component{Status: "ok"}
	}

	if h.Queue.IsConnected() {
		resp.Services["nats"] = component{Status: "ok"}
	} else {
		resp.Status = "degraded"
		resp.Services["nats"] = component{Status: "down"}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
