package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Projects
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/{id}", h.GetProject)
		r.Put("/projects/{id}", h.UpdateProject)
		r.Delete("/projects/{id}", h.DeleteProject)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents", h.CreateAgent)
		r.Get("/agents/{id}", h.GetAgent)
		r.Delete("/agents/{id}", h.DeleteAgent)
		r.Post("/agents/{id}/pause", h.PauseAgent)
		r.Post("/agents/{id}/resume", h.ResumeAgent)
		r.Post("/agents/{id}/heartbeat", h.AgentHeartbeat)

		// Proposals
		r.Get("/proposals", h.ListProposals)
		r.Post("/proposals", h.CreateProposal)
		r.Get("/proposals/{id}", h.GetProposal)
		r.Post("/proposals/{id}/approve", h.ApproveProposal)
		r.Post("/proposals/{id}/reject", h.RejectProposal)

		// Missions
		r.Get("/missions", h.ListMissions)
		r.Post("/missions", h.CreateMission)
		r.Get("/missions/{id}", h.GetMission)
		r.Get("/missions/{id}/steps", h.ListMissionSteps)
		r.Post("/missions/{id}/cancel", h.CancelMission)

		// Steps (agent-facing claim protocol)
		r.Get("/steps", h.ListSteps)
		r.Get("/steps/{id}", h.GetStep)
		r.Post("/steps/{id}/claim", h.ClaimStep)
		r.Post("/steps/{id}/start", h.StartStep)
		r.Post("/steps/{id}/complete", h.CompleteStep)
		r.Post("/steps/{id}/fail", h.FailStep)
		r.Post("/steps/{id}/release", h.ReleaseStep)
		r.Post("/steps/{id}/cancel", h.CancelStep)

		// Triggers
		r.Get("/triggers", h.ListTriggers)
		r.Post("/triggers", h.CreateTrigger)
		r.Get("/triggers/{id}", h.GetTrigger)
		r.Put("/triggers/{id}", h.UpdateTrigger)
		r.Delete("/triggers/{id}", h.DeleteTrigger)
		r.Post("/triggers/{id}/enable", h.EnableTrigger)
		r.Post("/triggers/{id}/disable", h.DisableTrigger)

		// Events + system
		r.Get("/events", h.ListEvents)
		r.Get("/status", h.GetStatus)
		r.Post("/orchestrator/tick", h.Tick)
	})
}
