package http

import (
	"net/http"

	"github.com/agentloop/agentloop/internal/domain/trigger"
)

// ListTriggers handles GET /api/v1/triggers?project_id=
func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.Triggers.List(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if triggers == nil {
		triggers = []trigger.Trigger{}
	}
	writeJSON(w, http.StatusOK, triggers)
}

// GetTrigger handles GET /api/v1/triggers/{id}
func (h *Handlers) GetTrigger(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Triggers.Get, "trigger not found")(w, r)
}

// CreateTrigger handles POST /api/v1/triggers
func (h *Handlers) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.Triggers.Create)(w, r)
}

// UpdateTrigger handles PUT /api/v1/triggers/{id}
func (h *Handlers) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[trigger.Trigger](w, r)
	if !ok {
		return
	}
	req.ID = id
	if err := h.Triggers.Update(r.Context(), &req); err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// EnableTrigger handles POST /api/v1/triggers/{id}/enable
func (h *Handlers) EnableTrigger(w http.ResponseWriter, r *http.Request) {
	h.setTriggerEnabled(w, r, true)
}

// DisableTrigger handles POST /api/v1/triggers/{id}/disable
func (h *Handlers) DisableTrigger(w http.ResponseWriter, r *http.Request) {
	h.setTriggerEnabled(w, r, false)
}

func (h *Handlers) setTriggerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := urlParam(r, "id")
	if err := h.Triggers.SetEnabled(r.Context(), id, enabled); err != nil {
		writeDomainError(w, err, "trigger not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTrigger handles DELETE /api/v1/triggers/{id}
func (h *Handlers) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Triggers.Delete, "trigger not found")(w, r)
}
