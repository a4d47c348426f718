package http

import (
	"net/http"

	"github.com/agentloop/agentloop/internal/domain/project"
)

// ListProjects handles GET /api/v1/projects
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	if slug := r.URL.Query().Get("slug"); slug != "" {
		p, err := h.Projects.GetBySlug(r.Context(), slug)
		if err != nil {
			writeDomainError(w, err, "project not found")
			return
		}
		writeJSON(w, http.StatusOK, []project.Project{*p})
		return
	}
	handleList(h.Projects.List)(w, r)
}

// GetProject handles GET /api/v1/projects/{id}
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Projects.Get, "project not found")(w, r)
}

// CreateProject handles POST /api/v1/projects
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.Projects.Create)(w, r)
}

// UpdateProject handles PUT /api/v1/projects/{id}
func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[project.Project](w, r)
	if !ok {
		return
	}
	req.ID = id
	if err := h.Projects.Update(r.Context(), &req); err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// DeleteProject handles DELETE /api/v1/projects/{id}
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Projects.Delete, "project not found")(w, r)
}
