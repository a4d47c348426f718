package http

import (
	"net/http"

	"github.com/agentloop/agentloop/internal/domain/proposal"
	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

// ListProposals handles GET /api/v1/proposals?project_id=&status=
func (h *Handlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	proposals, err := h.Proposals.List(r.Context(), database.ProposalFilter{
		ProjectID: q.Get("project_id"),
		Status:    proposal.Status(q.Get("status")),
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if proposals == nil {
		proposals = []proposal.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

// GetProposal handles GET /api/v1/proposals/{id}
func (h *Handlers) GetProposal(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Proposals.Get, "proposal not found")(w, r)
}

// CreateProposal handles POST /api/v1/proposals
func (h *Handlers) CreateProposal(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.Proposals.Create)(w, r)
}

type approveProposalRequest struct {
	ReviewedBy string               `json:"reviewed_by"`
	Steps      []step.CreateRequest `json:"steps,omitempty"`
}

// ApproveProposal handles POST /api/v1/proposals/{id}/approve
func (h *Handlers) ApproveProposal(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[approveProposalRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ReviewedBy, "reviewed_by") {
		return
	}
	m, err := h.Proposals.Approve(r.Context(), id, req.ReviewedBy, req.Steps)
	if err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type rejectProposalRequest struct {
	ReviewedBy string `json:"reviewed_by"`
}

// RejectProposal handles POST /api/v1/proposals/{id}/reject
func (h *Handlers) RejectProposal(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[rejectProposalRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ReviewedBy, "reviewed_by") {
		return
	}
	if err := h.Proposals.Reject(r.Context(), id, req.ReviewedBy); err != nil {
		writeDomainError(w, err, "proposal not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
