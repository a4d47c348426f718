package http

import (
	"net/http"

	"github.com/agentloop/agentloop/internal/domain/step"
	"github.com/agentloop/agentloop/internal/port/database"
)

// ListSteps handles GET /api/v1/steps?mission_id=&status=&type=&claimed_by=
func (h *Handlers) ListSteps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	steps, err := h.Steps.List(r.Context(), database.StepFilter{
		MissionID: q.Get("mission_id"),
		Status:    step.Status(q.Get("status")),
		Type:      q.Get("type"),
		ClaimedBy: q.Get("claimed_by"),
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if steps == nil {
		steps = []step.Step{}
	}
	writeJSON(w, http.StatusOK, steps)
}

// GetStep handles GET /api/v1/steps/{id}
func (h *Handlers) GetStep(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Steps.Get, "step not found")(w, r)
}

type claimStepRequest struct {
	AgentID string `json:"agent_id"`
}

type claimStepResponse struct {
	Step       *step.Step `json:"step"`
	ClaimToken string     `json:"claim_token"`
}

// ClaimStep handles POST /api/v1/steps/{id}/claim. The returned claim token
// must accompany every later transition on this step.
func (h *Handlers) ClaimStep(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[claimStepRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.AgentID, "agent_id") {
		return
	}
	st, token, err := h.Steps.Claim(r.Context(), id, req.AgentID)
	if err != nil {
		writeDomainError(w, err, "step not found")
		return
	}
	writeJSON(w, http.StatusOK, claimStepResponse{Step: st, ClaimToken: token})
}

type stepTransitionRequest struct {
	ClaimToken string `json:"claim_token"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StartStep handles POST /api/v1/steps/{id}/start
func (h *Handlers) StartStep(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[stepTransitionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ClaimToken, "claim_token") {
		return
	}
	st, err := h.Steps.Start(r.Context(), id, req.ClaimToken)
	if err != nil {
		writeDomainError(w, err, "step not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CompleteStep handles POST /api/v1/steps/{id}/complete
func (h *Handlers) CompleteStep(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[stepTransitionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ClaimToken, "claim_token") {
		return
	}
	st, err := h.Steps.Complete(r.Context(), id, req.ClaimToken, req.Result)
	if err != nil {
		writeDomainError(w, err, "step not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// FailStep handles POST /api/v1/steps/{id}/fail
func (h *Handlers) FailStep(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[stepTransitionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ClaimToken, "claim_token") {
		return
	}
	st, requeued, err := h.Steps.Fail(r.Context(), id, req.ClaimToken, req.Error)
	if err != nil {
		writeDomainError(w, err, "step not found")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Step     *step.Step `json:"step"`
		Requeued bool       `json:"requeued"`
	}{Step: st, Requeued: requeued})
}

// CancelStep handles POST /api/v1/steps/{id}/cancel. Cancellation is an
// operator action, so no claim token is required.
func (h *Handlers) CancelStep(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	st, err := h.Steps.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "step not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ReleaseStep handles POST /api/v1/steps/{id}/release
func (h *Handlers) ReleaseStep(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[stepTransitionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ClaimToken, "claim_token") {
		return
	}
	st, err := h.Steps.Release(r.Context(), id, req.ClaimToken)
	if err != nil {
		writeDomainError(w, err, "step not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
