package handlers

import (
	"net/http"

	"github.com/fundora/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

// PhaseRequest is the JSON body of a phase. Phases are addressed by their
// position in the project's phase list.
type PhaseRequest struct {
	PhaseNumber    looseString `json:"phaseNumber"`
	StartDate      looseString `json:"startDate"`
	EndDate        looseString `json:"endDate"`
	AmountReceived looseString `json:"amountReceived"`
}

func (p PhaseRequest) input() services.PhaseInput {
	return services.PhaseInput{
		PhaseNumber:    string(p.PhaseNumber),
		StartDate:      string(p.StartDate),
		EndDate:        string(p.EndDate),
		AmountReceived: string(p.AmountReceived),
	}
}

func (h *ProjectHandler) ListPhases(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	phases, err := h.projectService.ListPhases(r.Context(), userID, chi.URLParam(r, paramProjectID))
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to list phases")
		return
	}
	writeJSON(w, http.StatusOK, phases)
}

func (h *ProjectHandler) AddPhase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req PhaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projectService.AddPhase(r.Context(), userID, chi.URLParam(r, paramProjectID), req.input())
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to add phase")
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *ProjectHandler) UpdatePhase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req PhaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projectService.UpdatePhase(r.Context(), userID,
		chi.URLParam(r, paramProjectID), chi.URLParam(r, paramPhaseIndex), req.input())
	if err != nil {
		h.errors.write(w, r, err, "project or phase not found", "failed to update phase")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) DeletePhase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	project, err := h.projectService.DeletePhase(r.Context(), userID,
		chi.URLParam(r, paramProjectID), chi.URLParam(r, paramPhaseIndex))
	if err != nil {
		h.errors.write(w, r, err, "project or phase not found", "failed to delete phase")
		return
	}
	writeJSON(w, http.StatusOK, project)
}
