package handlers

import (
	"net/http"

	"github.com/fundora/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	paramProjectID  = "projectID"
	paramPhaseIndex = "phaseIndex"
)

// ProjectHandler provides HTTP handlers for projects, their phases and the
// budget summary. Routes must sit behind RequireAuth.
type ProjectHandler struct {
	projectService *services.ProjectService
	summaryService *services.SummaryService
	errors         errorWriter
}

// NewProjectHandler constructs a handler with the provided services.
func NewProjectHandler(projectService *services.ProjectService, summaryService *services.SummaryService, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		summaryService: summaryService,
		errors:         errorWriter{logger: logger},
	}
}

// ProjectRouter registers project routes on the given router. nested
// routers are mounted under /{projectID}.
func ProjectRouter(
	r chi.Router,
	projectService *services.ProjectService,
	summaryService *services.SummaryService,
	logger *zap.Logger,
	nested ...func(chi.Router),
) {
	handler := NewProjectHandler(projectService, summaryService, logger)

	r.Get("/", handler.ListProjects)
	r.Post("/", handler.CreateProject)
	r.Route("/{projectID}", func(r chi.Router) {
		r.Get("/", handler.GetProject)
		r.Patch("/", handler.UpdateStatus)
		r.Delete("/", handler.DeleteProject)
		r.Get("/summary", handler.Summary)
		r.Route("/phases", func(r chi.Router) {
			r.Get("/", handler.ListPhases)
			r.Post("/", handler.AddPhase)
			r.Put("/{phaseIndex}", handler.UpdatePhase)
			r.Delete("/{phaseIndex}", handler.DeletePhase)
		})
		for _, mount := range nested {
			mount(r)
		}
	})
}

func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	projects, err := h.projectService.List(r.Context(), userID)
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to list projects")
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req ProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projectService.Create(r.Context(), userID, services.ProjectInput{
		Title:         string(req.Title),
		FundingAmount: string(req.FundingAmount),
		FunderName:    string(req.FunderName),
		StartDate:     string(req.StartDate),
		EndDate:       string(req.EndDate),
		Description:   string(req.Description),
	})
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	project, err := h.projectService.Get(r.Context(), userID, chi.URLParam(r, paramProjectID))
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to fetch project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project, err := h.projectService.UpdateStatus(r.Context(), userID, chi.URLParam(r, paramProjectID), req.Status)
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.projectService.Delete(r.Context(), userID, chi.URLParam(r, paramProjectID)); err != nil {
		h.errors.write(w, r, err, "project not found", "failed to delete project")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "project deleted"})
}

func (h *ProjectHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	summary, err := h.summaryService.Summary(r.Context(), userID, chi.URLParam(r, paramProjectID))
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ProjectHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// ProjectRequest is the JSON body of a new project. Amounts and dates may
// be sent as strings or numbers.
type ProjectRequest struct {
	Title         looseString `json:"title"`
	FundingAmount looseString `json:"fundingAmount"`
	FunderName    looseString `json:"funderName"`
	StartDate     looseString `json:"startDate"`
	EndDate       looseString `json:"endDate"`
	Description   looseString `json:"description"`
}

type StatusRequest struct {
	Status string `json:"status"`
}
