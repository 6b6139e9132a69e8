package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/fundora/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	formFieldPurpose  = "purpose"
	formFieldAmount   = "amount"
	formFieldDate     = "date"
	formFieldCategory = "category"
	formFieldReceipt  = "receipt"

	contextProjectKey contextKey = "project"
)

// ExpenseHandler provides HTTP handlers for the expenses of a project.
type ExpenseHandler struct {
	projectService *services.ProjectService
	expenseService *services.ExpenseService
	errors         errorWriter
	logger         *zap.Logger
}

// NewExpenseHandler constructs a handler with the provided services.
func NewExpenseHandler(projectService *services.ProjectService, expenseService *services.ExpenseService, logger *zap.Logger) *ExpenseHandler {
	return &ExpenseHandler{
		projectService: projectService,
		expenseService: expenseService,
		errors:         errorWriter{logger: logger},
		logger:         logger,
	}
}

// ExpenseRouter registers expense routes on a router already scoped to
// /{projectID}.
func ExpenseRouter(
	r chi.Router,
	projectService *services.ProjectService,
	expenseService *services.ExpenseService,
	logger *zap.Logger,
) {
	handler := NewExpenseHandler(projectService, expenseService, logger)

	r.Route("/expenses", func(r chi.Router) {
		r.Use(handler.requireProjectOwner)
		r.Get("/", handler.ListExpenses)
		r.Post("/", handler.CreateExpense)
		r.Route("/{expenseID}", func(r chi.Router) {
			r.Put("/", handler.UpdateExpense)
			r.Delete("/", handler.DeleteExpense)
			r.Get("/receipt", handler.DownloadReceipt)
		})
	})
}

// requireProjectOwner rejects requests for projects the caller does not
// own and stores the canonical project ID in the context.
func (h *ExpenseHandler) requireProjectOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		project, err := h.projectService.Get(r.Context(), userID, chi.URLParam(r, paramProjectID))
		if err != nil {
			h.errors.write(w, r, err, "project not found", "failed to fetch project")
			return
		}

		ctx := context.WithValue(r.Context(), contextProjectKey, project.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func projectIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextProjectKey).(string)
	return id
}

func (h *ExpenseHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.expenseService.List(r.Context(), projectIDFromContext(r.Context()))
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to list expenses")
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (h *ExpenseHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	input, receipt, err := parseExpenseForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	expense, err := h.expenseService.Create(r.Context(), projectIDFromContext(r.Context()), input, receipt)
	if err != nil {
		h.errors.write(w, r, err, "project not found", "failed to create expense")
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

func (h *ExpenseHandler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	input, receipt, err := parseExpenseForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	expense, err := h.expenseService.Update(r.Context(), projectIDFromContext(r.Context()),
		chi.URLParam(r, "expenseID"), input, receipt)
	if err != nil {
		h.errors.write(w, r, err, "expense not found", "failed to update expense")
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

func (h *ExpenseHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.expenseService.Delete(r.Context(), projectIDFromContext(r.Context()), chi.URLParam(r, "expenseID"))
	if err != nil {
		h.errors.write(w, r, err, "expense not found", "failed to delete expense")
		return
	}
	writeJSON(w, http.StatusOK, remaining)
}

func (h *ExpenseHandler) DownloadReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.expenseService.OpenReceipt(r.Context(), projectIDFromContext(r.Context()), chi.URLParam(r, "expenseID"))
	if err != nil {
		h.errors.write(w, r, err, "receipt not found", "failed to open receipt")
		return
	}
	defer receipt.Body.Close()

	w.Header().Set("Content-Type", receipt.ContentType)
	w.Header().Set("Content-Disposition", attachmentDisposition(receipt.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, receipt.Body); err != nil {
		h.logger.Warn("receipt download interrupted", zap.String("file", receipt.Filename), zap.Error(err))
	}
}

func parseExpenseForm(w http.ResponseWriter, r *http.Request) (services.ExpenseInput, *services.Upload, error) {
	if err := parseForm(w, r, services.MaxReceiptBytes); err != nil {
		return services.ExpenseInput{}, nil, err
	}

	receipt, err := formFile(r.MultipartForm, formFieldReceipt, services.MaxReceiptBytes)
	if err != nil {
		return services.ExpenseInput{}, nil, err
	}

	return services.ExpenseInput{
		Purpose:  r.FormValue(formFieldPurpose),
		Amount:   r.FormValue(formFieldAmount),
		Date:     r.FormValue(formFieldDate),
		Category: r.FormValue(formFieldCategory),
	}, receipt, nil
}
