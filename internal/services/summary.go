package services

import (
	"context"

	"github.com/fundora/apiserver/internal/budget"
	"github.com/fundora/apiserver/types"
	"golang.org/x/sync/errgroup"
)

// SummaryService builds the budget view of a project.
type SummaryService struct {
	projects *ProjectService
	expenses ExpenseRepository
}

func NewSummaryService(projects *ProjectService, expenses ExpenseRepository) *SummaryService {
	return &SummaryService{projects: projects, expenses: expenses}
}

// Summary loads the project and its expenses concurrently and aggregates
// them. The project lookup enforces ownership.
func (s *SummaryService) Summary(ctx context.Context, ownerID, projectID string) (budget.Summary, error) {
	id, err := parseProjectID(projectID)
	if err != nil {
		return budget.Summary{}, err
	}

	var (
		project  types.Project
		expenses []types.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		project, err = s.projects.Get(gctx, ownerID, id)
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = s.expenses.ListByProject(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return budget.Summary{}, err
	}

	return budget.Summarize(project.Phases, expenses), nil
}
