package services

import (
	"context"
	"strconv"
	"strings"

	"github.com/fundora/apiserver/internal/store"
	"github.com/fundora/apiserver/types"
)

// ProjectRepository defines persistence operations for projects.
type ProjectRepository interface {
	Create(ctx context.Context, project types.Project) (types.Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]types.Project, error)
	Get(ctx context.Context, ownerID, id string) (types.Project, error)
	Delete(ctx context.Context, ownerID, id string) error
	UpdateStatus(ctx context.Context, ownerID, id string, status types.ProjectStatus) (types.Project, error)
	MutatePhases(ctx context.Context, ownerID, id string, fn store.PhaseMutation) (types.Project, error)
}

// ProjectInput carries the raw fields of a new project.
type ProjectInput struct {
	Title         string
	FundingAmount string
	FunderName    string
	StartDate     string
	EndDate       string
	Description   string
}

// PhaseInput carries the raw fields of a phase.
type PhaseInput struct {
	PhaseNumber    string
	StartDate      string
	EndDate        string
	AmountReceived string
}

// ProjectService encapsulates project and phase use-cases. Every call is
// scoped to the owner; projects of other users are reported as missing.
type ProjectService struct {
	repo ProjectRepository
}

func NewProjectService(repo ProjectRepository) *ProjectService {
	return &ProjectService{repo: repo}
}

func (s *ProjectService) Create(ctx context.Context, ownerID string, input ProjectInput) (types.Project, error) {
	if err := requireFields(
		"title", input.Title,
		"fundingAmount", input.FundingAmount,
		"funderName", input.FunderName,
		"startDate", input.StartDate,
		"endDate", input.EndDate,
	); err != nil {
		return types.Project{}, err
	}

	amount, err := parseAmount("fundingAmount", input.FundingAmount)
	if err != nil {
		return types.Project{}, err
	}
	start, err := parseDate("startDate", input.StartDate)
	if err != nil {
		return types.Project{}, err
	}
	end, err := parseDate("endDate", input.EndDate)
	if err != nil {
		return types.Project{}, err
	}

	return s.repo.Create(ctx, types.Project{
		Owner:         ownerID,
		Title:         strings.TrimSpace(input.Title),
		FundingAmount: amount,
		FunderName:    strings.TrimSpace(input.FunderName),
		StartDate:     start,
		EndDate:       end,
		Description:   strings.TrimSpace(input.Description),
		Status:        types.ProjectStatusActive,
		Phases:        types.Phases{},
	})
}

func (s *ProjectService) List(ctx context.Context, ownerID string) ([]types.Project, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *ProjectService) Get(ctx context.Context, ownerID, projectID string) (types.Project, error) {
	id, err := parseProjectID(projectID)
	if err != nil {
		return types.Project{}, err
	}
	return s.repo.Get(ctx, ownerID, id)
}

// Delete removes the project and its phases. Expenses logged against it
// are left in place.
func (s *ProjectService) Delete(ctx context.Context, ownerID, projectID string) error {
	id, err := parseProjectID(projectID)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, ownerID, id)
}

func (s *ProjectService) UpdateStatus(ctx context.Context, ownerID, projectID, status string) (types.Project, error) {
	id, err := parseProjectID(projectID)
	if err != nil {
		return types.Project{}, err
	}
	next := types.ProjectStatus(strings.TrimSpace(status))
	if !next.Valid() {
		return types.Project{}, invalid("status must be one of %s, %s", types.ProjectStatusActive, types.ProjectStatusCompleted)
	}
	return s.repo.UpdateStatus(ctx, ownerID, id, next)
}

func (s *ProjectService) ListPhases(ctx context.Context, ownerID, projectID string) (types.Phases, error) {
	project, err := s.Get(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	return project.Phases, nil
}

// AddPhase appends a phase. A missing project is reported before any
// problem with the phase fields.
func (s *ProjectService) AddPhase(ctx context.Context, ownerID, projectID string, input PhaseInput) (types.Project, error) {
	id, err := parseProjectID(projectID)
	if err != nil {
		return types.Project{}, err
	}
	phase, parseErr := parsePhase(input)
	return s.repo.MutatePhases(ctx, ownerID, id, func(phases types.Phases) (types.Phases, error) {
		if parseErr != nil {
			return nil, parseErr
		}
		return append(phases, phase), nil
	})
}

// UpdatePhase replaces the phase at index wholesale.
func (s *ProjectService) UpdatePhase(ctx context.Context, ownerID, projectID, index string, input PhaseInput) (types.Project, error) {
	id, err := parseProjectID(projectID)
	if err != nil {
		return types.Project{}, err
	}
	i := parsePhaseIndex(index)
	phase, parseErr := parsePhase(input)
	return s.repo.MutatePhases(ctx, ownerID, id, func(phases types.Phases) (types.Phases, error) {
		if i < 0 || i >= len(phases) {
			return nil, store.ErrNotFound
		}
		if parseErr != nil {
			return nil, parseErr
		}
		phases[i] = phase
		return phases, nil
	})
}

// DeletePhase removes the phase at index; later phases shift down by one.
func (s *ProjectService) DeletePhase(ctx context.Context, ownerID, projectID, index string) (types.Project, error) {
	id, err := parseProjectID(projectID)
	if err != nil {
		return types.Project{}, err
	}
	i := parsePhaseIndex(index)
	return s.repo.MutatePhases(ctx, ownerID, id, func(phases types.Phases) (types.Phases, error) {
		if i < 0 || i >= len(phases) {
			return nil, store.ErrNotFound
		}
		return append(phases[:i], phases[i+1:]...), nil
	})
}

func parsePhase(input PhaseInput) (types.Phase, error) {
	if err := requireFields(
		"phaseNumber", input.PhaseNumber,
		"startDate", input.StartDate,
		"endDate", input.EndDate,
		"amountReceived", input.AmountReceived,
	); err != nil {
		return types.Phase{}, err
	}

	number, err := parseInt("phaseNumber", input.PhaseNumber)
	if err != nil {
		return types.Phase{}, err
	}
	amount, err := parseAmount("amountReceived", input.AmountReceived)
	if err != nil {
		return types.Phase{}, err
	}
	start, err := parseDate("startDate", input.StartDate)
	if err != nil {
		return types.Phase{}, err
	}
	end, err := parseDate("endDate", input.EndDate)
	if err != nil {
		return types.Phase{}, err
	}
	return types.Phase{
		PhaseNumber:    number,
		StartDate:      start,
		EndDate:        end,
		AmountReceived: amount,
	}, nil
}

// parsePhaseIndex returns -1 for anything that is not a non-negative
// integer, which every caller treats as out of range.
func parsePhaseIndex(raw string) int {
	i, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || i < 0 {
		return -1
	}
	return i
}
