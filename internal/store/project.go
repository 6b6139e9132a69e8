package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fundora/apiserver/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const projectColumns = `id, owner_id, title, funding_amount, funder_name, start_date, end_date,
	description, status, phases, version, created_at, updated_at`

// PhaseMutation receives the current phases and returns the replacement.
type PhaseMutation func(types.Phases) (types.Phases, error)

// ProjectRepository handles persistence for projects. Every query is
// scoped by owner.
type ProjectRepository struct {
	db *sqlx.DB
}

func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, project types.Project) (types.Project, error) {
	now := time.Now().UTC()
	project.ID = uuid.NewString()
	project.CreatedAt = now
	project.UpdatedAt = now
	project.Version = 0
	if project.Status == "" {
		project.Status = types.ProjectStatusActive
	}
	if project.Phases == nil {
		project.Phases = types.Phases{}
	}

	query := r.db.Rebind(`
		INSERT INTO projects (` + projectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(
		ctx,
		query,
		project.ID,
		project.Owner,
		project.Title,
		project.FundingAmount,
		project.FunderName,
		project.StartDate.UTC(),
		project.EndDate.UTC(),
		project.Description,
		project.Status,
		project.Phases,
		project.Version,
		project.CreatedAt,
		project.UpdatedAt,
	); err != nil {
		return types.Project{}, err
	}
	return project, nil
}

// ListByOwner returns the owner's projects, newest first.
func (r *ProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]types.Project, error) {
	query := r.db.Rebind(`
		SELECT ` + projectColumns + `
		FROM projects
		WHERE owner_id = ?
		ORDER BY created_at DESC`)
	projects := []types.Project{}
	if err := r.db.SelectContext(ctx, &projects, query, ownerID); err != nil {
		return nil, err
	}
	for i := range projects {
		normalizeProject(&projects[i])
	}
	return projects, nil
}

func (r *ProjectRepository) Get(ctx context.Context, ownerID, id string) (types.Project, error) {
	query := r.db.Rebind(`
		SELECT ` + projectColumns + `
		FROM projects
		WHERE id = ? AND owner_id = ?`)
	var project types.Project
	if err := r.db.GetContext(ctx, &project, query, id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Project{}, ErrNotFound
		}
		return types.Project{}, err
	}
	normalizeProject(&project)
	return project, nil
}

func (r *ProjectRepository) Delete(ctx context.Context, ownerID, id string) error {
	query := r.db.Rebind(`DELETE FROM projects WHERE id = ? AND owner_id = ?`)
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, ownerID, id string, status types.ProjectStatus) (types.Project, error) {
	query := r.db.Rebind(`
		UPDATE projects
		SET status = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND owner_id = ?`)
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id, ownerID)
	if err != nil {
		return types.Project{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Project{}, err
	}
	if affected == 0 {
		return types.Project{}, ErrNotFound
	}
	return r.Get(ctx, ownerID, id)
}

// MutatePhases applies fn to the project's phase list and stores the
// result. The row stays locked for the whole read-modify-write, so
// concurrent mutations queue up and every one of them lands.
func (r *ProjectRepository) MutatePhases(ctx context.Context, ownerID, id string, fn PhaseMutation) (types.Project, error) {
	selectQuery := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE id = ? AND owner_id = ?`
	if r.db.DriverName() == "postgres" {
		// sqlite has no row locks; its single connection serialises writers.
		selectQuery += ` FOR UPDATE`
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.Project{}, err
	}
	defer tx.Rollback()

	var project types.Project
	if err := tx.GetContext(ctx, &project, tx.Rebind(selectQuery), id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Project{}, ErrNotFound
		}
		return types.Project{}, err
	}
	normalizeProject(&project)

	phases, err := fn(append(types.Phases{}, project.Phases...))
	if err != nil {
		return types.Project{}, err
	}
	if phases == nil {
		phases = types.Phases{}
	}

	now := time.Now().UTC()
	updateQuery := tx.Rebind(`
		UPDATE projects
		SET phases = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND owner_id = ?`)
	if _, err := tx.ExecContext(ctx, updateQuery, phases, now, id, ownerID); err != nil {
		return types.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Project{}, err
	}

	project.Phases = phases
	project.Version++
	project.UpdatedAt = now
	return project, nil
}

func normalizeProject(p *types.Project) {
	p.StartDate = p.StartDate.UTC()
	p.EndDate = p.EndDate.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if p.Phases == nil {
		p.Phases = types.Phases{}
	}
	for i := range p.Phases {
		p.Phases[i].StartDate = p.Phases[i].StartDate.UTC()
		p.Phases[i].EndDate = p.Phases[i].EndDate.UTC()
	}
}
