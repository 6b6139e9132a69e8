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

const expenseColumns = `id, project_id, purpose, amount, date, category, receipt_path, created_at, updated_at`

// ExpenseRepository handles persistence for expenses. Lookups are scoped
// by project so an expense ID from another project resolves to
// ErrNotFound.
type ExpenseRepository struct {
	db *sqlx.DB
}

func NewExpenseRepository(db *sqlx.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

func (r *ExpenseRepository) Create(ctx context.Context, expense types.Expense) (types.Expense, error) {
	now := time.Now().UTC()
	expense.ID = uuid.NewString()
	expense.Date = expense.Date.UTC()
	expense.CreatedAt = now
	expense.UpdatedAt = now

	query := r.db.Rebind(`
		INSERT INTO expenses (` + expenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(
		ctx,
		query,
		expense.ID,
		expense.Project,
		expense.Purpose,
		expense.Amount,
		expense.Date,
		expense.Category,
		expense.ReceiptPath,
		expense.CreatedAt,
		expense.UpdatedAt,
	); err != nil {
		return types.Expense{}, err
	}
	return expense.WithReceiptURL(), nil
}

// ListByProject returns the project's expenses, newest first.
func (r *ExpenseRepository) ListByProject(ctx context.Context, projectID string) ([]types.Expense, error) {
	query := r.db.Rebind(`
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE project_id = ?
		ORDER BY created_at DESC`)
	expenses := []types.Expense{}
	if err := r.db.SelectContext(ctx, &expenses, query, projectID); err != nil {
		return nil, err
	}
	for i := range expenses {
		expenses[i] = normalizeExpense(expenses[i])
	}
	return expenses, nil
}

func (r *ExpenseRepository) Get(ctx context.Context, projectID, id string) (types.Expense, error) {
	query := r.db.Rebind(`
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE id = ? AND project_id = ?`)
	var expense types.Expense
	if err := r.db.GetContext(ctx, &expense, query, id, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Expense{}, ErrNotFound
		}
		return types.Expense{}, err
	}
	return normalizeExpense(expense), nil
}

func (r *ExpenseRepository) Update(ctx context.Context, expense types.Expense) (types.Expense, error) {
	expense.Date = expense.Date.UTC()
	expense.UpdatedAt = time.Now().UTC()

	query := r.db.Rebind(`
		UPDATE expenses
		SET purpose = ?,
			amount = ?,
			date = ?,
			category = ?,
			receipt_path = ?,
			updated_at = ?
		WHERE id = ? AND project_id = ?`)
	result, err := r.db.ExecContext(
		ctx,
		query,
		expense.Purpose,
		expense.Amount,
		expense.Date,
		expense.Category,
		expense.ReceiptPath,
		expense.UpdatedAt,
		expense.ID,
		expense.Project,
	)
	if err != nil {
		return types.Expense{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Expense{}, err
	}
	if affected == 0 {
		return types.Expense{}, ErrNotFound
	}
	return expense.WithReceiptURL(), nil
}

// Delete removes the expense and returns the deleted record.
func (r *ExpenseRepository) Delete(ctx context.Context, projectID, id string) (types.Expense, error) {
	expense, err := r.Get(ctx, projectID, id)
	if err != nil {
		return types.Expense{}, err
	}

	query := r.db.Rebind(`DELETE FROM expenses WHERE id = ? AND project_id = ?`)
	result, err := r.db.ExecContext(ctx, query, id, projectID)
	if err != nil {
		return types.Expense{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Expense{}, err
	}
	if affected == 0 {
		return types.Expense{}, ErrNotFound
	}
	return expense, nil
}

func normalizeExpense(e types.Expense) types.Expense {
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e.WithReceiptURL()
}
