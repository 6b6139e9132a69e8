package services

import (
	"context"
	"io"
	"strings"

	"github.com/fundora/apiserver/internal/store"
	"github.com/fundora/apiserver/types"
)

// ExpenseRepository defines persistence operations for expenses.
type ExpenseRepository interface {
	Create(ctx context.Context, expense types.Expense) (types.Expense, error)
	ListByProject(ctx context.Context, projectID string) ([]types.Expense, error)
	Get(ctx context.Context, projectID, id string) (types.Expense, error)
	Update(ctx context.Context, expense types.Expense) (types.Expense, error)
	Delete(ctx context.Context, projectID, id string) (types.Expense, error)
}

// CleanupScheduler defers deletion of stored objects.
type CleanupScheduler interface {
	Schedule(ctx context.Context, key string)
}

// ExpenseInput carries the raw fields of an expense. On update, a blank
// field keeps the stored value.
type ExpenseInput struct {
	Purpose  string
	Amount   string
	Date     string
	Category string
}

// Receipt is an opened receipt ready to stream.
type Receipt struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
}

// ExpenseService encapsulates expense use-cases. Callers must have checked
// that the requester owns the project; every lookup is still scoped by
// project ID.
type ExpenseService struct {
	repo    ExpenseRepository
	uploads *Uploader
	cleanup CleanupScheduler
}

func NewExpenseService(repo ExpenseRepository, uploads *Uploader, cleanup CleanupScheduler) *ExpenseService {
	return &ExpenseService{
		repo:    repo,
		uploads: uploads,
		cleanup: cleanup,
	}
}

func (s *ExpenseService) Create(ctx context.Context, projectID string, input ExpenseInput, receipt *Upload) (types.Expense, error) {
	if err := requireFields(
		"purpose", input.Purpose,
		"amount", input.Amount,
		"date", input.Date,
		"category", input.Category,
	); err != nil {
		return types.Expense{}, err
	}

	amount, err := parseAmount("amount", input.Amount)
	if err != nil {
		return types.Expense{}, err
	}
	date, err := parseDate("date", input.Date)
	if err != nil {
		return types.Expense{}, err
	}

	expense := types.Expense{
		Project:  projectID,
		Purpose:  strings.TrimSpace(input.Purpose),
		Amount:   amount,
		Date:     date,
		Category: strings.TrimSpace(input.Category),
	}
	if receipt != nil {
		key, err := s.uploads.SaveReceipt(ctx, *receipt)
		if err != nil {
			return types.Expense{}, err
		}
		expense.ReceiptPath = key
	}

	created, err := s.repo.Create(ctx, expense)
	if err != nil {
		s.cleanup.Schedule(ctx, expense.ReceiptPath)
		return types.Expense{}, err
	}
	return created, nil
}

func (s *ExpenseService) List(ctx context.Context, projectID string) ([]types.Expense, error) {
	return s.repo.ListByProject(ctx, projectID)
}

func (s *ExpenseService) Get(ctx context.Context, projectID, expenseID string) (types.Expense, error) {
	id, err := parseRecordID(expenseID)
	if err != nil {
		return types.Expense{}, err
	}
	return s.repo.Get(ctx, projectID, id)
}

// Update overwrites every non-blank field of input. "0" is a value, not an
// omission. A new receipt replaces the stored one, which is then scheduled
// for deletion.
func (s *ExpenseService) Update(ctx context.Context, projectID, expenseID string, input ExpenseInput, receipt *Upload) (types.Expense, error) {
	expense, err := s.Get(ctx, projectID, expenseID)
	if err != nil {
		return types.Expense{}, err
	}

	if v := strings.TrimSpace(input.Purpose); v != "" {
		expense.Purpose = v
	}
	if v := strings.TrimSpace(input.Amount); v != "" {
		amount, err := parseAmount("amount", v)
		if err != nil {
			return types.Expense{}, err
		}
		expense.Amount = amount
	}
	if v := strings.TrimSpace(input.Date); v != "" {
		date, err := parseDate("date", v)
		if err != nil {
			return types.Expense{}, err
		}
		expense.Date = date
	}
	if v := strings.TrimSpace(input.Category); v != "" {
		expense.Category = v
	}

	previousReceipt := ""
	if receipt != nil {
		key, err := s.uploads.SaveReceipt(ctx, *receipt)
		if err != nil {
			return types.Expense{}, err
		}
		previousReceipt = expense.ReceiptPath
		expense.ReceiptPath = key
	}

	updated, err := s.repo.Update(ctx, expense)
	if err != nil {
		if receipt != nil {
			s.cleanup.Schedule(ctx, expense.ReceiptPath)
		}
		return types.Expense{}, err
	}
	s.cleanup.Schedule(ctx, previousReceipt)
	return updated, nil
}

// Delete removes the expense, schedules its receipt for deletion and
// returns the project's remaining expenses.
func (s *ExpenseService) Delete(ctx context.Context, projectID, expenseID string) ([]types.Expense, error) {
	id, err := parseRecordID(expenseID)
	if err != nil {
		return nil, err
	}
	deleted, err := s.repo.Delete(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	s.cleanup.Schedule(ctx, deleted.ReceiptPath)
	return s.repo.ListByProject(ctx, deleted.Project)
}

// OpenReceipt returns the stored receipt of an expense. The caller closes
// Body.
func (s *ExpenseService) OpenReceipt(ctx context.Context, projectID, expenseID string) (Receipt, error) {
	expense, err := s.Get(ctx, projectID, expenseID)
	if err != nil {
		return Receipt{}, err
	}
	if expense.ReceiptPath == "" {
		return Receipt{}, store.ErrNotFound
	}

	body, err := s.uploads.Open(ctx, expense.ReceiptPath)
	if err != nil {
		if isMissingObject(err) {
			return Receipt{}, store.ErrNotFound
		}
		return Receipt{}, err
	}
	return Receipt{
		Body:        body,
		Filename:    receiptFilename(expense),
		ContentType: ContentType(expense.ReceiptPath, nil),
	}, nil
}

func receiptFilename(expense types.Expense) string {
	return "receipt-" + expense.ID + uploadExtension(expense.ReceiptPath)
}
