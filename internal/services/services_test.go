package services

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fundora/apiserver/config"
	"github.com/fundora/apiserver/internal/auth"
	"github.com/fundora/apiserver/internal/db/dbtest"
	"github.com/fundora/apiserver/internal/storage"
	"github.com/fundora/apiserver/internal/store"
	"github.com/fundora/apiserver/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingCleanup struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingCleanup) Schedule(_ context.Context, key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

type fixture struct {
	ctx      context.Context
	issuer   *auth.Issuer
	storage  *storage.Storage
	cleanup  *recordingCleanup
	users    *store.UserRepository
	auth     *AuthService
	projects *ProjectService
	expenses *ExpenseService
	summary  *SummaryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	ctx := context.Background()

	objects, err := storage.New(ctx, config.StorageConfig{
		Backend:    config.StorageLocal,
		UploadsDir: filepath.Join(t.TempDir(), "uploads"),
	})
	require.NoError(t, err)

	issuer := auth.NewIssuer("test-secret", time.Hour)
	uploads := NewUploader(objects)
	cleanup := &recordingCleanup{}
	users := store.NewUserRepository(conn)
	expenseRepo := store.NewExpenseRepository(conn)
	projects := NewProjectService(store.NewProjectRepository(conn))

	return &fixture{
		ctx:      ctx,
		issuer:   issuer,
		storage:  objects,
		cleanup:  cleanup,
		users:    users,
		auth:     NewAuthService(users, issuer, uploads, cleanup).WithBcryptCost(bcrypt.MinCost),
		projects: projects,
		expenses: NewExpenseService(expenseRepo, uploads, cleanup),
		summary:  NewSummaryService(projects, expenseRepo),
	}
}

func (f *fixture) project(t *testing.T, owner string) string {
	t.Helper()
	project, err := f.projects.Create(f.ctx, owner, ProjectInput{
		Title:         "Water",
		FundingAmount: "5000",
		FunderName:    "Trust",
		StartDate:     "2024-01-01",
		EndDate:       "2024-12-31",
	})
	require.NoError(t, err)
	return project.ID
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)

	registered, err := f.auth.Register(f.ctx, RegisterInput{
		FullName: " Grace Hopper ",
		Email:    " Grace@Example.com ",
		Password: "cobol",
	})
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", registered.User.Email)
	assert.Equal(t, "Grace Hopper", registered.User.FullName)

	subject, err := f.issuer.Verify(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, subject)

	_, err = f.auth.Register(f.ctx, RegisterInput{FullName: "Impostor", Email: "grace@example.com", Password: "x"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = f.auth.Login(f.ctx, "grace@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(f.ctx, "nobody@example.com", "cobol")
	assert.ErrorIs(t, err, store.ErrNotFound)

	loggedIn, err := f.auth.Login(f.ctx, "GRACE@example.com", "cobol")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)

	current, err := f.auth.CurrentUser(f.ctx, registered.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", current.FullName)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Register(f.ctx, RegisterInput{Email: "a@b.c", Password: "p"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.auth.Register(f.ctx, RegisterInput{
		FullName:     "A",
		Email:        "a@b.c",
		Password:     "p",
		ProfileImage: &Upload{Filename: "script.exe", Data: []byte("MZ")},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	result, err := f.auth.Register(f.ctx, RegisterInput{
		FullName:     "A",
		Email:        "a@b.c",
		Password:     "p",
		ProfileImage: &Upload{Filename: "me.PNG", Data: []byte("\x89PNG")},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^/uploads/profiles/[0-9a-f-]{36}\.png$`, result.User.ProfileImageURL)
}

// missedEmailLookup reports every email as free, as if a concurrent
// registration committed between the lookup and the insert.
type missedEmailLookup struct {
	UserRepository
}

func (missedEmailLookup) GetByEmail(context.Context, string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

func TestRegisterRaceRemovesOrphanedProfileImage(t *testing.T) {
	f := newFixture(t)
	racy := NewAuthService(missedEmailLookup{f.users}, f.issuer, NewUploader(f.storage), f.cleanup).WithBcryptCost(bcrypt.MinCost)

	input := RegisterInput{FullName: "A", Email: "race@example.com", Password: "p"}
	_, err := racy.Register(f.ctx, input)
	require.NoError(t, err)

	input.ProfileImage = &Upload{Filename: "me.png", Data: []byte("\x89PNG")}
	_, err = racy.Register(f.ctx, input)
	require.ErrorIs(t, err, store.ErrConflict)

	f.cleanup.mu.Lock()
	defer f.cleanup.mu.Unlock()
	require.Len(t, f.cleanup.keys, 1)
	assert.Regexp(t, `^profiles/[0-9a-f-]{36}\.png$`, f.cleanup.keys[0])
}

func TestProjectCreateValidation(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()

	tests := []struct {
		name  string
		input ProjectInput
	}{
		{"missing title", ProjectInput{FundingAmount: "1", FunderName: "F", StartDate: "2024-01-01", EndDate: "2024-02-01"}},
		{"non-numeric amount", ProjectInput{Title: "T", FundingAmount: "lots", FunderName: "F", StartDate: "2024-01-01", EndDate: "2024-02-01"}},
		{"bad date", ProjectInput{Title: "T", FundingAmount: "1", FunderName: "F", StartDate: "yesterday", EndDate: "2024-02-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.projects.Create(f.ctx, owner, tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestProjectIDValidation(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()

	_, err := f.projects.Get(f.ctx, owner, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.projects.Get(f.ctx, owner, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, f.projects.Delete(f.ctx, owner, "nope"), ErrInvalidInput)
}

func TestProjectStatus(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	id := f.project(t, owner)

	_, err := f.projects.UpdateStatus(f.ctx, owner, id, "Paused")
	assert.ErrorIs(t, err, ErrInvalidInput)

	project, err := f.projects.UpdateStatus(f.ctx, owner, id, "Completed")
	require.NoError(t, err)
	assert.EqualValues(t, "Completed", project.Status)
}

func TestPhaseOperations(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	id := f.project(t, owner)

	first := PhaseInput{PhaseNumber: "1", StartDate: "2024-01-01", EndDate: "2024-03-31", AmountReceived: "1000"}
	second := PhaseInput{PhaseNumber: "2", StartDate: "2024-04-01", EndDate: "2024-06-30", AmountReceived: "750.5"}

	_, err := f.projects.AddPhase(f.ctx, owner, id, first)
	require.NoError(t, err)
	project, err := f.projects.AddPhase(f.ctx, owner, id, second)
	require.NoError(t, err)
	require.Len(t, project.Phases, 2)

	_, err = f.projects.AddPhase(f.ctx, owner, id, PhaseInput{PhaseNumber: "x", StartDate: "2024-01-01", EndDate: "2024-01-02", AmountReceived: "1"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	// A missing project wins over bad input.
	_, err = f.projects.AddPhase(f.ctx, uuid.NewString(), id, PhaseInput{PhaseNumber: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	project, err = f.projects.UpdatePhase(f.ctx, owner, id, "1", PhaseInput{PhaseNumber: "3", StartDate: "2024-07-01", EndDate: "2024-09-30", AmountReceived: "0"})
	require.NoError(t, err)
	assert.Equal(t, 3, project.Phases[1].PhaseNumber)
	assert.Equal(t, 0.0, project.Phases[1].AmountReceived)

	for _, index := range []string{"2", "-1", "abc"} {
		_, err = f.projects.UpdatePhase(f.ctx, owner, id, index, first)
		assert.ErrorIs(t, err, store.ErrNotFound, "index %q", index)
		_, err = f.projects.DeletePhase(f.ctx, owner, id, index)
		assert.ErrorIs(t, err, store.ErrNotFound, "index %q", index)
	}

	project, err = f.projects.DeletePhase(f.ctx, owner, id, "0")
	require.NoError(t, err)
	require.Len(t, project.Phases, 1)
	assert.Equal(t, 3, project.Phases[0].PhaseNumber)

	phases, err := f.projects.ListPhases(f.ctx, owner, id)
	require.NoError(t, err)
	assert.Len(t, phases, 1)
}

func TestConcurrentAddPhaseAllSucceed(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	id := f.project(t, owner)

	const writers = 20
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.projects.AddPhase(f.ctx, owner, id, PhaseInput{
				PhaseNumber:    strconv.Itoa(n + 1),
				StartDate:      "2024-01-01",
				EndDate:        "2024-03-31",
				AmountReceived: "100",
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	phases, err := f.projects.ListPhases(f.ctx, owner, id)
	require.NoError(t, err)
	assert.Len(t, phases, writers)
}

func TestExpenseCreateRequiresFields(t *testing.T) {
	f := newFixture(t)
	projectID := f.project(t, uuid.NewString())

	_, err := f.expenses.Create(f.ctx, projectID, ExpenseInput{Purpose: "Travel", Amount: "200", Date: "2024-02-15"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.expenses.Create(f.ctx, projectID, ExpenseInput{Purpose: "Travel", Amount: "NaN", Date: "2024-02-15", Category: "c"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.expenses.Create(f.ctx, projectID, ExpenseInput{Purpose: "Travel", Amount: "1", Date: "2024-02-15", Category: "c"},
		&Upload{Filename: "virus.exe", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExpenseUpdateAppliesZeroAndKeepsBlank(t *testing.T) {
	f := newFixture(t)
	projectID := f.project(t, uuid.NewString())

	expense, err := f.expenses.Create(f.ctx, projectID, ExpenseInput{Purpose: "Travel", Amount: "200", Date: "2024-02-15", Category: "Logistics"}, nil)
	require.NoError(t, err)

	updated, err := f.expenses.Update(f.ctx, projectID, expense.ID, ExpenseInput{Amount: "0"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.Amount)
	assert.Equal(t, "Travel", updated.Purpose)
	assert.Equal(t, "Logistics", updated.Category)
	assert.True(t, updated.Date.Equal(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)))

	_, err = f.expenses.Update(f.ctx, projectID, expense.ID, ExpenseInput{Date: "someday"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.expenses.Update(f.ctx, uuid.NewString(), expense.ID, ExpenseInput{Purpose: "x"}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.expenses.Update(f.ctx, projectID, "garbage", ExpenseInput{Purpose: "x"}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExpenseReceiptLifecycle(t *testing.T) {
	f := newFixture(t)
	projectID := f.project(t, uuid.NewString())

	expense, err := f.expenses.Create(f.ctx, projectID,
		ExpenseInput{Purpose: "Printing", Amount: "12.5", Date: "2024-03-01", Category: "Office"},
		&Upload{Filename: "scan.pdf", Data: []byte("%PDF-1.4 receipt")})
	require.NoError(t, err)
	require.NotNil(t, expense.ReceiptURL)
	assert.Equal(t, "/uploads/"+expense.ReceiptPath, *expense.ReceiptURL)

	receipt, err := f.expenses.OpenReceipt(f.ctx, projectID, expense.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(receipt.Body)
	require.NoError(t, receipt.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 receipt", string(data))
	assert.Equal(t, "application/pdf", receipt.ContentType)

	oldKey := expense.ReceiptPath
	updated, err := f.expenses.Update(f.ctx, projectID, expense.ID, ExpenseInput{},
		&Upload{Filename: "scan2.png", Data: []byte("\x89PNG")})
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, updated.ReceiptPath)
	assert.Equal(t, []string{oldKey}, f.cleanup.keys)

	remaining, err := f.expenses.Delete(f.ctx, projectID, expense.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, []string{oldKey, updated.ReceiptPath}, f.cleanup.keys)

	_, err = f.expenses.OpenReceipt(f.ctx, projectID, expense.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenReceiptWithoutReceiptIsNotFound(t *testing.T) {
	f := newFixture(t)
	projectID := f.project(t, uuid.NewString())

	expense, err := f.expenses.Create(f.ctx, projectID, ExpenseInput{Purpose: "p", Amount: "1", Date: "2024-01-01", Category: "c"}, nil)
	require.NoError(t, err)

	_, err = f.expenses.OpenReceipt(f.ctx, projectID, expense.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenReceiptMissingObjectIsNotFound(t *testing.T) {
	f := newFixture(t)
	projectID := f.project(t, uuid.NewString())

	expense, err := f.expenses.Create(f.ctx, projectID,
		ExpenseInput{Purpose: "p", Amount: "1", Date: "2024-01-01", Category: "c"},
		&Upload{Filename: "r.txt", Data: []byte("text")})
	require.NoError(t, err)
	require.NoError(t, f.storage.Delete(f.ctx, expense.ReceiptPath))

	_, err = f.expenses.OpenReceipt(f.ctx, projectID, expense.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	projectID := f.project(t, owner)

	_, err := f.projects.AddPhase(f.ctx, owner, projectID, PhaseInput{PhaseNumber: "1", StartDate: "2024-01-01", EndDate: "2024-03-31", AmountReceived: "1000"})
	require.NoError(t, err)
	_, err = f.expenses.Create(f.ctx, projectID, ExpenseInput{Purpose: "Travel", Amount: "200", Date: "2024-02-15", Category: "Logistics"}, nil)
	require.NoError(t, err)

	summary, err := f.summary.Summary(f.ctx, owner, projectID)
	require.NoError(t, err)
	require.Len(t, summary.Phases, 1)
	assert.GreaterOrEqual(t, summary.Phases[0].Spent, 200.0)
	assert.InDelta(t, 20.0, summary.Phases[0].PercentSpent, 1e-9)
	assert.Equal(t, 800.0, summary.RemainingBudget)

	_, err = f.summary.Summary(f.ctx, uuid.NewString(), projectID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.summary.Summary(f.ctx, owner, "bad")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseHelpers(t *testing.T) {
	n, err := parseInt("n", "2.0")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = parseInt("n", "2.5")
	assert.ErrorIs(t, err, ErrInvalidInput)

	d, err := parseDate("d", "2024-02-15T10:30:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 15, 8, 30, 0, 0, time.UTC), d)

	_, err = parseAmount("a", "Inf")
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = requireFields("a", "x", "b", " ", "c", "")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "b, c")
}
