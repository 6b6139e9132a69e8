package services

import (
	"context"
	"errors"
	"strings"

	"github.com/fundora/apiserver/internal/store"
	"github.com/fundora/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// TokenIssuer issues bearer tokens for a user ID.
type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// RegisterInput is the payload of a registration.
type RegisterInput struct {
	FullName     string
	Email        string
	Password     string
	ProfileImage *Upload
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User  types.User
	Token string
}

// AuthService encapsulates registration, login and session lookup.
type AuthService struct {
	users      UserRepository
	issuer     TokenIssuer
	uploads    *Uploader
	cleanup    CleanupScheduler
	bcryptCost int
}

func NewAuthService(users UserRepository, issuer TokenIssuer, uploads *Uploader, cleanup CleanupScheduler) *AuthService {
	return &AuthService{
		users:      users,
		issuer:     issuer,
		uploads:    uploads,
		cleanup:    cleanup,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func (s *AuthService) WithBcryptCost(cost int) *AuthService {
	s.bcryptCost = cost
	return s
}

// Register creates an account and signs the user in. A taken email
// yields store.ErrConflict.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	user, err := s.CreateAccount(ctx, input)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issue(user)
}

// CreateAccount validates input and stores the user without issuing a
// token.
func (s *AuthService) CreateAccount(ctx context.Context, input RegisterInput) (types.User, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Email = normalizeEmail(input.Email)
	if err := requireFields("fullName", input.FullName, "email", input.Email, "password", input.Password); err != nil {
		return types.User{}, err
	}

	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return types.User{}, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return types.User{}, invalid("password is too long")
		}
		return types.User{}, err
	}

	user := types.User{
		FullName:     input.FullName,
		Email:        input.Email,
		PasswordHash: string(hashed),
	}
	var imageKey string
	if input.ProfileImage != nil {
		key, err := s.uploads.SaveProfileImage(ctx, *input.ProfileImage)
		if err != nil {
			return types.User{}, err
		}
		imageKey = key
		if url := types.PublicURL(key); url != nil {
			user.ProfileImageURL = *url
		}
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		// A concurrent registration can take the email after the lookup above.
		if imageKey != "" && s.cleanup != nil {
			s.cleanup.Schedule(ctx, imageKey)
		}
		return types.User{}, err
	}
	return created, nil
}

// Login checks credentials. An unknown email yields store.ErrNotFound and
// a wrong password ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = normalizeEmail(email)
	if err := requireFields("email", email, "password", password); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}
	return s.issue(user)
}

// CurrentUser returns the account behind an authenticated request.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (types.User, error) {
	id, err := parseRecordID(userID)
	if err != nil {
		return types.User{}, err
	}
	return s.users.GetByID(ctx, id)
}

func (s *AuthService) issue(user types.User) (AuthResult, error) {
	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
