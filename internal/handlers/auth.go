package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fundora/apiserver/internal/services"
	"github.com/fundora/apiserver/internal/store"
	"github.com/fundora/apiserver/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	formFieldFullName   = "fullName"
	formFieldEmail      = "email"
	formFieldPassword   = "password"
	formFieldProfilePic = "profilePic"
)

// TokenVerifier resolves a bearer token to its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthHandler provides registration, login and session endpoints.
type AuthHandler struct {
	authService *services.AuthService
	errors      errorWriter
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		errors:      errorWriter{logger: logger},
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, verifier TokenVerifier, logger *zap.Logger) {
	handler := NewAuthHandler(authService, logger)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.With(RequireAuth(verifier)).Get("/getUser", handler.GetUser)
}

// RequireAuth enforces bearer authentication and injects the subject into
// the request context.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			subject, err := verifier.Verify(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Register creates an account from a multipart form and returns a token.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, services.MaxProfileImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profilePic, err := formFile(r.MultipartForm, formFieldProfilePic, services.MaxProfileImageBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.Register(r.Context(), services.RegisterInput{
		FullName:     r.FormValue(formFieldFullName),
		Email:        r.FormValue(formFieldEmail),
		Password:     r.FormValue(formFieldPassword),
		ProfileImage: profilePic,
	})
	if err != nil {
		h.errors.write(w, r, err, "user not found", "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, newAuthResponse(result))
}

// Login verifies credentials and returns a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// An unknown email is a client error here, not a missing resource.
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "user not found")
			return
		}
		h.errors.write(w, r, err, "user not found", "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, newAuthResponse(result))
}

// GetUser returns the authenticated user.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), userID)
	if err != nil {
		h.errors.write(w, r, err, "user not found", "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	ID    string     `json:"id"`
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

func newAuthResponse(result services.AuthResult) AuthResponse {
	return AuthResponse{
		ID:    result.User.ID,
		User:  result.User,
		Token: result.Token,
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
