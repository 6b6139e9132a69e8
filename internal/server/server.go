package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fundora/apiserver/config"
	"github.com/fundora/apiserver/internal/auth"
	"github.com/fundora/apiserver/internal/cleanup"
	"github.com/fundora/apiserver/internal/db"
	"github.com/fundora/apiserver/internal/handlers"
	"github.com/fundora/apiserver/internal/logging"
	"github.com/fundora/apiserver/internal/mq"
	"github.com/fundora/apiserver/internal/services"
	"github.com/fundora/apiserver/internal/storage"
	"github.com/fundora/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v1"

// Dependencies are the collaborators the router dispatches to.
type Dependencies struct {
	Logger         *zap.Logger
	Verifier       handlers.TokenVerifier
	Auth           *services.AuthService
	Projects       *services.ProjectService
	Expenses       *services.ExpenseService
	Summaries      *services.SummaryService
	Uploads        services.ObjectStore
	CORSOrigins    []string
	AuthRateLimit  int
	TrustedProxies []*net.IPNet // peers allowed to set X-Forwarded-For
}

// NewRouter wires middleware and every route.
func NewRouter(deps Dependencies) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		logging.Middleware(logger),
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.Timeout(60*time.Second),
	)

	router.Get("/healthz", handlers.Healthz)
	router.Route("/uploads", func(r chi.Router) {
		handlers.UploadsRouter(r, deps.Uploads, logger)
	})
	router.Route(apiPrefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(handlers.NewRateLimiter(deps.AuthRateLimit).Middleware(handlers.ClientIP(deps.TrustedProxies)))
			handlers.AuthRouter(r, deps.Auth, deps.Verifier, logger)
		})
		r.Route("/projects", func(r chi.Router) {
			r.Use(handlers.RequireAuth(deps.Verifier))
			handlers.ProjectRouter(r, deps.Projects, deps.Summaries, logger, func(r chi.Router) {
				handlers.ExpenseRouter(r, deps.Projects, deps.Expenses, logger)
			})
		})
	})

	return router
}

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sqlx.DB
	broker     *mq.MQ
	inline     *cleanup.Inline
	logger     *zap.Logger
}

// New opens the database, object storage and cleanup broker configured in
// cfg and builds the server around them.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	trusted, err := handlers.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	broker, err := mq.Connect(ctx, cfg.Cleanup)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	inline := cleanup.NewInline(objects, logger)
	var scheduler services.CleanupScheduler = inline
	if broker != nil {
		scheduler = cleanup.NewQueued(broker, cfg.Cleanup.Channel, inline, logger)
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	uploads := services.NewUploader(objects)
	expenseRepo := store.NewExpenseRepository(dbConn)
	projectService := services.NewProjectService(store.NewProjectRepository(dbConn))

	router := NewRouter(Dependencies{
		Logger:         logger,
		Verifier:       issuer,
		Auth:           services.NewAuthService(store.NewUserRepository(dbConn), issuer, uploads, scheduler),
		Projects:       projectService,
		Expenses:       services.NewExpenseService(expenseRepo, uploads, scheduler),
		Summaries:      services.NewSummaryService(projectService, expenseRepo),
		Uploads:        objects,
		CORSOrigins:    cfg.CORSOrigins,
		AuthRateLimit:  cfg.AuthRateLimit,
		TrustedProxies: trusted,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		broker:     broker,
		inline:     inline,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, waits for pending receipt deletions
// and releases the broker and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.inline.Wait()
	if s.broker != nil {
		err = errors.Join(err, s.broker.Close())
	}
	if s.db != nil {
		err = errors.Join(err, s.db.Close())
	}
	return err
}
