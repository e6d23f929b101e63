package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quizdesk/quizstore/internal/app"
	"github.com/quizdesk/quizstore/internal/handlers"
	"github.com/quizdesk/quizstore/internal/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	app        *app.App
	log        zerolog.Logger
}

// New constructs a Server over an opened App. The server owns the App and
// closes it on shutdown.
func New(a *app.App) (*Server, error) {
	cfg := a.Config
	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	log := a.Log.With().Str("component", "server").Logger()

	var (
		publisher services.Publisher
		migrator  services.Migrator
	)
	if a.Events != nil {
		publisher = a.Events
	}
	if a.Migrator != nil {
		migrator = a.Migrator
	}

	userService := services.NewUserService(a.Facade, cfg.Quiz.BcryptCost, a.Log)
	quizService := services.NewQuizService(a.Facade, publisher, cfg.MQ.QuizChannel, a.Log)
	adminService := services.NewAdminService(a.Facade, migrator, a.Log)

	authHandler := handlers.NewAuthHandler(userService, jwtSecret)
	quizHandler := handlers.NewQuizHandler(quizService)
	adminHandler := handlers.NewAdminHandler(adminService, quizService, userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		hlog.NewHandler(log),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(r.Context())).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(a.Facade.Mode()))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	handlers.QuizRouter(router, quizHandler, authHandler.RequireAuth, authHandler.RequireAdmin)
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, adminHandler, authHandler.RequireAuth, authHandler.RequireAdmin)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		app:        a,
		log:        log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Str("storage", string(s.app.Facade.Mode())).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.app.Close())
}
