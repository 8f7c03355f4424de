// Package web provides the PulseBoard HTTP server: the JSON API, the GitLab
// webhook endpoint, and per-board SSE event streams.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/pulseboard/pulseboard/internal/automation"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/db"
	"github.com/pulseboard/pulseboard/internal/gitlab"
)

// Server is the PulseBoard web server.
type Server struct {
	store  *db.Store
	db     *db.DB
	logger *slog.Logger
	server *http.Server

	hub         *Hub
	engine      *automation.Engine
	reconciler  *gitlab.Reconciler
	connections *gitlab.ConnectionService
	syncer      *gitlab.Syncer
	markdown    goldmark.Markdown

	webhookPrefix string
}

// NewServer wires the core subsystem together around a database handle.
func NewServer(database *db.DB, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store := db.NewStore(database)
	hub := NewHub(logger)

	reconciler, err := gitlab.NewReconciler(store, cfg.GitLab.LinkPattern, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	return &Server{
		store:       store,
		db:          database,
		logger:      logger,
		hub:         hub,
		engine:      automation.NewEngine(store, hub, logger),
		reconciler:  reconciler,
		connections: gitlab.NewConnectionService(store, nil, cfg.WebhookBaseURL(), logger),
		syncer: gitlab.NewSyncer(store, nil,
			cfg.GitLab.SyncStaleness.Duration,
			cfg.GitLab.SyncBatchSize,
			logger),
		markdown:      goldmark.New(),
		webhookPrefix: cfg.Server.WebhookPrefix,
	}, nil
}

// Syncer returns the link syncer so callers can schedule periodic runs.
func (s *Server) Syncer() *gitlab.Syncer {
	return s.syncer
}

// Engine returns the rule engine so callers can schedule the due-date sweep.
func (s *Server) Engine() *automation.Engine {
	return s.engine
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// routes builds the router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withLogging)

	// GitLab webhook ingress, one route per connection
	r.Post(s.webhookPrefix+"/{connectionID}", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/teams/{teamID}/boards", s.apiGetBoards)
		r.Get("/teams/{teamID}/connections", s.apiGetConnections)

		r.Get("/boards/{boardID}", s.apiGetBoard)
		r.Get("/boards/{boardID}/events", s.handleBoardEvents)
		r.Post("/boards/{boardID}/tasks", s.apiCreateTask)

		r.Get("/tasks/{id}", s.apiGetTask)
		r.Post("/tasks/{id}/move", s.apiMoveTask)
		r.Post("/tasks/{id}/assignees", s.apiAssignUser)
		r.Post("/tasks/{id}/labels", s.apiAddLabel)
		r.Post("/tasks/{id}/comments", s.apiCreateComment)
		r.Get("/tasks/{id}/dependencies", s.apiGetDependencies)
		r.Post("/tasks/{id}/dependencies", s.apiCreateDependency)
		r.Get("/tasks/{id}/links", s.apiGetTaskLinks)
		r.Delete("/links/{id}", s.apiDeleteLink)

		r.Get("/boards/{boardID}/rules", s.apiGetRules)
		r.Post("/boards/{boardID}/rules", s.apiCreateRule)
		r.Patch("/rules/{id}", s.apiUpdateRule)
		r.Delete("/rules/{id}", s.apiDeleteRule)

		r.Post("/connections", s.apiCreateConnection)
		r.Post("/connections/{id}/test", s.apiTestConnection)
		r.Delete("/connections/{id}", s.apiDeleteConnection)
		r.Post("/connections/{id}/projects", s.apiLinkProject)
		r.Delete("/projects/{id}", s.apiUnlinkProject)

		r.Post("/sync/run", s.apiRunSync)
	})

	return r
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withLogging wraps a handler with request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
