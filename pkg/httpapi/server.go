package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/appfoundry/publisher/pkg/auth"
	"github.com/appfoundry/publisher/pkg/history"
	"github.com/appfoundry/publisher/pkg/results"
	"github.com/appfoundry/publisher/pkg/task"
	"github.com/appfoundry/publisher/pkg/tasks"
)

// Builder runs one build attempt. Implemented by builder.Orchestrator.
type Builder interface {
	Build(ctx context.Context, req task.Request) (task.Record, task.Result, error)
}

// Notifier delivers an outcome to the evaluation callback.
type Notifier interface {
	Deliver(ctx context.Context, callbackURL string, payload any) error
}

// TokenChecker reports whether the hosting credential is currently usable.
type TokenChecker interface {
	AuthenticatedUser(ctx context.Context) (string, error)
}

// Config captures the handler-level settings.
type Config struct {
	SharedSecret string
	StaticDir    string
}

// Server is the task dispatcher: it validates requests, decides between
// synchronous and asynchronous execution, and answers polling queries from
// the result cache.
type Server struct {
	cfg        Config
	builder    Builder
	notifier   Notifier
	hosting    TokenChecker
	cache      *results.Cache
	history    *history.PostgresStore
	supervisor *tasks.Supervisor
}

func NewServer(cfg Config, b Builder, n Notifier, hosting TokenChecker, cache *results.Cache, hist *history.PostgresStore, sup *tasks.Supervisor) *Server {
	return &Server{
		cfg:        cfg,
		builder:    b,
		notifier:   n,
		hosting:    hosting,
		cache:      cache,
		history:    hist,
		supervisor: sup,
	}
}

// Router assembles the chi router with the standard middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/api-endpoint", s.handleSubmit)
	r.Get("/result", s.handleResult)
	r.Get("/health", s.handleHealth)
	r.Get("/api/builds", s.handleListBuilds)

	if s.cfg.StaticDir != "" {
		r.Get("/", s.handleIndex)
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
	}

	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req task.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := auth.VerifySecret(s.cfg.SharedSecret, req.Secret); err != nil {
		respondError(w, http.StatusForbidden, "invalid secret")
		return
	}

	if req.WaitForResult {
		_, res, err := s.builder.Build(r.Context(), req)
		if err != nil {
			log.Printf("synchronous build failed for %s: %v", req.Key(), err)
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// Notification must never block the response.
		s.supervisor.Go("notify:"+req.Key(), func() {
			if err := s.notifier.Deliver(context.Background(), req.EvaluationURL, res); err != nil {
				log.Printf("notify evaluation for %s: %v", req.Key(), err)
			}
		})

		respondJSON(w, res, http.StatusOK)
		return
	}

	s.supervisor.Go("build:"+req.Key(), func() { s.runBuild(req) })
	respondJSON(w, map[string]string{"status": "accepted"}, http.StatusOK)
}

// runBuild is the asynchronous build-then-notify sequence. Build errors are
// never surfaced to the submitter; they land in the cache as a failed entry
// so pollers can distinguish failure from a build still in flight.
func (s *Server) runBuild(req task.Request) {
	ctx := context.Background()

	_, res, err := s.builder.Build(ctx, req)
	if err != nil {
		log.Printf("background build failed for %s: %v", req.Key(), err)
		s.cache.PutFailed(req.Key(), task.Result{
			Status:  task.StatusFailed,
			Message: err.Error(),
			Round:   req.Round,
			Task:    req.Task,
		})
		return
	}

	if err := s.notifier.Deliver(ctx, req.EvaluationURL, res); err != nil {
		log.Printf("notify evaluation for %s: %v", req.Key(), err)
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	taskID := r.URL.Query().Get("task")
	nonce := r.URL.Query().Get("nonce")

	if email == "" || taskID == "" {
		respondError(w, http.StatusBadRequest, "email and task are required")
		return
	}

	res, ok := s.cache.Get(r.Context(), email, taskID, nonce)
	if !ok {
		respondJSON(w, map[string]string{"status": "pending"}, http.StatusOK)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"ok": true}

	user, err := s.hosting.AuthenticatedUser(r.Context())
	if err != nil {
		status["github_token_valid"] = false
	} else {
		status["github_token_valid"] = true
		status["github_user"] = user
	}

	respondJSON(w, status, http.StatusOK)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondJSON(w, map[string]any{"builds": []history.Attempt{}}, http.StatusOK)
		return
	}

	attempts, err := s.history.ListRecent(50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if attempts == nil {
		attempts = []history.Attempt{}
	}
	respondJSON(w, map[string]any{"builds": attempts}, http.StatusOK)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
