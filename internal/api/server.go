// Package api is the HTTP control surface: invocation submission, agent and
// budget introspection, approvals, policy reload, and the SSE event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/approval"
	"github.com/jcarver/tower/internal/auth"
	"github.com/jcarver/tower/internal/config"
	"github.com/jcarver/tower/internal/dispatch"
	"github.com/jcarver/tower/internal/ledger"
	"github.com/jcarver/tower/internal/observe"
	"github.com/jcarver/tower/internal/registry"
)

// InvocationSubmitter runs one invocation to a terminal state.
type InvocationSubmitter interface {
	Submit(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// AgentSupervisor exposes supervisor introspection and manual recovery.
type AgentSupervisor interface {
	Snapshot() []agent.Descriptor
	Reset(name string) error
}

// ApprovalGate exposes the pending approval queue.
type ApprovalGate interface {
	Pending() []approval.Request
	Resolve(invocationID string, approved bool) error
}

// BudgetService exposes ledger state and the model advisor.
type BudgetService interface {
	CheckBudget() ledger.BudgetState
	Reset(ctx context.Context) error
	UsageByModel(ctx context.Context) (map[string]ledger.ModelUsage, error)
	RecommendModel(complexity, currentModel string) (ledger.Suggestion, error)
}

// PolicyService swaps the active guardrail rule set.
type PolicyService interface {
	Reload(rules []config.RuleConfig) error
	RuleCount() int
}

// AuditTrail reads back the persisted audit history of an invocation.
type AuditTrail interface {
	RecentByInvocation(ctx context.Context, invocationID string) ([]observe.AuditEvent, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the single admin bearer token. Prefer Tokens for scoped access.
	APIKey string
	Tokens []auth.TokenConfig
	// ReloadRules re-reads the policy rule set from configuration.
	ReloadRules func() ([]config.RuleConfig, error)
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	dispatcher InvocationSubmitter
	supervisor AgentSupervisor
	approvals  ApprovalGate
	budget     BudgetService
	policy     PolicyService
	trail      AuditTrail
	capsrc     *registry.Registry
	hub        *observe.Hub
	registry   *prometheus.Registry
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates the API server instance.
func New(cfg Config, d InvocationSubmitter, sup AgentSupervisor, ap ApprovalGate,
	budget BudgetService, policy PolicyService, trail AuditTrail, caps *registry.Registry,
	hub *observe.Hub, promReg *prometheus.Registry, logger *slog.Logger) *Server {
	return &Server{
		config:     cfg,
		dispatcher: d,
		supervisor: sup,
		approvals:  ap,
		budget:     budget,
		policy:     policy,
		trail:      trail,
		capsrc:     caps,
		hub:        hub,
		registry:   promReg,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Long write timeout: invocations can hold for human approval.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("invoke:rw", "*")).Post("/v1/invocations", s.handleSubmitInvocation)
		r.With(s.requireScopes("events:ro", "*")).Get("/v1/invocations/{invocationID}/audit", s.handleInvocationAudit)
		r.With(s.requireScopes("agents:ro", "agents:rw", "*")).Get("/v1/agents", s.handleListAgents)
		r.With(s.requireScopes("agents:rw", "*")).Post("/v1/agents/{agent}/reset", s.handleResetAgent)
		r.With(s.requireScopes("agents:ro", "agents:rw", "*")).Get("/v1/capabilities", s.handleListCapabilities)
		r.With(s.requireScopes("budget:ro", "budget:rw", "*")).Get("/v1/budget", s.handleGetBudget)
		r.With(s.requireScopes("budget:rw", "*")).Post("/v1/budget/reset", s.handleResetBudget)
		r.With(s.requireScopes("budget:ro", "budget:rw", "*")).Get("/v1/recommendation", s.handleRecommendation)
		r.With(s.requireScopes("approvals:ro", "approvals:rw", "*")).Get("/v1/approvals", s.handleListApprovals)
		r.With(s.requireScopes("approvals:rw", "*")).Post("/v1/approvals/{invocationID}", s.handleResolveApproval)
		r.With(s.requireScopes("policy:rw", "*")).Post("/v1/policy/reload", s.handleReloadPolicy)
		r.With(s.requireScopes("events:ro", "*")).Get("/v1/events", s.handleEvents)
	})

	return r
}

// authMiddleware validates the bearer token and attaches the principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes gates a route on the principal holding at least one scope.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
