package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcarver/tower/internal/agent"
	"github.com/jcarver/tower/internal/dispatch"
	"github.com/jcarver/tower/internal/registry"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snapshot := s.supervisor.Snapshot()
	ready := 0
	for _, d := range snapshot {
		if d.Health == agent.HealthReady {
			ready++
		}
	}

	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		AgentsReady:   ready,
		AgentsTotal:   len(snapshot),
		RulesLoaded:   s.policy.RuleCount(),
	})
}

// handleSubmitInvocation handles POST /v1/invocations. The request blocks
// until the invocation reaches a terminal state, approval holds included.
func (s *Server) handleSubmitInvocation(w http.ResponseWriter, r *http.Request) {
	var req InvocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Agent == "" || req.Tool == "" {
		s.writeError(w, http.StatusBadRequest, "agent and tool are required")
		return
	}

	result, err := s.dispatcher.Submit(r.Context(), dispatch.Request{
		Agent:     req.Agent,
		Tool:      req.Tool,
		Action:    req.Action,
		Arguments: req.Arguments,
	})

	resp := InvocationResponse{
		InvocationID: result.InvocationID,
		Status:       result.Status,
		Content:      result.Content,
		RuleID:       result.RuleID,
		Reason:       result.Reason,
		DurationMs:   result.Duration.Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	s.writeJSON(w, invocationStatusCode(result.Status, err), resp)
}

// invocationStatusCode maps terminal invocation states to HTTP codes. The
// invocation itself always ran to a terminal state, so these are all
// well-formed responses rather than transport failures.
func invocationStatusCode(status string, err error) int {
	switch status {
	case dispatch.StatusCompleted:
		return http.StatusOK
	case dispatch.StatusBlocked, dispatch.StatusDenied:
		return http.StatusForbidden
	case dispatch.StatusApprovalTimeout, dispatch.StatusTimedOut:
		return http.StatusGatewayTimeout
	case dispatch.StatusRejected:
		switch {
		case errors.Is(err, registry.ErrUnknownTool):
			return http.StatusNotFound
		case errors.Is(err, dispatch.ErrBudgetExhausted):
			return http.StatusPaymentRequired
		default:
			return http.StatusBadRequest
		}
	default:
		return http.StatusBadGateway
	}
}

// handleInvocationAudit handles GET /v1/invocations/{invocationID}/audit.
// The trail is read from durable storage, so recently emitted events may
// still be in the write buffer.
func (s *Server) handleInvocationAudit(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		s.writeError(w, http.StatusNotImplemented, "audit trail not configured")
		return
	}

	invocationID := chi.URLParam(r, "invocationID")
	trail, err := s.trail.RecentByInvocation(r.Context(), invocationID)
	if err != nil {
		s.logger.Error("failed to read audit trail", "invocation_id", invocationID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}
	if len(trail) == 0 {
		s.writeError(w, http.StatusNotFound, "no audit records for invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"invocation_id": invocationID,
		"trail":         trail,
	})
}

// handleListAgents handles GET /v1/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"agents": s.supervisor.Snapshot(),
	})
}

// handleResetAgent handles POST /v1/agents/{agent}/reset.
func (s *Server) handleResetAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent")
	if err := s.supervisor.Reset(name); err != nil {
		if errors.Is(err, agent.ErrUnknownAgent) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"agent": name, "status": "resetting"})
}

// handleListCapabilities handles GET /v1/capabilities.
func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": s.capsrc.Capabilities(),
	})
}

// handleGetBudget handles GET /v1/budget.
func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	state := s.budget.CheckBudget()

	byModel, err := s.budget.UsageByModel(r.Context())
	if err != nil {
		s.logger.Error("failed to aggregate usage", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate usage")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"budget":   state,
		"by_model": byModel,
	})
}

// handleResetBudget handles POST /v1/budget/reset.
func (s *Server) handleResetBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.budget.Reset(r.Context()); err != nil {
		s.logger.Error("budget reset failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "budget reset failed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.budget.CheckBudget())
}

// handleRecommendation handles GET /v1/recommendation?complexity=&model=.
func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	complexity := r.URL.Query().Get("complexity")
	current := r.URL.Query().Get("model")

	suggestion, err := s.budget.RecommendModel(complexity, current)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, suggestion)
}

// handleListApprovals handles GET /v1/approvals.
func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pending": s.approvals.Pending(),
	})
}

// handleResolveApproval handles POST /v1/approvals/{invocationID}.
func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	invocationID := chi.URLParam(r, "invocationID")

	var decision ApprovalDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.approvals.Resolve(invocationID, decision.Approved); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"invocation_id": invocationID,
		"approved":      decision.Approved,
	})
}

// handleReloadPolicy handles POST /v1/policy/reload. The rule set is re-read
// from configuration and compiled before the swap; a bad rule set leaves the
// active rules untouched.
func (s *Server) handleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if s.config.ReloadRules == nil {
		s.writeError(w, http.StatusNotImplemented, "policy reload not configured")
		return
	}

	rules, err := s.config.ReloadRules()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to re-read policy rules: "+err.Error())
		return
	}
	if err := s.policy.Reload(rules); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"rules_loaded": s.policy.RuleCount(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
