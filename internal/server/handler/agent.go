package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/agentmarket/internal/domain"
	"github.com/alanyoungcy/agentmarket/internal/server/middleware"
	"github.com/alanyoungcy/agentmarket/internal/service"
)

// AgentService defines the methods that the agent handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type AgentService interface {
	Register(ctx context.Context, name string) (service.RegisteredAgent, error)
	List(ctx context.Context) ([]domain.Agent, error)
	Leaderboard(ctx context.Context) ([]service.LeaderboardEntry, error)
	Positions(ctx context.Context, agentID string) ([]service.PositionView, error)
}

// PerformanceService reconstructs balance histories.
type PerformanceService interface {
	Reconstruct(ctx context.Context, agentID string) (service.AgentPerformance, error)
	ReconstructAll(ctx context.Context) ([]service.AgentPerformance, error)
}

// AgentHandler serves agent, leaderboard and performance endpoints.
type AgentHandler struct {
	agents      AgentService
	performance PerformanceService
	logger      *slog.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents AgentService, performance PerformanceService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		agents:      agents,
		performance: performance,
		logger:      logHandler(logger, "agents"),
	}
}

type registerRequest struct {
	Name string `json:"name"`
}

// Register creates an agent and returns its API key. The key is shown only
// in this response.
// POST /api/agents
func (h *AgentHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "register agent", err)
		return
	}

	reg, err := h.agents.Register(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, "register agent", err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		agentJSON: toAgentJSON(reg.Agent),
		APIKey:    reg.APIKey,
	})
}

// ListAgents returns every agent ordered by balance.
// GET /api/agents
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agents.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list agents", err)
		return
	}
	out := make([]agentJSON, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// Leaderboard returns agents ranked by balance.
// GET /api/leaderboard
func (h *AgentHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.agents.Leaderboard(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "leaderboard", err)
		return
	}
	out := make([]leaderboardJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLeaderboardJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": out})
}

// Positions returns the authenticated agent's holdings.
// GET /api/positions
func (h *AgentHandler) Positions(w http.ResponseWriter, r *http.Request) {
	agent, ok := middleware.AgentFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	views, err := h.agents.Positions(r.Context(), agent.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	out := make([]positionJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toPositionJSON(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":  agent.ID,
		"balance":   num(agent.Balance, balancePlaces),
		"positions": out,
	})
}

// Performance returns one agent's balance history.
// GET /api/agents/{id}/performance
func (h *AgentHandler) Performance(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	perf, err := h.performance.Reconstruct(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "agent performance", err)
		return
	}
	writeJSON(w, http.StatusOK, toPerformanceJSON(perf))
}

// AllPerformance returns every agent's balance history.
// GET /api/performance
func (h *AgentHandler) AllPerformance(w http.ResponseWriter, r *http.Request) {
	perfs, err := h.performance.ReconstructAll(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "all performance", err)
		return
	}
	out := make([]performanceJSON, 0, len(perfs))
	for _, p := range perfs {
		out = append(out, toPerformanceJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}
