package handlers

import (
	"net/http"

	"github.com/BaSui01/knowledgeflow/api"
	"github.com/BaSui01/knowledgeflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// Agent Tool Catalogue Handler
// =============================================================================

// ToolCatalog lists the tools offered to the agent loop, implemented by *agent.Registry
type ToolCatalog interface {
	Schemas() []types.ToolSchema
}

// AgentHandler exposes the agent tool catalogue
type AgentHandler struct {
	tools  ToolCatalog
	logger *zap.Logger
}

// NewAgentHandler creates an Agent handler. A nil catalogue means agent mode is disabled.
func NewAgentHandler(tools ToolCatalog, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{tools: tools, logger: logger}
}

// HandleListTools lists the tools available in agent mode
// @Summary List agent tools
// @Description Get the schemas of every tool the agent may call
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=api.ToolListResponse} "Tool list"
// @Failure 503 {object} Response "Agent mode disabled"
// @Router /api/v1/agent/tools [get]
func (h *AgentHandler) HandleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	if h.tools == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "agent mode is not enabled", h.logger)
		return
	}

	schemas := h.tools.Schemas()
	resp := api.ToolListResponse{Tools: make([]api.ToolSchema, 0, len(schemas))}
	for _, s := range schemas {
		resp.Tools = append(resp.Tools, api.ToolSchema{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	WriteSuccess(w, resp)
}
