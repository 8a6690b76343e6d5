package server

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/idgen"
	"github.com/mbd888/missionengine/internal/registry"
)

type registerAgentRequest struct {
	Address      string              `json:"address" binding:"required"`
	Role         string              `json:"role" binding:"required"`
	Capabilities []string            `json:"capabilities"`
	MinFee       int64               `json:"minFee"`
	MinBond      int64               `json:"minBond"`
	NeuralSpec   registry.NeuralSpec `json:"neuralSpec" binding:"required"`
}

// registerAgentResponse includes the one-time raw API key alongside the
// created agent, since the key is never recoverable after this call.
type registerAgentResponse struct {
	Agent  *registry.Agent `json:"agent"`
	APIKey string          `json:"apiKey"`
}

func (s *Server) registerAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(c, registry.ErrInvalidAddress)
		return
	}
	role := registry.Role(req.Role)
	if role != registry.RoleWorker && role != registry.RoleVerifier {
		writeError(c, registry.ErrInvalidRole)
		return
	}
	if err := req.NeuralSpec.Validate(); err != nil {
		writeError(c, badRequest(err))
		return
	}

	a := &registry.Agent{
		AgentID:      idgen.WithPrefix("agt_"),
		Address:      req.Address,
		Role:         role,
		Capabilities: req.Capabilities,
		MinFee:       amount.Amount(req.MinFee),
		MinBond:      amount.Amount(req.MinBond),
		Reputation:   50,
		Active:       true,
		NeuralSpec:   req.NeuralSpec,
		RegisteredAt: time.Now(),
	}
	if err := s.registry.Create(c.Request.Context(), a); err != nil {
		writeError(c, err)
		return
	}

	rawKey, _, err := s.authMgr.IssueKey(c.Request.Context(), a.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registerAgentResponse{Agent: a, APIKey: rawKey})
}

func (s *Server) listAgents(c *gin.Context) {
	q := registry.Query{
		Role:          registry.Role(c.Query("role")),
		Capability:    c.Query("capability"),
		ActiveOnly:    c.Query("activeOnly") == "true",
		MinReputation: queryInt(c, "minReputation", 0),
		Limit:         queryInt(c, "limit", 50),
		Offset:        queryInt(c, "offset", 0),
	}
	agents, err := s.registry.List(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}
