package server

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/missionengine/internal/relayer"
)

var errRelayerDisabled = errors.New("relayer: not configured, set CHAIN_RPC_URL/SIGNER_KEY")

type signAcceptRequest struct {
	ProposalID string `json:"proposalId" binding:"required"`
	Worker     string `json:"worker" binding:"required"`
	Verifier   string `json:"verifier" binding:"required"`
	WorkerBond string `json:"workerBond" binding:"required"`
	Deadline   time.Time `json:"deadline" binding:"required"`
}

func (s *Server) signAccept(c *gin.Context) {
	if s.relayer == nil {
		writeError(c, errRelayerDisabled)
		return
	}
	var req signAcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	bond, ok := new(big.Int).SetString(req.WorkerBond, 10)
	if !ok {
		writeError(c, badRequest(errors.New("workerBond must be a decimal integer string")))
		return
	}
	msg, err := s.relayer.AcceptProposal(c.Request.Context(), relayer.AcceptRequest{
		ProposalID: req.ProposalID,
		Worker:     common.HexToAddress(req.Worker),
		Verifier:   common.HexToAddress(req.Verifier),
		WorkerBond: bond,
		Deadline:   req.Deadline,
		ClientIP:   c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type signRejectRequest struct {
	ProposalID string    `json:"proposalId" binding:"required"`
	Reason     string    `json:"reason" binding:"required"`
	Deadline   time.Time `json:"deadline" binding:"required"`
}

func (s *Server) signReject(c *gin.Context) {
	if s.relayer == nil {
		writeError(c, errRelayerDisabled)
		return
	}
	var req signRejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	msg, err := s.relayer.RejectProposal(c.Request.Context(), relayer.RejectRequest{
		ProposalID: req.ProposalID,
		Reason:     req.Reason,
		Deadline:   req.Deadline,
		ClientIP:   c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
