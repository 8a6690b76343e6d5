package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/assignment"
	"github.com/mbd888/missionengine/internal/auth"
	"github.com/mbd888/missionengine/internal/consensus"
	"github.com/mbd888/missionengine/internal/mission"
)

type createMissionRequest struct {
	RequesterID      string   `json:"requesterId" binding:"required"`
	Objective        string   `json:"objective" binding:"required"`
	Reward           int64    `json:"reward" binding:"required"`
	Deadline         time.Time `json:"deadline" binding:"required"`
	Specialties      []string `json:"specialties"`
	Risk             string   `json:"risk" binding:"required"`
	AssignmentMode   string   `json:"assignmentMode" binding:"required"`
	DirectHireTarget string   `json:"directHireTarget"`
}

func (s *Server) createMission(c *gin.Context) {
	var req createMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	m, err := s.mission.Create(c.Request.Context(), mission.CreateRequest{
		RequesterID:      req.RequesterID,
		Objective:        req.Objective,
		Reward:           amount.Amount(req.Reward),
		Deadline:         req.Deadline,
		Specialties:      req.Specialties,
		Risk:             mission.Risk(req.Risk),
		AssignmentMode:   mission.AssignmentMode(req.AssignmentMode),
		DirectHireTarget: req.DirectHireTarget,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) listMissions(c *gin.Context) {
	q := mission.Query{
		RequesterID: c.Query("requesterId"),
		Status:      mission.Status(c.Query("status")),
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}
	missions, err := s.mission.List(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, missions)
}

func (s *Server) getMission(c *gin.Context) {
	m, err := s.mission.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type bidRequest struct {
	Price      int64         `json:"price" binding:"required"`
	ETASeconds int           `json:"etaSeconds"`
	BondPledge int64         `json:"bondPledge"`
}

func (s *Server) bidMission(c *gin.Context) {
	agentID := auth.GetAuthenticatedAgent(c)
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	m, err := s.mission.SubmitBid(c.Request.Context(), c.Param("id"), assignment.Bid{
		AgentID:     agentID,
		Price:       amount.Amount(req.Price),
		ETA:         time.Duration(req.ETASeconds) * time.Second,
		BondPledge:  amount.Amount(req.BondPledge),
		SubmittedAt: time.Now(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) startMission(c *gin.Context) {
	agentID := auth.GetAuthenticatedAgent(c)
	m, err := s.mission.Start(c.Request.Context(), c.Param("id"), agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type submitRequest struct {
	Artifacts []mission.Artifact `json:"artifacts" binding:"required"`
}

func (s *Server) submitMission(c *gin.Context) {
	agentID := auth.GetAuthenticatedAgent(c)
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	m, err := s.mission.Submit(c.Request.Context(), c.Param("id"), agentID, req.Artifacts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type voteRequest struct {
	Verdict string `json:"verdict" binding:"required"`
}

func (s *Server) voteMission(c *gin.Context) {
	agentID := auth.GetAuthenticatedAgent(c)
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	m, err := s.mission.Vote(c.Request.Context(), c.Param("id"), agentID, consensus.Verdict(req.Verdict))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) dispatchPoll(c *gin.Context) {
	agentID := auth.GetAuthenticatedAgent(c)
	tasks, more, err := s.dispatch.Poll(c.Request.Context(), agentID, queryInt(c, "limit", 10))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "more": more})
}

type ackRequest struct {
	TaskIDs []string `json:"taskIds" binding:"required"`
}

func (s *Server) dispatchAck(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := s.dispatch.Ack(c.Request.Context(), req.TaskIDs); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
