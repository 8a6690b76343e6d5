package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/missionengine/internal/auth"
	"github.com/mbd888/missionengine/internal/metrics"
)

// setupRoutes registers the facade's thin 1:1 mapping over mission,
// registry, and relayer, per the HTTP surface shape in spec §6: every
// handler decodes its request, calls exactly one domain method, and
// maps the result/error straight to JSON.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.POST("/missions", s.createMission)
	s.router.GET("/missions", s.listMissions)
	s.router.GET("/missions/:id", s.getMission)
	s.router.POST("/missions/:id/start", auth.RequireAuth(), s.startMission)
	s.router.POST("/missions/:id/submit", auth.RequireAuth(), s.submitMission)
	s.router.POST("/missions/:id/vote", auth.RequireAuth(), s.voteMission)
	// Bid submission is not named in spec §6's illustrative HTTP shape
	// but is required for AssignmentMode bidding to be reachable over
	// HTTP at all, so it is added here in the same thin-mapping style.
	s.router.POST("/missions/:id/bid", auth.RequireAuth(), s.bidMission)

	s.router.POST("/agents", s.registerAgent)
	s.router.GET("/agents", s.listAgents)

	s.router.POST("/sign/accept", s.signAccept)
	s.router.POST("/sign/reject", s.signReject)

	// Dispatch poll/ack surfaces C9 to the workers it assigns tasks to;
	// like /missions/:id/bid, it is outside spec §6's illustrative list
	// but is the only way an agent process learns it has been assigned
	// work without this facade pushing to it.
	dispatchGroup := s.router.Group("/dispatch")
	dispatchGroup.Use(auth.RequireAuth())
	dispatchGroup.POST("/poll", s.dispatchPoll)
	dispatchGroup.POST("/ack", s.dispatchAck)
}

func (s *Server) healthHandler(c *gin.Context) {
	status := "healthy"
	httpStatus := http.StatusOK
	checks := map[string]string{}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "healthy"
		}
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks, "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
