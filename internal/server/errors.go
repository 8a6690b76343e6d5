package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/missionengine/internal/mission"
	"github.com/mbd888/missionengine/internal/registry"
	"github.com/mbd888/missionengine/internal/relayer"
)

// errorBody is the facade's uniform error shape: {error, code, hint?}.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Hint  string `json:"hint,omitempty"`
}

// writeError maps a domain error to its HTTP status and emits the
// uniform error body. Unmapped errors are treated as internal.
func writeError(c *gin.Context, err error) {
	status, code, hint := classifyError(err)
	c.AbortWithStatusJSON(status, errorBody{Error: err.Error(), Code: code, Hint: hint})
}

func classifyError(err error) (status int, code string, hint string) {
	var safety *relayer.SafetyRejection
	var badReq *badRequestError

	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, "invalid_request", badReq.Error()
	case errors.Is(err, mission.ErrNotFound):
		return http.StatusNotFound, "mission_not_found", ""
	case errors.Is(err, registry.ErrAgentNotFound):
		return http.StatusNotFound, "agent_not_found", ""
	case errors.Is(err, registry.ErrAgentExists):
		return http.StatusConflict, "agent_exists", ""
	case errors.Is(err, registry.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid_address", ""
	case errors.Is(err, registry.ErrInvalidRole):
		return http.StatusBadRequest, "invalid_role", "role must be worker or verifier"
	case errors.Is(err, mission.ErrInvalidState),
		errors.Is(err, mission.ErrNotTerminal),
		errors.Is(err, mission.ErrMaxRevisions),
		errors.Is(err, mission.ErrBelowThreshold),
		errors.Is(err, mission.ErrAboveThreshold):
		return http.StatusConflict, "invalid_state", ""
	case errors.Is(err, mission.ErrNotAssignedWorker), errors.Is(err, mission.ErrUnknownVerifier):
		return http.StatusForbidden, "not_authorized", "caller is not party to this mission"
	case errors.Is(err, mission.ErrNoArtifacts):
		return http.StatusBadRequest, "no_artifacts", "submit requires at least one artifact"
	case errors.Is(err, mission.ErrDuplicateVote):
		return http.StatusConflict, "duplicate_vote", ""
	case errors.Is(err, relayer.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable", "retry shortly"
	case errors.Is(err, relayer.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", ""
	case errors.As(err, &safety):
		return http.StatusConflict, "safety_rejection", safety.Reason
	default:
		return http.StatusInternalServerError, "internal_error", ""
	}
}
