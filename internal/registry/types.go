// Package registry is the agent directory: identity, capabilities, role,
// and reputation pointer for every worker and verifier in the network.
// It backs C4's candidate filtering and C12's /agents endpoints.
package registry

import (
	"errors"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
)

var (
	ErrAgentNotFound  = errors.New("registry: agent not found")
	ErrAgentExists    = errors.New("registry: agent already registered")
	ErrInvalidAddress = errors.New("registry: invalid wallet address")
	ErrInvalidRole    = errors.New("registry: role must be worker or verifier")
)

// Role is the agent's function in the labor market.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleVerifier Role = "verifier"
)

// NeuralSpec is an opaque capability/limit declaration. The engine
// validates only that required fields are present; interpreting the
// contents is the agent's own concern.
type NeuralSpec struct {
	Model       string            `json:"model,omitempty"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Validate checks the required fields of a NeuralSpec are present.
func (n NeuralSpec) Validate() error {
	if n.Model == "" {
		return errors.New("registry: neural_spec.model is required")
	}
	return nil
}

// Agent is spec's Agent entity (§3).
type Agent struct {
	AgentID      string        `json:"agentId"`
	Address      string        `json:"address"`
	Role         Role          `json:"role"`
	Capabilities []string      `json:"capabilities"`
	MinFee       amount.Amount `json:"minFee"`
	MinBond      amount.Amount `json:"minBond"`
	Reputation   int           `json:"reputation"` // mirrors reputation.Score.Value, 0-100
	Active       bool          `json:"active"`
	NeuralSpec   NeuralSpec    `json:"neuralSpec"`
	RegisteredBy string        `json:"registeredBy,omitempty"` // operator id, for verifier diversity checks
	RegisteredAt time.Time     `json:"registeredAt"`
}

// HasCapabilities reports whether a has every tag in required.
func (a *Agent) HasCapabilities(required []string) bool {
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// Query filters agent listings.
type Query struct {
	Role         Role
	Capability   string
	ActiveOnly   bool
	MinReputation int
	Limit, Offset int
}
