package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextKeyAPIKey  = "apiKey"
	ContextKeyAgentID = "authAgentID"
)

// Middleware extracts and validates the bearer API key, if present.
// It never rejects by itself — RequireAuth/RequireOwnership do that —
// so public endpoints can still read GetAuthenticatedAgent opportunistically.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}
		if raw != "" {
			if key, err := m.ValidateKey(c.Request.Context(), raw); err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAgentID, key.AgentID)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid API key.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextKeyAPIKey); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
				"hint":  "include 'Authorization: Bearer sk_...'",
			})
			return
		}
		c.Next()
	}
}

// RequireOwnership requires auth and that the caller's key belongs to
// the agent named by the given path/body param.
func RequireOwnership(paramAgentID func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextKeyAPIKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		key := v.(*APIKey)
		target := paramAgentID(c)
		if target == "" || key.AgentID != target {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden",
				"hint":  "API key does not belong to this agent",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin restricts access to operators via a shared secret header,
// compared in constant time.
func RequireAdmin(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminSecret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden",
				"hint":  "admin access is disabled: ADMIN_SECRET is not configured",
			})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(adminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// GetAuthenticatedAgent returns the caller's agent ID, or "" if unauthenticated.
func GetAuthenticatedAgent(c *gin.Context) string {
	v, ok := c.Get(ContextKeyAgentID)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
