package httpapi

import (
	"net/http"

	"contact-center/internal/agents"
	"contact-center/internal/audit"

	"github.com/gin-gonic/gin"
)

// RegisterAgent adds an agent, or returns the existing record when the id is
// already registered.
func (h Handlers) RegisterAgent(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	var req agents.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Agents.Register(c.Request.Context(), req)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) UnregisterAgent(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	if err := h.Agents.Unregister(c.Request.Context(), c.Param("id")); err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type heartbeatRequest struct {
	Status *agents.Status `json:"status,omitempty"`
}

// Heartbeat refreshes presence. The body is optional; when it names a status
// that status is applied as well.
func (h Handlers) Heartbeat(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	var req heartbeatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	a, err := h.Agents.HeartbeatWithStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type setStatusRequest struct {
	Status agents.Status `json:"status"`
}

// SetAgentStatus applies an explicit presence status and records the change
// in the audit trail.
func (h Handlers) SetAgentStatus(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !req.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be available, busy or offline"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	before, err := h.Agents.Get(ctx, id)
	if err != nil {
		abortError(c, err)
		return
	}
	after, err := h.Agents.SetStatus(ctx, id, req.Status)
	if err != nil {
		abortError(c, err)
		return
	}
	if h.Audit != nil && before.Status != after.Status {
		h.Audit.LogStatusOverride(audit.WithClientIP(ctx, c.ClientIP()), id, before.Status, after.Status)
	}
	c.JSON(http.StatusOK, after)
}

// ListAgents returns agents with their metrics, optionally filtered by
// ?status=.
func (h Handlers) ListAgents(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	var (
		list []agents.Agent
		err  error
	)
	if raw := c.Query("status"); raw != "" {
		status := agents.Status(raw)
		if !status.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		list, err = h.Agents.ListByStatus(c.Request.Context(), status)
	} else {
		list, err = h.Agents.List(c.Request.Context())
	}
	if err != nil {
		abortError(c, err)
		return
	}
	if list == nil {
		list = []agents.Agent{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}
