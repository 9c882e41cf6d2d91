package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"contact-center/internal/audit"
	"contact-center/internal/auth"
	"contact-center/internal/rbac"

	"github.com/gin-gonic/gin"
)

// AuditLog lists audit events visible to the caller: their own tenant plus
// events raised by the call flow. Filters: type, call_id, agent_id,
// since (RFC 3339), limit.
func (h Handlers) AuditLog(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	q := audit.Query{
		Type:    audit.EventType(c.Query("type")),
		CallID:  c.Query("call_id"),
		AgentID: c.Query("agent_id"),
	}
	if !rbac.IsSuperAdmin(id.Role) {
		q.Tenants = []string{id.TenantID, h.Audit.SystemTenant()}
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		q.Since = t
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = n
	}

	events, err := h.Audit.Find(c.Request.Context(), q)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
