package httpapi

import (
	"errors"
	"net/http"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/audit"
	"contact-center/internal/auth"
	"contact-center/internal/calls"
	"contact-center/internal/rbac"
	"contact-center/internal/reporting"
	"contact-center/internal/routing"
	"contact-center/internal/workstation"
	"contact-center/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Agents  *agents.Registry
	Calls   *calls.Store
	Engine  *routing.Engine
	Reports *reporting.Service
	Audit   *audit.Service

	// Context validates customer_context payloads on routing requests.
	// Nil accepts any JSON object.
	Context *ContextValidator

	// Workstation serves agent sockets. Nil leaves /agents/:id/ws unmounted.
	Workstation *workstation.Hub

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	AgentID  string `json:"agent_id,omitempty"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	if req.Role == rbac.RoleAgent && req.AgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id required for agent role"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), auth.Identity{
		UserID:   req.UserID,
		TenantID: req.TenantID,
		Role:     req.Role,
		AgentID:  req.AgentID,
	})
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the verified identity.
func (h Handlers) Me(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "tenant_id": id.TenantID, "role": id.Role, "agent_id": id.AgentID})
}

// abortError maps domain errors onto HTTP statuses. Unknown errors are logged
// and reported as 500 without leaking details.
func abortError(c *gin.Context, err error) {
	var terr *calls.TransitionError
	switch {
	case errors.Is(err, agents.ErrNotFound), errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, agents.ErrInvalidArgument), errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, routing.ErrInvalidRequest), errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &terr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": terr.Error(), "from": terr.From, "to": terr.To})
	case errors.Is(err, calls.ErrTerminal), errors.Is(err, calls.ErrAlreadyAssigned),
		errors.Is(err, agents.ErrAtCapacity), errors.Is(err, agents.ErrUnavailable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
