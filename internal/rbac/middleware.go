package rbac

import (
	"net/http"

	"contact-center/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireTenant enforces the multi-tenant invariant: tenant_id must exist in context.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tid, err := auth.TenantID(c.Request.Context())
		if err != nil || tid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses the check; unknown roles are always denied.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok || !IsKnownRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireSelfOrAnyRole lets an agent act on its own record (the :param path
// value must equal the token's agent_id) and otherwise falls back to the
// role check.
func RequireSelfOrAnyRole(param string, allowed ...string) gin.HandlerFunc {
	byRole := RequireAnyRole(allowed...)
	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err == nil && id.Role == RoleAgent && id.AgentID != "" && id.AgentID == c.Param(param) {
			c.Next()
			return
		}
		byRole(c)
	}
}
