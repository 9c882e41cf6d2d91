package httpapi

import (
	"contact-center/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes mounts token issuance. It must not sit behind the access
// token middleware.
func (h Handlers) RegisterAuthRoutes(g gin.IRouter) {
	g.POST("/auth/login", h.Login)
}

// RegisterProtectedRoutes mounts the API on a group that already verifies
// access tokens.
func (h Handlers) RegisterProtectedRoutes(g *gin.RouterGroup) {
	g.Use(rbac.RequireTenant())
	g.GET("/me", h.Me)

	managers := rbac.RequireAnyRole(rbac.Managers...)
	selfOrManager := rbac.RequireSelfOrAnyRole("id", rbac.Managers...)

	agentsGroup := g.Group("/agents")
	{
		agentsGroup.GET("", managers, h.ListAgents)
		agentsGroup.POST("", managers, h.RegisterAgent)
		agentsGroup.DELETE("/:id", managers, h.UnregisterAgent)
		agentsGroup.POST("/:id/heartbeat", selfOrManager, h.Heartbeat)
		agentsGroup.PUT("/:id/status", selfOrManager, h.SetAgentStatus)
		if h.Workstation != nil {
			agentsGroup.GET("/:id/ws", selfOrManager, h.Workstation.ServeAgent)
		}
	}

	routingGroup := g.Group("/routing")
	routingGroup.Use(managers)
	{
		routingGroup.POST("/route", h.Route)
		routingGroup.GET("/queue", h.QueueSnapshot)
	}

	callsGroup := g.Group("/calls")
	callsGroup.Use(managers)
	{
		callsGroup.GET("/active", h.ActiveCalls)
		callsGroup.GET("/:id", h.GetCall)
	}

	reports := g.Group("/reports")
	reports.Use(managers)
	{
		reports.GET("/calls", h.CallsReport)
		reports.GET("/agents", h.AgentsReport)
	}

	g.GET("/audit", managers, h.AuditLog)
}
