package main

import (
	"net/http"
	"time"

	"contact-center/internal/config"
	"contact-center/internal/telephony"
	"contact-center/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerPublicRoutes mounts health checks and provider webhooks.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerPublicRoutes(r *gin.Engine, a *app, cfg config.Config) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if a.db != nil {
			if err := utils.PingPostgres(ctx, a.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "postgres"})
				return
			}
		}
		if a.rdb != nil {
			if err := utils.PingRedis(ctx, a.rdb, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "redis"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "queued": a.engine.Queue().Len()})
	})

	webhooks := r.Group("/webhooks/voice")
	webhooks.Use(telephony.RequireSignature(cfg.Twilio.AuthToken, cfg.CallCenter.WebhookBaseURL))
	a.voice.Register(webhooks)
}

// registerAPIRoutes mounts the authenticated management API under /v1.
func registerAPIRoutes(r *gin.Engine, a *app, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	a.api.RegisterAuthRoutes(v1)

	protected := v1.Group("")
	protected.Use(authMW)
	a.api.RegisterProtectedRoutes(protected)
}
