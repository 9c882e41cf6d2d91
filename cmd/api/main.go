package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"contact-center/internal/auth"
	"contact-center/internal/config"
	"contact-center/pkg/logger"
	"contact-center/pkg/middleware"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	if cfg.Auth.JWKSURL != "" {
		// Keys refresh in the background until rootCtx is cancelled.
		k, err := keyfunc.NewDefaultCtx(rootCtx, []string{cfg.Auth.JWKSURL})
		if err != nil {
			log.Error("jwks init failed", "err", err, "url", cfg.Auth.JWKSURL)
			os.Exit(1)
		}
		authManager.UseJWKS(k)
	}

	a, err := newApp(rootCtx, cfg, authManager, log)
	if err != nil {
		log.Error("service init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerPublicRoutes(r, a, cfg)
	registerAPIRoutes(r, a, auth.RequireAccessToken(authManager))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.engine.Run(rootCtx)
	}()
	go func() {
		defer wg.Done()
		a.sweeper.Run(rootCtx)
	}()

	var handler http.Handler = r
	if len(cfg.App.AllowedOrigins) > 0 {
		handler = middleware.CORS(cfg.App.AllowedOrigins)(r)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"storage", cfg.Storage.Backend,
			"webhook_base_url", cfg.CallCenter.WebhookBaseURL,
			"outbound_profile_id", cfg.CallCenter.OutboundProfileID,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Hijacked websocket connections are not closed by Shutdown.
	a.hub.Close()
	wg.Wait()
	log.Info("shutdown complete")
}
