// Package main is the API server entry point.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/auth"
	"github.com/rajalamdev/notu.ai-backend-sub000/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gin.SetMode(cfg.GinMode)

	// Default middleware: Logger, Recovery.
	router := gin.Default()

	// Cookie sessions need the signing key from config.
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
	}
	// The frontend reads the CSRF token off the login response.
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := setupPipeline(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}
	pipeline.jobs.StartWorkers()
	pipeline.capture.StartSweeper(ctx, 10*time.Minute)

	setupRoutes(router, cfg, pipeline)

	addr := ":" + cfg.Port
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	// Drains in-flight jobs before closing the queue connections.
	if err := pipeline.jobs.Close(shutdownCtx); err != nil {
		log.Printf("Queue shutdown: %v", err)
	}
}

// handleHealth answers the unauthenticated health check.
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "notu-api",
		"version": "0.1.0",
	})
}

// setupRoutes wires the API groups and auth middleware.
func setupRoutes(router *gin.Engine, cfg *config.Config, p *pipeline) {
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// Login runs before a session exists, so no CSRF check.
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			meetingRoutes := protected.Group("/meetings")
			{
				meetingRoutes.POST("", createMeetingHandler(p))
				meetingRoutes.GET("/:id", meetingHandler(p))
				meetingRoutes.POST("/:id/recording", uploadRecordingHandler(p, cfg.MaxUploadSize))
				meetingRoutes.POST("/:id/process", processMeetingHandler(p))
				meetingRoutes.GET("/:id/progress", progressHandler(p))
			}

			protected.GET("/jobs/:id", jobStatusHandler(p))

			botRoutes := protected.Group("/bot/sessions")
			{
				botRoutes.POST("", startCaptureHandler(p))
				botRoutes.POST("/:meetingId/joined", botJoinedHandler(p))
				botRoutes.POST("/:meetingId/audio", ingestAudioHandler(p, cfg.MaxUploadSize))
				botRoutes.POST("/:meetingId/captions", ingestCaptionHandler(p))
				botRoutes.GET("/:meetingId/preview", capturePreviewHandler(p))
				botRoutes.POST("/:meetingId/finalize", finalizeCaptureHandler(p))
				botRoutes.DELETE("/:meetingId", cancelCaptureHandler(p))
			}
		}
	}
}
