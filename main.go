package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecotrack/config"
	"ecotrack/database"
	"ecotrack/dispatch"
	"ecotrack/handlers"
	"ecotrack/leaderboard"
	"ecotrack/middleware"
	"ecotrack/models"
	"ecotrack/rabbitmq"
	"ecotrack/reward"
	"ecotrack/service"
	"ecotrack/storage"
	"ecotrack/version"
	ws "ecotrack/websocket"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Info("Starting the ecotrack service...")

	// Create database connection
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to create database connection: %v", err)
	}
	defer db.Close()

	// Initialize database schema
	if err := database.InitSchema(db.DB()); err != nil {
		log.Fatalf("Failed to initialize database schema: %v", err)
	}

	// Initialize the notification publisher. The service runs without
	// it; notifications are fire-and-forget anyway.
	var rewardNotifier reward.Notifier
	var dispatchNotifier dispatch.Notifier
	var publisher *rabbitmq.Publisher
	if cfg.NotifyEnabled {
		publisher, err = rabbitmq.NewPublisher(cfg.AMQPURL, cfg.NotifyExchange)
		if err != nil {
			log.Warnf("Failed to initialize RabbitMQ publisher, continuing without notifications: %v", err)
		} else {
			notifier := rabbitmq.NewNotifier(publisher)
			rewardNotifier = notifier
			dispatchNotifier = notifier
			log.Infof("RabbitMQ publisher initialized: exchange=%s", cfg.NotifyExchange)
		}
	}

	// Wire the core
	rewards := reward.NewEngine(db, rewardNotifier, cfg.RewardRetries)
	dispatcher := dispatch.NewEngine(db, dispatchNotifier)
	svc := service.New(db, rewards, dispatcher)

	// Leaderboard projection with its websocket push feed
	hub := ws.NewHub()
	go hub.Run()
	board := leaderboard.New(db, hub, cfg.LeaderboardInterval, cfg.LeaderboardSize)
	if err := board.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start leaderboard aggregator: %v", err)
	}

	images := storage.NewClient(cfg.StorageBaseURL)

	h := handlers.NewHandlers(svc, board, images, hub)

	router := setupRouter(cfg, h)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Infof("Ecotrack service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	board.Stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Errorf("Failed to close RabbitMQ publisher: %v", err)
		}
	}

	log.Info("Server exited")
}

func setupRouter(cfg *config.Config, h *handlers.Handlers) *gin.Engine {
	router := gin.Default()

	// CORS headers
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", h.HealthCheck)
	router.GET("/version", func(c *gin.Context) {
		c.JSON(200, version.Get("ecotrack"))
	})

	auth := middleware.ActorAuth(cfg.JWTSecret)
	adminOnly := middleware.RequireRole(models.RoleAdmin)
	agentOnly := middleware.RequireRole(models.RoleAgent)

	apiV3 := router.Group("/api/v3")
	apiV3.Use(auth)
	{
		apiV3.POST("/reports", h.SubmitReport)
		apiV3.GET("/reports", h.ListReports)
		apiV3.GET("/reports/:id", h.GetReport)
		apiV3.POST("/reports/:id/transition", h.RequestTransition)
		apiV3.POST("/reports/:id/dispatch", adminOnly, h.DispatchSweep)
		apiV3.POST("/rewards/sweep", adminOnly, h.SweepRewards)

		apiV3.POST("/tasks/:id", agentOnly, h.UpdateTask)
		apiV3.GET("/tasks", agentOnly, h.ListTasks)

		apiV3.GET("/leaderboard", h.GetLeaderboard)
		apiV3.POST("/leaderboard/refresh", adminOnly, h.RefreshLeaderboard)

		apiV3.POST("/profiles", h.UpsertProfile)
		apiV3.GET("/profiles/:id", h.GetProfile)
		apiV3.DELETE("/profiles/:id", adminOnly, h.DeleteProfile)

		apiV3.POST("/agents", adminOnly, h.RegisterAgent)
		apiV3.POST("/agents/:id/active", adminOnly, h.SetAgentActive)
	}

	// Leaderboard push feed
	router.GET("/ws/leaderboard", h.ListenLeaderboard)

	return router
}
