package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/interpark/mikage/internal/config"
	"github.com/interpark/mikage/internal/database"
	"github.com/interpark/mikage/internal/handlers"
	"github.com/interpark/mikage/internal/middleware"
	"github.com/interpark/mikage/internal/notify"
	"github.com/interpark/mikage/internal/watch"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Mikage uptime watcher...")

	if cfg.WatchKey == "" {
		log.Printf("Warning: WATCH_KEY is not set, the trigger endpoint is unprotected")
	}

	// Initialize JWT authentication for the read API
	if cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}

	passwordHash, err := middleware.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash admin password: %v", err)
	}

	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     cfg.AdminUsername,
		AdminPasswordHash: passwordHash,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiryHours:    cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/api/v1",
			"/api/v1/watch",
			"/auth/login",
		},
	})
	log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	db := database.GetDB()

	// Load watch groups and verify they are unambiguous against the
	// current target list. A key matching two groups is a config error
	// worth failing the boot for.
	groups, err := config.LoadGroups(cfg.GroupsFile)
	if err != nil {
		log.Fatalf("Failed to load watch groups: %v", err)
	}
	targets, err := database.ListTargets(db)
	if err != nil {
		log.Fatalf("Failed to list targets: %v", err)
	}
	keys := make([]string, len(targets))
	for i := range targets {
		keys[i] = targets[i].Key
	}
	if err := config.ValidateGroups(groups, keys); err != nil {
		log.Fatalf("Invalid watch groups: %v", err)
	}
	log.Printf("Loaded %d watch groups over %d targets", len(groups), len(targets))

	// Notification channels. Either can be absent; the coordinator skips
	// what is not configured.
	var chat watch.ChatChannel
	if cfg.GoogleChatWebhookURL != "" {
		chat = notify.NewGoogleChatClient(cfg.GoogleChatWebhookURL, cfg.DashboardURL)
		log.Printf("Google Chat notifications enabled")
	} else {
		log.Printf("Google Chat notifications DISABLED (GOOGLE_CHAT_WEBHOOK_URL not set)")
	}

	var statusPage watch.StatusPageChannel
	if cfg.InstatusAPIKey != "" {
		statusPage = notify.NewInstatusClient(cfg.InstatusBaseURL, cfg.InstatusAPIKey)
		log.Printf("Instatus status page updates enabled")
	} else {
		log.Printf("Instatus status page updates DISABLED (INSTATUS_API_KEY not set)")
	}

	checker := watch.NewChecker()
	coordinator := watch.NewCoordinator(db, chat, statusPage, cfg.DashboardURL)
	runner := watch.NewRunner(db, checker, coordinator, groups)

	// Handlers
	watchKeyMiddleware := middleware.NewWatchKeyMiddleware(cfg.WatchKey)
	httpHandler := handlers.NewHTTPHandler()
	watchHandler := handlers.NewWatchHandler(runner, watchKeyMiddleware)
	apiHandler := handlers.NewAPIHandler(db)
	authHandler := handlers.NewAuthHandler(jwtAuthMiddleware)

	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)
	watchHandler.SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)
	authHandler.SetupRoutes(mux)

	// Wrap all routes with request ID, CORS, then JWT authentication
	corsMiddleware := middleware.NewCORSMiddleware() // Allow all origins
	handler := middleware.RequestIDMiddleware(corsMiddleware.Wrap(jwtAuthMiddleware.Wrap(mux)))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
	}

	go func() {
		log.Printf("HTTP server listening on :%d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := database.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Printf("Shutdown complete")
}
