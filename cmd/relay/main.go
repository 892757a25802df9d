package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/utopiachat/relay/internal/auth"
	"github.com/utopiachat/relay/internal/config"
	"github.com/utopiachat/relay/internal/db"
	httphandler "github.com/utopiachat/relay/internal/http"
	"github.com/utopiachat/relay/internal/http/handlers"
	"github.com/utopiachat/relay/internal/relay"
	"github.com/utopiachat/relay/internal/repo"

	_ "github.com/lib/pq"
)

func main() {
	// Load .env from CWD so it works in local development (env vars override)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	userRepo := repo.NewUserRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	refreshRepo := repo.NewRefreshRepo(database)

	// Auth collaborator
	otpProvider := auth.NewOtpStub(otpRepo, cfg.OTPSalt, cfg.DevMode)
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	authService := auth.NewAuthService(otpProvider, jwtService, userRepo, refreshRepo)

	// Relay runtime: directory, registry, rooms, and router live here, tied
	// to the process lifecycle
	directory := relay.NewDirectory()
	registry := relay.NewRegistry()
	rooms := relay.NewRooms(registry)
	router := relay.NewRouter(directory, registry)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, otpProvider, cfg.DevMode)
	wsHandler := handlers.NewWSHandler(authService, directory, registry, rooms, router, cfg.AllowedOrigins, cfg.MaxFrameSize)

	mux := httphandler.NewRouter(authHandler, wsHandler, jwtService, userRepo)

	// No Read/WriteTimeout: the WebSocket endpoints hold connections open
	// indefinitely; per-frame deadlines live in the session pumps.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Relay listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Drop every open session first so the HTTP server can drain
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
