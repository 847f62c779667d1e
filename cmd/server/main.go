// Command server starts the Waypoint Geo-Reward Verification API.
//
// Usage:
//
//	go run ./cmd/server [flags]
//
// Flags:
//
//	-port  HTTP port to listen on (default: 8080)
//	-seed  Path to a campaign seed JSON file to load on startup (default: data/seed.json)
//
// Environment:
//
//	PORT         overrides -port (injected by most PaaS platforms)
//	TOTP_SECRET  required — server-side secret for one-time code derivation
//	REDIS_ADDR   optional — backs the replay/rate-limit guard with Redis
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"waypoint/georeward-api/internal/api"
	"waypoint/georeward-api/internal/domain"
	"waypoint/georeward-api/internal/fraud"
	"waypoint/georeward-api/internal/guard"
	"waypoint/georeward-api/internal/otp"
	"waypoint/georeward-api/internal/store"
	"waypoint/georeward-api/internal/verify"
	"waypoint/georeward-api/internal/webhook"
)

func main() {
	port := flag.Int("port", 8080, "HTTP port")
	seedFile := flag.String("seed", "data/seed.json", "path to campaign seed JSON file")
	flag.Parse()

	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	// Railway (and most PaaS platforms) inject PORT as an env var.
	// It takes precedence over the -port flag.
	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			*port = p
		}
	}

	// Structured logging — JSON in production, text-friendly in development.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Wire dependencies ─────────────────────────────────────────────────────

	// The code secret is deliberately required configuration: shipping a
	// hardcoded fallback would let anyone mint valid redemption tokens.
	otpEngine, err := otp.NewEngine(os.Getenv("TOTP_SECRET"))
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	guardStore, closeGuard, err := newGuardStore(os.Getenv("REDIS_ADDR"))
	if err != nil {
		slog.Error("guard store init failed", "error", err)
		os.Exit(1)
	}
	defer closeGuard()

	s := store.New()
	g := guard.New(guardStore)
	orchestrator := verify.New(g, fraud.New(), otpEngine)
	notifier := webhook.New(s)
	handler := api.NewHandler(s, orchestrator, otpEngine, notifier)
	router := api.NewRouter(handler)

	// ── Load seed campaigns ───────────────────────────────────────────────────
	if err := loadSeedCampaigns(s, *seedFile); err != nil {
		// Non-fatal: the API works fine without seed data.
		slog.Warn("seed data not loaded", "file", *seedFile, "reason", err.Error())
	}

	// ── Start HTTP server ─────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "port", *port, "seed_file", *seedFile)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

// newGuardStore selects the guard backend: Redis when an address is
// configured (required for multi-instance deployments), in-process memory
// otherwise.
func newGuardStore(redisAddr string) (guard.Store, func(), error) {
	if redisAddr == "" {
		slog.Info("guard store: in-memory (process-local; set REDIS_ADDR for multi-instance deployments)")
		return guard.NewMemoryStore(), func() {}, nil
	}

	rs, err := guard.NewRedisStore(redisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("redis at %s: %w", redisAddr, err)
	}
	slog.Info("guard store: redis", "addr", redisAddr)
	return rs, func() { _ = rs.Close() }, nil
}

// loadSeedCampaigns reads a JSON file of campaigns and persists them so the
// API starts with lookup data.
func loadSeedCampaigns(s *store.Store, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	var campaigns []domain.Campaign
	if err := json.Unmarshal(data, &campaigns); err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	var loaded, skipped int
	for i := range campaigns {
		if err := s.SaveCampaign(&campaigns[i]); err != nil {
			skipped++
		} else {
			loaded++
		}
	}

	slog.Info("seed data loaded", "file", filePath, "loaded", loaded, "skipped", skipped)
	return nil
}
