// Package main is the entrypoint for the Scoreforge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/scoreforge/scoreforge/internal/api"
	"github.com/scoreforge/scoreforge/internal/api/handler"
	mw "github.com/scoreforge/scoreforge/internal/api/middleware"
	"github.com/scoreforge/scoreforge/internal/api/response"
	"github.com/scoreforge/scoreforge/internal/cache"
	"github.com/scoreforge/scoreforge/internal/config"
	"github.com/scoreforge/scoreforge/internal/credential"
	"github.com/scoreforge/scoreforge/internal/ingest"
	"github.com/scoreforge/scoreforge/internal/ledger"
	"github.com/scoreforge/scoreforge/internal/metrics"
	"github.com/scoreforge/scoreforge/internal/project"
	"github.com/scoreforge/scoreforge/internal/ranking"
	"github.com/scoreforge/scoreforge/internal/session"
	"github.com/scoreforge/scoreforge/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	slog.SetDefault(newLogger(os.Stdout, config.LogConfig{Level: "info", Format: "json"}))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("config loaded", "env", cfg.Server.Env, "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Build services
	verifier, err := session.NewJWTVerifier(cfg.Auth.JWTSecret, session.WithIssuer(cfg.Auth.JWTIssuer))
	if err != nil {
		return fmt.Errorf("create session verifier: %w", err)
	}
	keys, err := credential.NewService(st, cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("create credential service: %w", err)
	}
	m := metrics.New()
	projects := project.NewRegistry(st, redisCache)
	scores := ledger.New(st, redisCache, ledger.Limits{
		UsernameMaxLen: cfg.Scores.UsernameMaxLen,
		MinValue:       cfg.Scores.MinValue,
		MaxValue:       cfg.Scores.MaxValue,
	})
	gateway := ingest.New(projects, keys, scores, m, cfg.Server.RequestTimeout)
	engine := ranking.NewEngine(st, redisCache, ranking.Options{
		MaxLimit:    cfg.Leaderboard.MaxLimit,
		CacheTTL:    cfg.Leaderboard.CacheTTL,
		LoadTimeout: cfg.Server.RequestTimeout,
	})

	// 5. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(verifier),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute, m),
		Metrics:   m,

		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,

		HealthHandler: healthHandler(st, redisCache),

		CreateProject: handler.NewCreateProjectHandler(projects),
		ListProjects:  handler.NewListProjectsHandler(projects),
		GetProject:    handler.NewGetProjectHandler(projects),
		DeleteProject: handler.NewDeleteProjectHandler(projects),

		IssueKey:    handler.NewIssueKeyHandler(projects, keys),
		RotateKey:   handler.NewRotateKeyHandler(projects, keys),
		RevokeKey:   handler.NewRevokeKeyHandler(projects, keys),
		DescribeKey: handler.NewDescribeKeyHandler(projects, keys),

		SubmitScore:       handler.NewSubmitScoreHandler(gateway),
		LegacySubmitScore: handler.NewLegacySubmitHandler(gateway),
		Leaderboard:       handler.NewLeaderboardHandler(engine, cfg.Leaderboard.DefaultLimit),
		PlayerRank:        handler.NewPlayerRankHandler(engine),
		PlayerScore:       handler.NewPlayerScoreHandler(projects, scores),
	})

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore builds the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.Backend == config.BackendMemory {
		slog.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	return store.NewPostgresStore(pool), pool.Close, nil
}

// newLogger returns a JSON handler, or tint's colourised one for LOG_FORMAT=text.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pinger is satisfied by both the store and the cache.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(s, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "health check: database unreachable", "error", err)
			checks["database"] = "degraded"
		}
		if err := c.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "health check: cache unreachable", "error", err)
			checks["cache"] = "degraded"
		}

		status, code := "ok", http.StatusOK
		if checks["database"] != "ok" || checks["cache"] != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		response.Status(w, code, map[string]any{
			"status":   status,
			"services": checks,
		})
	}
}
