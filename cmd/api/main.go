package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/electionbox/electionbox/internal/app/migrate"
	"github.com/electionbox/electionbox/internal/config"
	httpx "github.com/electionbox/electionbox/internal/http"
	"github.com/electionbox/electionbox/internal/logger"
	"github.com/electionbox/electionbox/internal/repository/mongodb"
	"github.com/electionbox/electionbox/internal/repository/postgres"
	"github.com/electionbox/electionbox/internal/service/ballot"
	"github.com/electionbox/electionbox/internal/service/session"
	"github.com/electionbox/electionbox/internal/token"
	"github.com/electionbox/electionbox/internal/ws"
)

func main() {
	log := logger.New("api", slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	accounts, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Error("failed to connect to account store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := accounts.Close(context.Background()); err != nil {
			log.Warn("account store close failed", "error", err)
		}
	}()

	ballots := postgres.New(pool)
	tokens := token.NewManager(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	sessionSvc := session.New(accounts, tokens, log)
	ballotSvc := ballot.New(ballots, ws.NewHub(), log)

	var limiter httpx.RateLimiter
	if cfg.RateLimitRedisAddr != "" {
		limiter, err = httpx.NewRedisRateLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
			limiter = nil
		}
	}

	router := httpx.NewRouter(httpx.Deps{
		Logger:        log,
		Session:       sessionSvc,
		Ballots:       ballotSvc,
		Limiter:       limiter,
		ScannerToken:  cfg.ScannerAuthToken,
		SecureCookies: cfg.IsProduction(),
		PGHealth: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
		MongoHealth: accounts.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own lifetime
	}

	go func() {
		log.Info("api listening", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
