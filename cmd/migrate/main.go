package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/electionbox/electionbox/internal/app/migrate"
	"github.com/electionbox/electionbox/internal/config"
	"github.com/electionbox/electionbox/internal/domain"
	"github.com/electionbox/electionbox/internal/logger"
	"github.com/electionbox/electionbox/internal/repository/postgres"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down|seed)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	seedFile := flag.String("seed-file", "./db/testdata.json", "ballot fixture file for the seed command")
	flag.Parse()

	log := logger.New("migrate", slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dsn := config.GetString("DATABASE_URL", "postgres://electionbox:electionbox@db:5432/electionbox?sslmode=disable")
	migrationsDir := config.GetString("DB_MIGRATIONS_DIR", "./db/migrations")

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, dsn, migrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	case "seed":
		if err := seed(ctx, pool, *seedFile, log); err != nil {
			log.Error("failed to seed ballots", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}

// seed loads ballot fixtures. Inserts are idempotent, so re-running the
// command never duplicates rows.
func seed(ctx context.Context, pool *pgxpool.Pool, path string, log *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var ballots []domain.Ballot
	if err := json.Unmarshal(data, &ballots); err != nil {
		return err
	}

	repo := postgres.New(pool)
	for i := range ballots {
		if ballots[i].CreatedAt.IsZero() {
			ballots[i].CreatedAt = time.Now().UTC()
		}
		if err := repo.InsertBallot(ctx, &ballots[i]); err != nil {
			return err
		}
	}
	log.Info("ballot fixtures loaded", "count", len(ballots), "file", path)
	return nil
}
