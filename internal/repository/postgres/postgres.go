// Package postgres implements ballot persistence on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/electionbox/electionbox/internal/domain"
	"github.com/electionbox/electionbox/internal/repository"
)

// Repository implements repository.BallotRepository on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.BallotRepository = (*Repository)(nil)

// InsertBallot records a scan event. Re-delivery of the same ballot id (scanner
// retries, seed re-runs) is a no-op.
func (r *Repository) InsertBallot(ctx context.Context, ballot *domain.Ballot) error {
	const query = `INSERT INTO ballots (ballot_id, barcode_data, name, date, time, location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ballot_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		ballot.ID, ballot.BarcodeData, ballot.Name, ballot.Date, ballot.Time, ballot.Location, ballot.CreatedAt)
	return err
}

// ListBallots returns scan events, newest first.
func (r *Repository) ListBallots(ctx context.Context, limit, offset int) ([]domain.Ballot, error) {
	const query = `SELECT ballot_id, barcode_data, name, date, time, location, created_at
		FROM ballots
		ORDER BY created_at DESC, ballot_id
		LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ballots []domain.Ballot
	for rows.Next() {
		var b domain.Ballot
		if err := rows.Scan(&b.ID, &b.BarcodeData, &b.Name, &b.Date, &b.Time, &b.Location, &b.CreatedAt); err != nil {
			return nil, err
		}
		ballots = append(ballots, b)
	}
	return ballots, rows.Err()
}

// ForEachBallot streams every ballot through fn, oldest first. Used by the CSV
// export so the full table never has to sit in memory.
func (r *Repository) ForEachBallot(ctx context.Context, fn func(domain.Ballot) error) error {
	const query = `SELECT ballot_id, barcode_data, name, date, time, location, created_at
		FROM ballots
		ORDER BY created_at, ballot_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var b domain.Ballot
		if err := rows.Scan(&b.ID, &b.BarcodeData, &b.Name, &b.Date, &b.Time, &b.Location, &b.CreatedAt); err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetBallotByID returns a single scan event.
func (r *Repository) GetBallotByID(ctx context.Context, id string) (*domain.Ballot, error) {
	const query = `SELECT ballot_id, barcode_data, name, date, time, location, created_at
		FROM ballots WHERE ballot_id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var b domain.Ballot
	if err := row.Scan(&b.ID, &b.BarcodeData, &b.Name, &b.Date, &b.Time, &b.Location, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}
