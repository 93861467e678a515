package repository

import (
	"context"

	"github.com/electionbox/electionbox/internal/domain"
)

// CredentialRepository persists dashboard accounts.
type CredentialRepository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
}

// BallotRepository persists drop-box scan events.
type BallotRepository interface {
	InsertBallot(ctx context.Context, ballot *domain.Ballot) error
	GetBallotByID(ctx context.Context, id string) (*domain.Ballot, error)
	ListBallots(ctx context.Context, limit, offset int) ([]domain.Ballot, error)
	ForEachBallot(ctx context.Context, fn func(domain.Ballot) error) error
}
