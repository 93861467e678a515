// Package mongodb implements the credential store on MongoDB. Accounts are one
// document each; uniqueness of email is enforced by a unique index so that two
// concurrent signups race on the index, never on a check-then-insert.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/electionbox/electionbox/internal/domain"
	"github.com/electionbox/electionbox/internal/repository"
)

const accountsCollection = "accounts"

// Repository implements repository.CredentialRepository on MongoDB.
type Repository struct {
	client   *mongo.Client
	accounts *mongo.Collection
}

var _ repository.CredentialRepository = (*Repository)(nil)

// Connect dials MongoDB, verifies the connection and ensures the unique email
// index exists.
func Connect(ctx context.Context, uri, database string) (*Repository, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	accounts := client.Database(database).Collection(accountsCollection)
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := accounts.Indexes().CreateOne(dialCtx, indexModel); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create email index: %w", err)
	}

	return &Repository{client: client, accounts: accounts}, nil
}

// Close disconnects the underlying client.
func (r *Repository) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Ping verifies the connection for health checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// CreateAccount inserts an account. A unique-index violation is reported as
// repository.ErrDuplicate; no error-code or message matching is involved.
func (r *Repository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if _, err := r.accounts.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccountByEmail fetches an account by its exact email.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var account domain.Account
	err := r.accounts.FindOne(ctx, bson.M{"email": email}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &account, nil
}
