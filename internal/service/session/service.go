// Package session orchestrates signup, login, verification, silent refresh and
// logout for browser sessions.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/electionbox/electionbox/internal/crypto"
	"github.com/electionbox/electionbox/internal/domain"
	"github.com/electionbox/electionbox/internal/repository"
	"github.com/electionbox/electionbox/internal/token"
)

var (
	// ErrValidation indicates a missing or empty field.
	ErrValidation = errors.New("email and password are required")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	// The two cases are distinguishable in logs only, never in a response.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnauthenticated indicates no usable session token was presented.
	ErrUnauthenticated = errors.New("no valid session")
)

// Service handles session workflows.
type Service struct {
	accounts repository.CredentialRepository
	tokens   *token.Manager
	logger   *slog.Logger
}

// New constructs a Service.
func New(accounts repository.CredentialRepository, tokens *token.Manager, logger *slog.Logger) Service {
	return Service{accounts: accounts, tokens: tokens, logger: logger}
}

// TokenPair contains a freshly issued access and refresh token with the
// windows the transport must mirror onto the cookies.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// VerifyResult reports the authenticated subject and, when the access token
// had to be re-minted from the refresh token, the replacement cookie value.
type VerifyResult struct {
	Email          string
	Refreshed      bool
	NewAccessToken string
	NewAccessTTL   time.Duration
}

// Signup registers a new account. It does not log the user in; the client is
// expected to follow up with Login.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.Account, error) {
	if email == "" || password == "" {
		return nil, ErrValidation
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	account := &domain.Account{
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.logger.Warn("signup for existing account", "email", email)
		}
		return nil, err
	}
	s.logger.Info("account created", "email", email)
	return account, nil
}

// Login authenticates credentials and issues a token pair.
func (s Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	if email == "" || password == "" {
		return TokenPair{}, ErrValidation
	}
	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("login for unknown account", "email", email)
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if err := crypto.ComparePassword(account.PasswordHash, password); err != nil {
		s.logger.Warn("login with wrong password", "email", email)
		return TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.issuePair(account.Email)
	if err != nil {
		return TokenPair{}, err
	}
	s.logger.Info("login", "email", email)
	return pair, nil
}

// Verify resolves the session from the presented tokens.
//
// The access token is checked first and, when valid, the refresh token is not
// inspected at all. Only when the access token is absent or fails does the
// refresh token get a chance; a valid one mints a replacement access token
// (silent refresh). Anything else is ErrUnauthenticated. Token-level failures
// never escape this method.
func (s Service) Verify(ctx context.Context, accessToken, refreshToken string) (VerifyResult, error) {
	if accessToken != "" {
		email, err := s.tokens.Verify(accessToken, token.KindAccess)
		if err == nil {
			return VerifyResult{Email: email}, nil
		}
		s.logger.Debug("access token rejected", "error", err)
	}
	if refreshToken != "" {
		email, err := s.tokens.Verify(refreshToken, token.KindRefresh)
		if err == nil {
			access, issueErr := s.tokens.Issue(email, token.KindAccess)
			if issueErr != nil {
				return VerifyResult{}, issueErr
			}
			s.logger.Info("access token refreshed", "email", email)
			return VerifyResult{
				Email:          email,
				Refreshed:      true,
				NewAccessToken: access,
				NewAccessTTL:   s.tokens.TTL(token.KindAccess),
			}, nil
		}
		s.logger.Debug("refresh token rejected", "error", err)
	}
	return VerifyResult{}, ErrUnauthenticated
}

func (s Service) issuePair(email string) (TokenPair, error) {
	access, err := s.tokens.Issue(email, token.KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.Issue(email, token.KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    s.tokens.TTL(token.KindAccess),
		RefreshTTL:   s.tokens.TTL(token.KindRefresh),
	}, nil
}
