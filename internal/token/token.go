// Package token issues and verifies the signed, time-limited tokens that make
// up a browser session. Access and refresh tokens share a shape but are signed
// with independent secrets, so a leaked secret for one kind cannot forge the
// other.
package token

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Kind selects which validity window and signing secret a token uses.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const issuer = "electionbox"

var (
	// ErrExpired indicates the token was well-formed but past its expiry.
	ErrExpired = errors.New("token: expired")
	// ErrInvalid indicates a signature, kind or structural failure.
	ErrInvalid = errors.New("token: invalid")
)

// Claims defines the JWT payload. The subject registered claim carries the
// account email; Kind prevents a refresh token from being replayed where an
// access token is expected even if the secrets were ever unified.
type Claims struct {
	Kind string `json:"kind"`
	jwtlib.RegisteredClaims
}

// Manager issues and verifies both token kinds.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewManager constructs a Manager with per-kind secrets and windows.
func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// Issue creates a signed token of the given kind bound to subject.
func (m *Manager) Issue(subject string, kind Kind) (string, error) {
	secret, ttl, err := m.kindParams(kind)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := Claims{
		Kind: string(kind),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

// Verify validates signature and expiry against the kind-specific secret and
// returns the bound subject. A token of the wrong kind fails verification.
func (m *Manager) Verify(tokenString string, kind Kind) (string, error) {
	secret, _, err := m.kindParams(kind)
	if err != nil {
		return "", err
	}
	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(tokenString, claims, func(t *jwtlib.Token) (interface{}, error) {
		return secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || claims.Kind != string(kind) || claims.Subject == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}

// TTL reports the validity window for a kind. Used to align cookie expirations
// with token expirations exactly.
func (m *Manager) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return m.refreshTTL
	}
	return m.accessTTL
}

func (m *Manager) kindParams(kind Kind) ([]byte, time.Duration, error) {
	switch kind {
	case KindAccess:
		return m.accessSecret, m.accessTTL, nil
	case KindRefresh:
		return m.refreshSecret, m.refreshTTL, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
}
