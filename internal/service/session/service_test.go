package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/electionbox/electionbox/internal/crypto"
	"github.com/electionbox/electionbox/internal/domain"
	"github.com/electionbox/electionbox/internal/repository"
	"github.com/electionbox/electionbox/internal/token"
)

type stubCredentialRepository struct {
	accounts  map[string]*domain.Account
	createErr error
	getErr    error
}

func newStubCredentialRepository() *stubCredentialRepository {
	return &stubCredentialRepository{accounts: make(map[string]*domain.Account)}
}

func (s *stubCredentialRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.accounts[account.Email]; ok {
		return repository.ErrDuplicate
	}
	s.accounts[account.Email] = account
	return nil
}

func (s *stubCredentialRepository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	account, ok := s.accounts[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return account, nil
}

func newTestService(repo repository.CredentialRepository) Service {
	tokens := token.NewManager("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, tokens, log)
}

func TestSignupThenLogin(t *testing.T) {
	repo := newStubCredentialRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	account, err := svc.Signup(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if account.Email != "a@x.com" {
		t.Fatalf("unexpected email %q", account.Email)
	}
	if string(account.PasswordHash) == "pw1" {
		t.Fatal("password stored in plaintext")
	}
	if err := crypto.ComparePassword(account.PasswordHash, "pw1"); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	pair, err := svc.Login(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens issued")
	}
	if pair.AccessTTL != 15*time.Minute || pair.RefreshTTL != 24*time.Hour {
		t.Fatalf("unexpected TTLs: %v / %v", pair.AccessTTL, pair.RefreshTTL)
	}
}

func TestSignupDuplicate(t *testing.T) {
	repo := newStubCredentialRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "a@x.com", "pw1"); err != nil {
		t.Fatalf("first Signup returned error: %v", err)
	}
	_, err := svc.Signup(ctx, "a@x.com", "pw2")
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// The first record must be untouched.
	account, err := repo.GetAccountByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if err := crypto.ComparePassword(account.PasswordHash, "pw1"); err != nil {
		t.Fatal("second signup overwrote the stored password hash")
	}
}

func TestSignupValidation(t *testing.T) {
	svc := newTestService(newStubCredentialRepository())
	ctx := context.Background()
	for _, tc := range []struct{ email, password string }{
		{"", "pw"},
		{"a@x.com", ""},
		{"", ""},
	} {
		if _, err := svc.Signup(ctx, tc.email, tc.password); !errors.Is(err, ErrValidation) {
			t.Fatalf("Signup(%q, %q): expected ErrValidation, got %v", tc.email, tc.password, err)
		}
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrValidation) {
			t.Fatalf("Login(%q, %q): expected ErrValidation, got %v", tc.email, tc.password, err)
		}
	}
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	repo := newStubCredentialRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "a@x.com", "pw1"); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	_, wrongPassword := svc.Login(ctx, "a@x.com", "wrong")
	_, unknownAccount := svc.Login(ctx, "nobody@x.com", "pw1")

	if !errors.Is(wrongPassword, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", wrongPassword)
	}
	if !errors.Is(unknownAccount, ErrInvalidCredentials) {
		t.Fatalf("unknown account: expected ErrInvalidCredentials, got %v", unknownAccount)
	}
	if wrongPassword.Error() != unknownAccount.Error() {
		t.Fatal("failure messages differ between unknown account and wrong password")
	}
}

func TestLoginStoreFailurePropagates(t *testing.T) {
	repo := newStubCredentialRepository()
	repo.getErr = errors.New("connection refused")
	svc := newTestService(repo)

	_, err := svc.Login(context.Background(), "a@x.com", "pw1")
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("infrastructure failure must not masquerade as bad credentials")
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestVerifyFastPathIgnoresRefresh(t *testing.T) {
	repo := newStubCredentialRepository()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "a@x.com", "pw1"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	pair, err := svc.Login(ctx, "a@x.com", "pw1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Garbage refresh token: must not matter while the access token is valid.
	result, err := svc.Verify(ctx, pair.AccessToken, "garbage")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if result.Email != "a@x.com" {
		t.Fatalf("unexpected subject %q", result.Email)
	}
	if result.Refreshed {
		t.Fatal("valid access token must not trigger a refresh")
	}
}

func TestVerifySilentRefresh(t *testing.T) {
	// Access tokens expire immediately, refresh tokens stay valid.
	tokens := token.NewManager("access-secret", "refresh-secret", -time.Second, 24*time.Hour)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(newStubCredentialRepository(), tokens, log)
	ctx := context.Background()

	expiredAccess, err := tokens.Issue("a@x.com", token.KindAccess)
	if err != nil {
		t.Fatalf("Issue access: %v", err)
	}
	refresh, err := tokens.Issue("a@x.com", token.KindRefresh)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}

	result, err := svc.Verify(ctx, expiredAccess, refresh)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Refreshed {
		t.Fatal("expected a silent refresh")
	}
	if result.Email != "a@x.com" {
		t.Fatalf("unexpected subject %q", result.Email)
	}
	if result.NewAccessToken == "" || result.NewAccessToken == expiredAccess {
		t.Fatal("expected a new, distinct access token")
	}
	if result.NewAccessTTL != tokens.TTL(token.KindAccess) {
		t.Fatalf("cookie TTL %v does not match token TTL", result.NewAccessTTL)
	}
}

func TestVerifyRefreshOnlySession(t *testing.T) {
	svc := newTestService(newStubCredentialRepository())
	tokens := token.NewManager("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	refresh, err := tokens.Issue("a@x.com", token.KindRefresh)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}

	result, err := svc.Verify(context.Background(), "", refresh)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !result.Refreshed || result.Email != "a@x.com" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestVerifyUnauthenticated(t *testing.T) {
	svc := newTestService(newStubCredentialRepository())
	ctx := context.Background()

	cases := []struct {
		name            string
		access, refresh string
	}{
		{"both absent", "", ""},
		{"both garbage", "junk", "junk"},
		{"garbage access only", "junk", ""},
	}
	for _, tc := range cases {
		if _, err := svc.Verify(ctx, tc.access, tc.refresh); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", tc.name, err)
		}
	}

	// A refresh token presented as an access token with no refresh cookie
	// must not authenticate.
	tokens := token.NewManager("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	refresh, err := tokens.Issue("a@x.com", token.KindRefresh)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}
	if _, err := svc.Verify(ctx, refresh, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("cross-kind replay: expected ErrUnauthenticated, got %v", err)
	}
}
