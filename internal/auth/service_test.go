package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/haven/internal/store/sqlite"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}
}

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewService(st, testJWTConfig())
}

func TestRegister_RejectsInvalidInput(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		email       string
		password    string
		displayName string
		want        error
	}{
		{name: "empty email", email: "", password: "password123", want: ErrInvalidEmail},
		{name: "malformed email", email: "not-an-email", password: "password123", want: ErrInvalidEmail},
		{name: "short password", email: "a@example.com", password: "12345", want: ErrInvalidPassword},
		{
			name:        "long display name",
			email:       "a@example.com",
			password:    "password123",
			displayName: strings.Repeat("x", maxDisplayNameLen+1),
			want:        ErrInvalidDisplayName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.email, tt.password, tt.displayName); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegister_CreatesUnverifiedAccount(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, " Alice@Example.com ", "password123", " Alice ")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if reg.Token == "" || reg.VerificationToken == "" {
		t.Fatalf("expected tokens, got %+v", reg)
	}
	if reg.Account.Email != "alice@example.com" || reg.Account.DisplayName != "Alice" {
		t.Fatalf("expected normalized account, got %+v", reg.Account)
	}
	if reg.Account.EmailVerified {
		t.Fatalf("expected new account to be unverified")
	}
	if strings.Contains(reg.Account.UID, "_") {
		t.Fatalf("uid %q must be usable in a chatroom id", reg.Account.UID)
	}

	claims, err := svc.ValidateToken(reg.Token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UID != reg.Account.UID || claims.Subject != reg.Account.UID {
		t.Fatalf("expected claims for %s, got %+v", reg.Account.UID, claims)
	}

	if _, err := svc.Register(ctx, "alice@example.com", "password456", "Other"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "bob@example.com", "password123", "Bob")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, acc, err := svc.Login(ctx, "BOB@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || acc.UID != reg.Account.UID {
		t.Fatalf("unexpected login result: %q %+v", token, acc)
	}

	if _, _, err := svc.Login(ctx, "bob@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "ghost@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "carol@example.com", "password123", "Carol")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// A session token cannot verify an email.
	if _, err := svc.VerifyEmail(ctx, reg.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	acc, err := svc.VerifyEmail(ctx, reg.VerificationToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !acc.EmailVerified {
		t.Fatalf("expected account to be verified")
	}

	stored, err := svc.Accounts().GetAccount(ctx, reg.Account.UID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !stored.EmailVerified {
		t.Fatalf("expected verification to be persisted")
	}

	// Verifying twice is harmless.
	if _, err := svc.VerifyEmail(ctx, reg.VerificationToken); err != nil {
		t.Fatalf("second verify: %v", err)
	}
}

func TestValidateToken_RejectsForeignTokens(t *testing.T) {
	cfg := testJWTConfig()

	token, err := GenerateToken(cfg, "uid-1", "a@example.com", PurposeSession)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token, PurposeSession); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if _, err := ValidateToken(cfg, token, PurposeVerifyEmail); err == nil {
		t.Fatalf("expected purpose mismatch to fail")
	}

	other := *cfg
	other.Secret = []byte("another-secret-entirely")
	if _, err := ValidateToken(&other, token, PurposeSession); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}

	other = *cfg
	other.Audience = "someone-else"
	if _, err := ValidateToken(&other, token, PurposeSession); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}

	expired := *cfg
	expired.TTL = -time.Minute
	old, err := GenerateToken(&expired, "uid-1", "a@example.com", PurposeSession)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, old, PurposeSession); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
