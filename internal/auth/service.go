package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/vovakirdan/haven/internal/store"
)

var (
	// ErrInvalidCredentials is returned when email/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidEmail is returned when the email is not a valid address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidDisplayName is returned when the display name is too long.
	ErrInvalidDisplayName = errors.New("invalid display name")
	// ErrInvalidToken is returned for an expired, forged or misused token.
	ErrInvalidToken = errors.New("invalid token")
)

const (
	minPasswordLen    = 6
	maxDisplayNameLen = 64
)

// Registration is the result of a successful Register.
type Registration struct {
	Account           *store.Account
	Token             string
	VerificationToken string
}

// Service provides authentication operations over the account store.
type Service struct {
	store     store.AccountStore
	jwtConfig *JWTConfig
	validate  *validator.Validate
}

// NewService creates a new authentication service.
func NewService(accounts store.AccountStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     accounts,
		jwtConfig: jwtConfig,
		validate:  validator.New(),
	}
}

// Accounts exposes the account store the service authenticates against.
func (s *Service) Accounts() store.AccountStore {
	return s.store
}

// Register creates an unverified account and returns a session token together
// with the token that verifies its email.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*Registration, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return nil, ErrInvalidPassword
	}
	displayName = strings.TrimSpace(displayName)
	if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
		return nil, ErrInvalidDisplayName
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	acc := &store.Account{
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hashedPassword,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, acc.UID, acc.Email, PurposeSession)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	verification, err := s.IssueVerification(acc)
	if err != nil {
		return nil, err
	}

	return &Registration{Account: acc, Token: token, VerificationToken: verification}, nil
}

// Login validates credentials and returns a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.Account, error) {
	acc, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if errPwd := ComparePassword(acc.PasswordHash, password); errPwd != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, acc.UID, acc.Email, PurposeSession)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, acc, nil
}

// IssueVerification creates the token that proves ownership of acc's email.
func (s *Service) IssueVerification(acc *store.Account) (string, error) {
	token, err := GenerateToken(s.jwtConfig, acc.UID, acc.Email, PurposeVerifyEmail)
	if err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return token, nil
}

// VerifyEmail marks the account named by a verification token as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*store.Account, error) {
	claims, err := ValidateToken(s.jwtConfig, token, PurposeVerifyEmail)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	acc, err := s.store.GetAccount(ctx, claims.UID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	// The address may have changed since the token was issued.
	if acc.Email != claims.Email {
		return nil, ErrInvalidToken
	}
	if !acc.EmailVerified {
		if err := s.store.SetEmailVerified(ctx, acc.UID, true); err != nil {
			return nil, fmt.Errorf("set email verified: %w", err)
		}
		acc.EmailVerified = true
	}
	return acc, nil
}

// ValidateToken validates a session token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, tokenString, PurposeSession)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
