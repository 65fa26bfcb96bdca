package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service provides credential operations and request authentication.
type Service struct {
	store  Store
	tokens *TokenIssuer
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the credential service.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{store: store, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// EnsureBuiltins ensures the predefined permission codes exist.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions().Ensure(ctx, BuiltinPermissions)
}

// Register creates a user and its password identity atomically. A password
// identity already bound to the email fails with ErrEmailExists.
func (s *Service) Register(ctx context.Context, email, password, name string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)

	if _, err := s.store.Identities().FindPassword(ctx, email); err == nil {
		return User{}, ErrEmailExists
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user, _, err := s.store.Identities().RegisterPassword(ctx, email, name, hash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Login verifies credentials and issues a token pair. Unknown email and bad
// password are indistinguishable to the caller; a deactivated user fails
// with ErrInactiveUser after the password check.
func (s *Service) Login(ctx context.Context, email, password string) (User, TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, TokenPair{}, ErrInvalidCredentials
	}
	identity, err := s.store.Identities().FindPassword(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, TokenPair{}, ErrInvalidCredentials
		}
		return User{}, TokenPair{}, err
	}
	if identity.PasswordHash == "" {
		return User{}, TokenPair{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(identity.PasswordHash, password); err != nil {
		return User{}, TokenPair{}, ErrInvalidCredentials
	}
	user, err := s.store.Users().Get(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, TokenPair{}, ErrInvalidCredentials
		}
		return User{}, TokenPair{}, err
	}
	if !user.IsActive {
		return User{}, TokenPair{}, ErrInactiveUser
	}
	if err := s.store.Identities().TouchLogin(ctx, identity.ID, s.now().UTC()); err != nil {
		return User{}, TokenPair{}, err
	}
	pair, err := s.tokens.Issue(user.ID, identity.TokenVersion)
	if err != nil {
		return User{}, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh validates a refresh token against the live identity and rotates
// the pair. Revoked (version-mismatched) tokens fail as invalid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (User, TokenPair, error) {
	user, identity, err := s.resolveToken(ctx, refreshToken, TokenRefresh)
	if err != nil {
		return User{}, TokenPair{}, err
	}
	pair, err := s.tokens.Issue(user.ID, identity.TokenVersion)
	if err != nil {
		return User{}, TokenPair{}, err
	}
	return user, pair, nil
}

// Authenticate validates an access token and returns the principal with
// permissions resolved fresh from the store.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	user, _, err := s.resolveToken(ctx, accessToken, TokenAccess)
	if err != nil {
		return Principal{}, err
	}
	return s.PrincipalFor(ctx, user)
}

// PrincipalFor resolves the union of permission codes across the user's
// roles. Called on every authenticated request; authorization decisions
// are never cached.
func (s *Service) PrincipalFor(ctx context.Context, user User) (Principal, error) {
	codes, err := s.store.Permissions().CodesForUser(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return Principal{User: user, Permissions: set}, nil
}

// Logout bumps the token version, instantly invalidating every token
// previously issued for the identity.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	identity, err := s.store.Identities().FindPasswordByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = s.store.Identities().BumpTokenVersion(ctx, identity.ID)
	return err
}

// ChangePassword verifies the current password, replaces the hash and bumps
// the token version so every other session must log in again.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, updated string) error {
	if len(updated) < 8 {
		return fmt.Errorf("%w: new password must be at least 8 characters", ErrInvalidInput)
	}
	identity, err := s.store.Identities().FindPasswordByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if identity.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	if err := VerifyPassword(identity.PasswordHash, current); err != nil {
		return ErrInvalidPassword
	}
	hash, err := HashPassword(updated)
	if err != nil {
		return err
	}
	_, err = s.store.Identities().UpdatePassword(ctx, identity.ID, hash)
	return err
}

// resolveToken parses a token of the expected class and checks it against
// the live identity: the embedded version must equal the current
// token_version and the user must be active.
func (s *Service) resolveToken(ctx context.Context, raw string, want TokenType) (User, AuthIdentity, error) {
	userID, claims, err := s.tokens.Parse(raw, want)
	if err != nil {
		return User{}, AuthIdentity{}, ErrInvalidToken
	}
	identity, err := s.store.Identities().FindPasswordByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, AuthIdentity{}, ErrInvalidToken
		}
		return User{}, AuthIdentity{}, err
	}
	if claims.Version() != identity.TokenVersion {
		return User{}, AuthIdentity{}, ErrInvalidToken
	}
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, AuthIdentity{}, ErrInvalidToken
		}
		return User{}, AuthIdentity{}, err
	}
	if !user.IsActive {
		return User{}, AuthIdentity{}, ErrInactiveUser
	}
	return user, identity, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
