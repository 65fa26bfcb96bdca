package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/auth/authtest"
)

func newTestService(t *testing.T) (*auth.Service, *authtest.Store) {
	t.Helper()
	store := authtest.New()
	iss := testIssuer(t)
	svc, err := auth.NewService(store, iss)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func mustRegister(t *testing.T, svc *auth.Service, email, password string) auth.User {
	t.Helper()
	u, err := svc.Register(context.Background(), email, password, "Test User")
	if err != nil {
		t.Fatalf("Register %s: %v", email, err)
	}
	return u
}

func TestRegisterNormalizesEmailAndRejectsDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u := mustRegister(t, svc, "  Ada@Example.COM ", "correct-horse")
	if u.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if !u.IsActive {
		t.Fatal("new users start active")
	}

	if _, err := svc.Register(ctx, "ada@example.com", "other-password", ""); !errors.Is(err, auth.ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "not-an-email", "longenough", ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := svc.Register(ctx, "ok@example.com", "short", ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestLoginIssuesPairAndTouchesLastLogin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "ada@example.com", "correct-horse")

	user, pair, err := svc.Login(ctx, "ADA@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}
	ident, err := store.Identities().FindPasswordByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindPasswordByUser: %v", err)
	}
	if ident.LastLoginAt == nil {
		t.Fatal("expected last login timestamp")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "ada@example.com", "correct-horse")

	if _, _, err := svc.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "ada@example.com", "wrong-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("bad password: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	u := mustRegister(t, svc, "ada@example.com", "correct-horse")

	inactive := false
	if _, err := store.Users().Update(ctx, u.ID, auth.UserUpdate{IsActive: &inactive}, nil); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, _, err := svc.Login(ctx, "ada@example.com", "correct-horse"); !errors.Is(err, auth.ErrInactiveUser) {
		t.Fatalf("expected ErrInactiveUser, got %v", err)
	}
	// the password check still runs first: wrong password on an inactive
	// account must not reveal the account state
	if _, _, err := svc.Login(ctx, "ada@example.com", "wrong-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateResolvesPermissions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	u := mustRegister(t, svc, "ada@example.com", "correct-horse")

	role, err := store.Roles().Create(ctx, auth.Role{Name: "reader"}, nil)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	perms, err := store.Permissions().GetByCodes(ctx, []string{auth.PermUsersRead})
	if err != nil || len(perms) != 1 {
		t.Fatalf("GetByCodes: %v (%d)", err, len(perms))
	}
	if err := store.Roles().SetPermissions(ctx, role.ID, []int64{perms[0].ID}, nil); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}
	if err := store.Users().SetRoles(ctx, u.ID, []int64{role.ID}, nil); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}

	_, pair, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	principal, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !principal.HasPermission(auth.PermUsersRead) {
		t.Fatal("expected users:read permission")
	}
	if principal.HasPermission(auth.PermUsersWrite) {
		t.Fatal("unexpected users:write permission")
	}
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustRegister(t, svc, "ada@example.com", "correct-horse")
	_, pair, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("refresh token accepted for authentication: %v", err)
	}
}

func TestLogoutRevokesOutstandingTokens(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u := mustRegister(t, svc, "ada@example.com", "correct-horse")
	_, pair, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Authenticate before logout: %v", err)
	}

	if err := svc.Logout(ctx, u.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("token still valid after logout: %v", err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("refresh still valid after logout: %v", err)
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	now := time.Now()
	store := authtest.New()
	iss := testIssuer(t, auth.WithClock(func() time.Time { return now }))
	svc, err := auth.NewService(store, iss)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	mustRegister(t, svc, "ada@example.com", "correct-horse")
	_, pair, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	now = now.Add(time.Minute)
	_, next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken == pair.AccessToken {
		t.Fatal("expected a fresh access token")
	}
	if _, err := svc.Authenticate(ctx, next.AccessToken); err != nil {
		t.Fatalf("Authenticate rotated token: %v", err)
	}
}

func TestChangePasswordRevokesAndRequiresCurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u := mustRegister(t, svc, "ada@example.com", "correct-horse")
	_, pair, err := svc.Login(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.ChangePassword(ctx, u.ID, "wrong-current", "new-password-1"); !errors.Is(err, auth.ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "correct-horse", "short"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "correct-horse", "new-password-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("old token survived a password change: %v", err)
	}
	if _, _, err := svc.Login(ctx, "ada@example.com", "correct-horse"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, _, err := svc.Login(ctx, "ada@example.com", "new-password-1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}
