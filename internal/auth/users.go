package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserService provides the administrative user CRUD. Every mutation is
// audited atomically with its database change.
type UserService struct {
	store Store
	sink  AuditSink
}

// NewUserService constructs the user admin service. sink may be nil.
func NewUserService(store Store, sink AuditSink) (*UserService, error) {
	if store == nil {
		return nil, errors.New("auth: user store is required")
	}
	return &UserService{store: store, sink: sink}, nil
}

func (s *UserService) record(ctx context.Context, entry *AuditEntry) {
	if s.sink != nil {
		s.sink.Record(ctx, entry)
	}
}

// Create adds a user record without credentials. The user can gain a
// password identity later through registration flows.
func (s *UserService) Create(ctx context.Context, email, name string, active bool, meta AuditMeta) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)

	entry := meta.entry("users.user.create", "user", nil, map[string]any{
		"email":     email,
		"name":      name,
		"is_active": active,
	})
	user, err := s.store.Users().Create(ctx, email, name, active, entry)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, entry)
	return user, nil
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id int64) (User, error) {
	return s.store.Users().Get(ctx, id)
}

// List pages through users matching the filter.
func (s *UserService) List(ctx context.Context, filter UserFilter, skip, limit int) ([]User, int, error) {
	return s.store.Users().List(ctx, filter, skip, limit)
}

// Update applies a partial update and audits the change.
func (s *UserService) Update(ctx context.Context, id int64, upd UserUpdate, meta AuditMeta) (User, error) {
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		upd.Name = &name
	}

	payload := map[string]any{}
	if upd.Email != nil {
		payload["email"] = *upd.Email
	}
	if upd.Name != nil {
		payload["name"] = *upd.Name
	}
	if upd.IsActive != nil {
		payload["is_active"] = *upd.IsActive
	}
	if len(payload) == 0 {
		// Nothing to change: a no-op patch reads, it does not audit.
		return s.store.Users().Get(ctx, id)
	}

	entry := meta.entry("users.user.update", "user", &id, payload)
	user, err := s.store.Users().Update(ctx, id, upd, entry)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, entry)
	return user, nil
}

// Delete removes a user; identities cascade, audit rows keep a null actor.
func (s *UserService) Delete(ctx context.Context, id int64, meta AuditMeta) error {
	user, err := s.store.Users().Get(ctx, id)
	if err != nil {
		return err
	}
	entry := meta.entry("users.user.delete", "user", &id, map[string]any{"email": user.Email})
	if err := s.store.Users().Delete(ctx, id, entry); err != nil {
		return err
	}
	s.record(ctx, entry)
	return nil
}
