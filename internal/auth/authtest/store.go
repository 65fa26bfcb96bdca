// Package authtest provides an in-memory auth.Store for tests. It honors
// the transactional contract of the real store: an audit entry passed to a
// mutation is recorded with the change, and never when the mutation fails.
package authtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"nexusconsole.org/internal/auth"
)

// Store is the in-memory implementation.
type Store struct {
	mu sync.Mutex

	users      map[int64]auth.User
	identities map[int64]auth.AuthIdentity
	roles      map[int64]auth.Role
	perms      map[int64]auth.Permission
	rolePerms  map[int64][]int64
	userRoles  map[int64][]int64
	audits     []auth.AuditEntry

	nextID int64
}

var _ auth.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		users:      make(map[int64]auth.User),
		identities: make(map[int64]auth.AuthIdentity),
		roles:      make(map[int64]auth.Role),
		perms:      make(map[int64]auth.Permission),
		rolePerms:  make(map[int64][]int64),
		userRoles:  make(map[int64][]int64),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) record(entry *auth.AuditEntry) {
	if entry == nil {
		return
	}
	entry.ID = s.id()
	entry.CreatedAt = time.Now().UTC()
	s.audits = append(s.audits, *entry)
}

// LastAudit returns the most recent audit entry for assertions.
func (s *Store) LastAudit() (auth.AuditEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audits) == 0 {
		return auth.AuditEntry{}, false
	}
	return s.audits[len(s.audits)-1], true
}

// AuditCount returns how many audit entries were recorded.
func (s *Store) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

func (s *Store) Users() auth.UserStore             { return (*users)(s) }
func (s *Store) Identities() auth.IdentityStore    { return (*identities)(s) }
func (s *Store) Roles() auth.RoleStore             { return (*roles)(s) }
func (s *Store) Permissions() auth.PermissionStore { return (*permissions)(s) }
func (s *Store) Audit() auth.AuditStore            { return (*auditLog)(s) }

type users Store

func (u *users) Create(_ context.Context, email, name string, active bool, entry *auth.AuditEntry) (auth.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.users {
		if have.Email == email {
			return auth.User{}, auth.ErrEmailExists
		}
	}
	now := time.Now().UTC()
	user := auth.User{ID: s.id(), Email: email, Name: name, IsActive: active, CreatedAt: now, UpdatedAt: now}
	s.users[user.ID] = user
	if entry != nil {
		entry.TargetID = &user.ID
	}
	s.record(entry)
	return user, nil
}

func (u *users) Get(_ context.Context, id int64) (auth.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

func (u *users) List(_ context.Context, filter auth.UserFilter, skip, limit int) ([]auth.User, int, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []auth.User
	for _, user := range s.users {
		if filter.Email != "" && !strings.Contains(strings.ToLower(user.Email), strings.ToLower(filter.Email)) {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToLower(user.Name), strings.ToLower(filter.Name)) {
			continue
		}
		if filter.IsActive != nil && user.IsActive != *filter.IsActive {
			continue
		}
		all = append(all, user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return pageOf(all, skip, limit)
}

func (u *users) Update(_ context.Context, id int64, upd auth.UserUpdate, entry *auth.AuditEntry) (auth.User, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	if upd.Email == nil && upd.Name == nil && upd.IsActive == nil {
		return user, nil
	}
	if upd.Email != nil {
		for _, other := range s.users {
			if other.ID != id && other.Email == *upd.Email {
				return auth.User{}, auth.ErrEmailExists
			}
		}
		user.Email = *upd.Email
	}
	if upd.Name != nil {
		user.Name = *upd.Name
	}
	if upd.IsActive != nil {
		user.IsActive = *upd.IsActive
	}
	user.UpdatedAt = time.Now().UTC()
	s.users[id] = user
	s.record(entry)
	return user, nil
}

func (u *users) Delete(_ context.Context, id int64, entry *auth.AuditEntry) error {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return auth.ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.userRoles, id)
	for identID, ident := range s.identities {
		if ident.UserID == id {
			delete(s.identities, identID)
		}
	}
	s.record(entry)
	return nil
}

func (u *users) SetRoles(_ context.Context, userID int64, roleIDs []int64, entry *auth.AuditEntry) error {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return auth.ErrUserNotFound
	}
	for _, rid := range roleIDs {
		if _, ok := s.roles[rid]; !ok {
			return auth.ErrRoleNotFound
		}
	}
	s.userRoles[userID] = append([]int64(nil), roleIDs...)
	s.record(entry)
	return nil
}

func (u *users) RoleNames(_ context.Context, userID int64) ([]string, error) {
	s := (*Store)(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, rid := range s.userRoles[userID] {
		if r, ok := s.roles[rid]; ok {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type identities Store

func (i *identities) RegisterPassword(_ context.Context, email, name, hash string) (auth.User, auth.AuthIdentity, error) {
	s := (*Store)(i)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.users {
		if have.Email == email {
			return auth.User{}, auth.AuthIdentity{}, auth.ErrEmailExists
		}
	}
	now := time.Now().UTC()
	user := auth.User{ID: s.id(), Email: email, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now}
	s.users[user.ID] = user
	ident := auth.AuthIdentity{
		ID: s.id(), UserID: user.ID, Provider: auth.ProviderPassword,
		Identifier: email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now,
	}
	s.identities[ident.ID] = ident
	s.record(&auth.AuditEntry{ActorUserID: &user.ID, Action: "auth.register", TargetType: "user", TargetID: &user.ID})
	return user, ident, nil
}

func (i *identities) FindPassword(_ context.Context, email string) (auth.AuthIdentity, error) {
	s := (*Store)(i)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.Provider == auth.ProviderPassword && ident.Identifier == email {
			return ident, nil
		}
	}
	return auth.AuthIdentity{}, auth.ErrIdentityNotFound
}

func (i *identities) FindPasswordByUser(_ context.Context, userID int64) (auth.AuthIdentity, error) {
	s := (*Store)(i)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.Provider == auth.ProviderPassword && ident.UserID == userID {
			return ident, nil
		}
	}
	return auth.AuthIdentity{}, auth.ErrIdentityNotFound
}

func (i *identities) TouchLogin(_ context.Context, identityID int64, at time.Time) error {
	s := (*Store)(i)
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[identityID]
	if !ok {
		return auth.ErrIdentityNotFound
	}
	ident.LastLoginAt = &at
	s.identities[identityID] = ident
	return nil
}

func (i *identities) BumpTokenVersion(_ context.Context, identityID int64) (int, error) {
	s := (*Store)(i)
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[identityID]
	if !ok {
		return 0, auth.ErrIdentityNotFound
	}
	ident.TokenVersion++
	s.identities[identityID] = ident
	return ident.TokenVersion, nil
}

func (i *identities) UpdatePassword(_ context.Context, identityID int64, hash string) (int, error) {
	s := (*Store)(i)
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[identityID]
	if !ok {
		return 0, auth.ErrIdentityNotFound
	}
	ident.PasswordHash = hash
	ident.TokenVersion++
	s.identities[identityID] = ident
	return ident.TokenVersion, nil
}

type roles Store

func (r *roles) Create(_ context.Context, role auth.Role, entry *auth.AuditEntry) (auth.Role, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.roles {
		if have.Name == role.Name {
			return auth.Role{}, auth.ErrRoleExists
		}
	}
	now := time.Now().UTC()
	role.ID = s.id()
	role.CreatedAt = now
	role.UpdatedAt = now
	role.Permissions = nil
	s.roles[role.ID] = role
	if entry != nil {
		entry.TargetID = &role.ID
	}
	s.record(entry)
	return role, nil
}

func (r *roles) Get(_ context.Context, id int64) (auth.Role, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrRoleNotFound
	}
	return role, nil
}

func (r *roles) GetByNames(_ context.Context, names []string) ([]auth.Role, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Role
	for _, name := range names {
		for _, role := range s.roles {
			if role.Name == name {
				out = append(out, role)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *roles) List(_ context.Context) ([]auth.Role, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Role
	for _, role := range s.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *roles) Update(_ context.Context, id int64, upd auth.RoleUpdate, entry *auth.AuditEntry) (auth.Role, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrRoleNotFound
	}
	if upd.Name == nil && upd.Description == nil && upd.ExclusiveGroup == nil && upd.Priority == nil {
		return role, nil
	}
	if upd.Name != nil {
		for _, other := range s.roles {
			if other.ID != id && other.Name == *upd.Name {
				return auth.Role{}, auth.ErrRoleExists
			}
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.ExclusiveGroup != nil {
		role.ExclusiveGroup = *upd.ExclusiveGroup
	}
	if upd.Priority != nil {
		role.Priority = *upd.Priority
	}
	role.UpdatedAt = time.Now().UTC()
	s.roles[id] = role
	s.record(entry)
	return role, nil
}

func (r *roles) Delete(_ context.Context, id int64, entry *auth.AuditEntry) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return auth.ErrRoleNotFound
	}
	for _, rids := range s.userRoles {
		for _, rid := range rids {
			if rid == id {
				return auth.ErrRoleInUse
			}
		}
	}
	delete(s.roles, id)
	delete(s.rolePerms, id)
	s.record(entry)
	return nil
}

func (r *roles) SetPermissions(_ context.Context, roleID int64, permissionIDs []int64, entry *auth.AuditEntry) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrRoleNotFound
	}
	for _, pid := range permissionIDs {
		if _, ok := s.perms[pid]; !ok {
			return auth.ErrPermissionNotFound
		}
	}
	s.rolePerms[roleID] = append([]int64(nil), permissionIDs...)
	s.record(entry)
	return nil
}

func (r *roles) PermissionsForRole(_ context.Context, roleID int64) ([]auth.Permission, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for _, pid := range s.rolePerms[roleID] {
		if p, ok := s.perms[pid]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *roles) RolesForUser(_ context.Context, userID int64) ([]auth.Role, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Role
	for _, rid := range s.userRoles[userID] {
		if role, ok := s.roles[rid]; ok {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type permissions Store

func (p *permissions) List(_ context.Context) ([]auth.Permission, error) {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for _, perm := range s.perms {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (p *permissions) GetByCodes(_ context.Context, codes []string) ([]auth.Permission, error) {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Permission
	for _, code := range codes {
		for _, perm := range s.perms {
			if perm.Code == code {
				out = append(out, perm)
				break
			}
		}
	}
	return out, nil
}

func (p *permissions) CodesForUser(_ context.Context, userID int64) ([]string, error) {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, rid := range s.userRoles[userID] {
		for _, pid := range s.rolePerms[rid] {
			if perm, ok := s.perms[pid]; ok {
				seen[perm.Code] = struct{}{}
			}
		}
	}
	var codes []string
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (p *permissions) Ensure(_ context.Context, perms []auth.Permission) error {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, perm := range perms {
		exists := false
		for _, have := range s.perms {
			if have.Code == perm.Code {
				exists = true
				break
			}
		}
		if !exists {
			perm.ID = s.id()
			perm.CreatedAt = time.Now().UTC()
			s.perms[perm.ID] = perm
		}
	}
	return nil
}

type auditLog Store

func (a *auditLog) Append(_ context.Context, entry *auth.AuditEntry) error {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(entry)
	return nil
}

func (a *auditLog) Get(_ context.Context, id int64) (auth.AuditEntry, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.audits {
		if e.ID == id {
			return e, nil
		}
	}
	return auth.AuditEntry{}, auth.ErrAuditLogNotFound
}

func (a *auditLog) List(_ context.Context, filter auth.AuditFilter, skip, limit int) ([]auth.AuditEntry, int, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []auth.AuditEntry
	for _, e := range s.audits {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.TargetType != "" && e.TargetType != filter.TargetType {
			continue
		}
		if filter.ActorUserID != nil && (e.ActorUserID == nil || *e.ActorUserID != *filter.ActorUserID) {
			continue
		}
		if filter.TargetID != nil && (e.TargetID == nil || *e.TargetID != *filter.TargetID) {
			continue
		}
		if filter.RequestID != "" && e.RequestID != filter.RequestID {
			continue
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return pageOf(all, skip, limit)
}

func pageOf[T any](all []T, skip, limit int) ([]T, int, error) {
	total := len(all)
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 50
	}
	if skip >= total {
		return nil, total, nil
	}
	end := skip + limit
	if end > total {
		end = total
	}
	return all[skip:end], total, nil
}
