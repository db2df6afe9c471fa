package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"identity-service/internal/domain"
	"identity-service/internal/ports"
)

// Store is a process-local identity repository. Email uniqueness is enforced
// under the same lock as the insert.
type Store struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	userRoles   map[string][]string
	emails      map[string]string
	roles       map[string]domain.Role
	permissions map[string]domain.Permission
}

func NewStore() *Store {
	return &Store{
		users:       map[string]domain.User{},
		userRoles:   map[string][]string{},
		emails:      map[string]string{},
		roles:       map[string]domain.Role{},
		permissions: map[string]domain.Permission{},
	}
}

func (s *Store) Users() ports.UserRepository             { return userRepo{s} }
func (s *Store) Roles() ports.RoleRepository             { return roleRepo{s} }
func (s *Store) Permissions() ports.PermissionRepository { return permissionRepo{s} }

// resolve must be called with s.mu held.
func (s *Store) resolve(user domain.User) domain.User {
	names := s.userRoles[user.ID]
	user.Roles = make([]domain.Role, 0, len(names))
	for _, name := range names {
		if role, ok := s.roles[name]; ok {
			role.Permissions = slices.Clone(role.Permissions)
			user.Roles = append(user.Roles, role)
		}
	}
	return user
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.emails[user.Email]; taken {
		return domain.User{}, domain.ErrDuplicateEmail
	}
	if _, taken := r.s.users[user.ID]; taken {
		return domain.User{}, domain.ErrAlreadyExists
	}
	user.Roles = nil
	r.s.users[user.ID] = user
	r.s.emails[user.Email] = user.ID
	return r.s.resolve(user), nil
}

func (r userRepo) GetByID(_ context.Context, userID string) (domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return r.s.resolve(user), nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.emails[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return r.s.resolve(r.s.users[id]), nil
}

func (r userRepo) AssignRole(_ context.Context, userID, roleName string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := r.s.roles[roleName]; !ok {
		return domain.ErrNotFound
	}
	if !slices.Contains(r.s.userRoles[userID], roleName) {
		r.s.userRoles[userID] = append(r.s.userRoles[userID], roleName)
	}
	return nil
}

func (r userRepo) Count(context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.users), nil
}

type roleRepo struct{ s *Store }

func (r roleRepo) Create(_ context.Context, role domain.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.roles[role.Name]; taken {
		return domain.ErrAlreadyExists
	}
	role.Permissions = slices.Clone(role.Permissions)
	r.s.roles[role.Name] = role
	return nil
}

func (r roleRepo) GetByName(_ context.Context, name string) (domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[name]
	if !ok {
		return domain.Role{}, domain.ErrNotFound
	}
	role.Permissions = slices.Clone(role.Permissions)
	return role, nil
}

func (r roleRepo) List(context.Context) ([]domain.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		role.Permissions = slices.Clone(role.Permissions)
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roleRepo) GrantPermission(_ context.Context, roleName, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[roleName]
	if !ok {
		return domain.ErrNotFound
	}
	if _, ok := r.s.permissions[code]; !ok {
		return domain.ErrNotFound
	}
	if slices.Contains(role.Permissions, code) {
		return nil
	}
	role.Permissions = append(slices.Clone(role.Permissions), code)
	slices.Sort(role.Permissions)
	r.s.roles[roleName] = role
	return nil
}

type permissionRepo struct{ s *Store }

func (r permissionRepo) Create(_ context.Context, permission domain.Permission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.permissions[permission.Code]; taken {
		return domain.ErrAlreadyExists
	}
	r.s.permissions[permission.Code] = permission
	return nil
}

func (r permissionRepo) List(context.Context) ([]domain.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Permission, 0, len(r.s.permissions))
	for _, p := range r.s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
