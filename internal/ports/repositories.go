package ports

import (
	"context"
	"identity-service/internal/domain"
)

// UserRepository returns users with their role and permission snapshot resolved.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	GetByID(ctx context.Context, userID string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	AssignRole(ctx context.Context, userID, roleName string) error
	Count(ctx context.Context) (int, error)
}

type RoleRepository interface {
	Create(ctx context.Context, role domain.Role) error
	GetByName(ctx context.Context, name string) (domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
	GrantPermission(ctx context.Context, roleName, code string) error
}

type PermissionRepository interface {
	Create(ctx context.Context, permission domain.Permission) error
	List(ctx context.Context) ([]domain.Permission, error)
}

// IdentityRepository bundles the three stores a storage backend provides.
type IdentityRepository interface {
	Users() UserRepository
	Roles() RoleRepository
	Permissions() PermissionRepository
}
