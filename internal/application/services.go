package application

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"identity-service/internal/domain"
	"identity-service/internal/ids"
	"identity-service/internal/ports"
)

type RoleService struct {
	repo ports.RoleRepository
}

func NewRoleService(repo ports.RoleRepository) *RoleService {
	return &RoleService{repo: repo}
}

func (s *RoleService) Create(ctx context.Context, name string) (domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Role{}, domain.ErrInvalidInput
	}
	role := domain.Role{ID: ids.New(), Name: name, Permissions: []string{}}
	if err := s.repo.Create(ctx, role); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (s *RoleService) List(ctx context.Context) ([]domain.Role, error) {
	return s.repo.List(ctx)
}

func (s *RoleService) GrantPermission(ctx context.Context, roleName, code string) error {
	roleName = strings.TrimSpace(roleName)
	code = strings.TrimSpace(code)
	if roleName == "" || code == "" {
		return domain.ErrInvalidInput
	}
	return s.repo.GrantPermission(ctx, roleName, code)
}

type PermissionService struct {
	repo ports.PermissionRepository
	now  func() time.Time
}

func NewPermissionService(repo ports.PermissionRepository) *PermissionService {
	return &PermissionService{repo: repo, now: time.Now}
}

func (s *PermissionService) Create(ctx context.Context, code, description string) (domain.Permission, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Permission{}, domain.ErrInvalidInput
	}
	permission := domain.Permission{
		ID:          ids.New(),
		Code:        code,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, permission); err != nil {
		return domain.Permission{}, err
	}
	return permission, nil
}

func (s *PermissionService) List(ctx context.Context) ([]domain.Permission, error) {
	return s.repo.List(ctx)
}

type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

type UserService struct {
	userRepo ports.UserRepository
	roleRepo ports.RoleRepository
	verifier ports.CredentialVerifier
	logger   ports.Logger
	now      func() time.Time
}

func NewUserService(userRepo ports.UserRepository, roleRepo ports.RoleRepository, verifier ports.CredentialVerifier, logger ports.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		roleRepo: roleRepo,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates an active user with no roles. A concurrent duplicate is
// rejected by the store and surfaces as domain.ErrDuplicateEmail.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	email := domain.NormalizeEmail(in.Email)
	if !validEmail(email) || in.Password == "" {
		return domain.User{}, domain.ErrInvalidInput
	}

	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return domain.User{}, domain.ErrDuplicateEmail
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.verifier.Hash(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.userRepo.Create(ctx, domain.User{
		ID:           ids.NewUserID(),
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
		Roles:        []domain.Role{},
	})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

func (s *UserService) AssignRole(ctx context.Context, userID, roleName string) error {
	roleName = strings.TrimSpace(roleName)
	if userID == "" || roleName == "" {
		return domain.ErrInvalidInput
	}
	if !ids.ValidUserID(userID) {
		return domain.ErrNotFound
	}
	if _, err := s.roleRepo.GetByName(ctx, roleName); err != nil {
		return err
	}
	if err := s.userRepo.AssignRole(ctx, userID, roleName); err != nil {
		return err
	}
	s.logger.Info(ctx, "role assigned", "user_id", userID, "role", roleName)
	return nil
}

func (s *UserService) Get(ctx context.Context, userID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, domain.ErrInvalidInput
	}
	// Ids are issued by NewUserID; anything else cannot name a user.
	if !ids.ValidUserID(userID) {
		return domain.User{}, domain.ErrNotFound
	}
	return s.userRepo.GetByID(ctx, userID)
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
