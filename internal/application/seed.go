package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"identity-service/internal/domain"
	"identity-service/internal/ids"
	"identity-service/internal/ports"
)

type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
	Users       []SeedUser       `yaml:"users"`
}

type SeedPermission struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
}

type SeedRole struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type SeedUser struct {
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	FullName string   `yaml:"full_name"`
	Roles    []string `yaml:"roles"`
}

func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

// SeedResult reports what a seeding run wrote.
type SeedResult struct {
	Skipped     bool
	Permissions int
	Roles       int
	Users       int
}

// Seeder applies bootstrap data through the repository interfaces. It only
// writes into an empty user store.
type Seeder struct {
	repo          ports.IdentityRepository
	verifier      ports.CredentialVerifier
	logger        ports.Logger
	adminPassword string
}

type SeederOption func(*Seeder)

// WithAdminPassword replaces the password of every seeded user that holds ADMIN.
func WithAdminPassword(password string) SeederOption {
	return func(s *Seeder) {
		s.adminPassword = password
	}
}

func NewSeeder(repo ports.IdentityRepository, verifier ports.CredentialVerifier, logger ports.Logger, opts ...SeederOption) *Seeder {
	s := &Seeder{repo: repo, verifier: verifier, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Seeder) Apply(ctx context.Context, seed Seed) (SeedResult, error) {
	count, err := s.repo.Users().Count(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		s.logger.Info(ctx, "seed skipped", "existing_users", count)
		return SeedResult{Skipped: true}, nil
	}

	var res SeedResult
	now := time.Now().UTC()
	for _, p := range seed.Permissions {
		err := s.repo.Permissions().Create(ctx, domain.Permission{
			ID:          ids.New(),
			Code:        p.Code,
			Description: p.Description,
			CreatedAt:   now,
		})
		switch {
		case err == nil:
			res.Permissions++
		case errors.Is(err, domain.ErrAlreadyExists):
		default:
			return res, fmt.Errorf("seed permission %s: %w", p.Code, err)
		}
	}

	for _, r := range seed.Roles {
		err := s.repo.Roles().Create(ctx, domain.Role{ID: ids.New(), Name: r.Name, Permissions: []string{}})
		switch {
		case err == nil:
			res.Roles++
		case errors.Is(err, domain.ErrAlreadyExists):
		default:
			return res, fmt.Errorf("seed role %s: %w", r.Name, err)
		}
		for _, code := range r.Permissions {
			if err := s.repo.Roles().GrantPermission(ctx, r.Name, code); err != nil {
				return res, fmt.Errorf("grant %s to %s: %w", code, r.Name, err)
			}
		}
	}

	for _, u := range seed.Users {
		password := u.Password
		if s.adminPassword != "" && holdsAdmin(u.Roles) {
			password = s.adminPassword
		}
		hash, err := s.verifier.Hash(password)
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		user, err := s.repo.Users().Create(ctx, domain.User{
			ID:           ids.NewUserID(),
			Email:        domain.NormalizeEmail(u.Email),
			PasswordHash: hash,
			FullName:     u.FullName,
			IsActive:     true,
			CreatedAt:    now,
		})
		if err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		for _, role := range u.Roles {
			if err := s.repo.Users().AssignRole(ctx, user.ID, role); err != nil {
				return res, fmt.Errorf("assign %s to %s: %w", role, u.Email, err)
			}
		}
		res.Users++
	}

	s.logger.Info(ctx, "seed applied", "permissions", res.Permissions, "roles", res.Roles, "users", res.Users)
	return res, nil
}

func holdsAdmin(roles []string) bool {
	return intersects(roles, []string{RoleAdmin})
}
