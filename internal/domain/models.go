package domain

import (
	"slices"
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	Roles        []Role    `json:"roles"`
}

// RoleNames returns the names of the roles the user holds directly.
func (u User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		names = append(names, role.Name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// PermissionCodes returns the union of permission codes over all held roles.
func (u User) PermissionCodes() []string {
	var codes []string
	for _, role := range u.Roles {
		codes = append(codes, role.Permissions...)
	}
	slices.Sort(codes)
	return slices.Compact(codes)
}

type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type Permission struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type UserProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	Roles     []string  `json:"roles"`
}

func (u User) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		Roles:     u.RoleNames(),
	}
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

func (k TokenKind) Valid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// Claims is the verified payload of a token. Subject is always the user ID.
type Claims struct {
	ID        string
	Subject   string
	Kind      TokenKind
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expect rejects claims issued for a different use than the caller's.
func (c Claims) Expect(kind TokenKind) error {
	if c.Kind != kind {
		return ErrWrongTokenKind
	}
	return nil
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

const TokenTypeBearer = "bearer"
