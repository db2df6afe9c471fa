package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"identity-service/internal/domain"
	"identity-service/internal/ports"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

type TokenTTL struct {
	Access  time.Duration
	Refresh time.Duration
}

type AuthService struct {
	users    ports.UserRepository
	verifier ports.CredentialVerifier
	codec    ports.TokenCodec
	logger   ports.Logger
	ttl      TokenTTL
	now      func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

type AuthOption func(*AuthService)

func WithClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAuthService(users ports.UserRepository, verifier ports.CredentialVerifier, codec ports.TokenCodec, ttl TokenTTL, logger ports.Logger, opts ...AuthOption) *AuthService {
	if ttl.Access <= 0 {
		ttl.Access = DefaultAccessTTL
	}
	if ttl.Refresh <= 0 {
		ttl.Refresh = DefaultRefreshTTL
	}
	s := &AuthService{
		users:    users,
		verifier: verifier,
		codec:    codec,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login exchanges credentials for a token pair. Unknown, inactive and mismatched
// credentials all fail with domain.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (domain.TokenPair, error) {
	email = domain.NormalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.TokenPair{}, fmt.Errorf("load user: %w", err)
		}
		s.verifier.Verify(password, s.decoy())
		s.logger.Info(ctx, "login rejected", "reason", "unknown_email")
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	matched := s.verifier.Verify(password, user.PasswordHash)
	if !matched || !user.IsActive {
		s.logger.Info(ctx, "login rejected", "user_id", user.ID, "active", user.IsActive)
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return domain.TokenPair{}, err
	}
	s.logger.Info(ctx, "login succeeded", "user_id", user.ID)
	return pair, nil
}

// Refresh mints a new pair from a refresh token. The presented token stays
// valid until its own expiry.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	claims, err := s.codec.Parse(refreshToken)
	if err != nil {
		return domain.TokenPair{}, asInvalidToken(err)
	}
	if err := claims.Expect(domain.TokenKindRefresh); err != nil {
		return domain.TokenPair{}, err
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TokenPair{}, domain.ErrInvalidToken
		}
		return domain.TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		s.logger.Info(ctx, "refresh rejected", "user_id", user.ID, "active", false)
		return domain.TokenPair{}, domain.ErrInvalidToken
	}
	return s.issuePair(user)
}

func (s *AuthService) issuePair(user domain.User) (domain.TokenPair, error) {
	now := s.now().UTC()
	accessExp := now.Add(s.ttl.Access)
	refreshExp := now.Add(s.ttl.Refresh)

	access, err := s.codec.Issue(domain.Claims{
		Subject:   user.ID,
		Kind:      domain.TokenKindAccess,
		Roles:     user.RoleNames(),
		IssuedAt:  now,
		ExpiresAt: accessExp,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.codec.Issue(domain.Claims{
		Subject:   user.ID,
		Kind:      domain.TokenKindRefresh,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        domain.TokenTypeBearer,
		ExpiresIn:        int64(s.ttl.Access / time.Second),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// decoy returns a hash to verify against when no user matched, so the
// unknown-email path costs the same as a wrong password.
func (s *AuthService) decoy() string {
	s.decoyOnce.Do(func() {
		h, err := s.verifier.Hash("decoy-password-never-matches")
		if err == nil {
			s.decoyHash = h
		}
	})
	return s.decoyHash
}
