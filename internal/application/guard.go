package application

import (
	"context"
	"errors"
	"fmt"

	"identity-service/internal/domain"
	"identity-service/internal/ports"
)

// Guard resolves callers from access tokens and checks requirements against them.
type Guard struct {
	users  ports.UserRepository
	codec  ports.TokenCodec
	logger ports.Logger
}

func NewGuard(users ports.UserRepository, codec ports.TokenCodec, logger ports.Logger) *Guard {
	return &Guard{users: users, codec: codec, logger: logger}
}

func (g *Guard) Authenticate(ctx context.Context, accessToken string) (domain.User, error) {
	claims, err := g.codec.Parse(accessToken)
	if err != nil {
		return domain.User{}, asInvalidToken(err)
	}
	if err := claims.Expect(domain.TokenKindAccess); err != nil {
		return domain.User{}, err
	}
	user, err := g.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthenticated
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		g.logger.Warn(ctx, "inactive user presented access token", "user_id", user.ID)
		return domain.User{}, domain.ErrUnauthenticated
	}
	return user, nil
}

// Authorize is pure over the user's snapshot. Inactive users never pass.
func (g *Guard) Authorize(user domain.User, req Requirement) (domain.User, error) {
	if !user.IsActive {
		return domain.User{}, domain.ErrUnauthenticated
	}
	if req == nil || !req.SatisfiedBy(user) {
		return domain.User{}, domain.ErrForbidden
	}
	return user, nil
}

func (g *Guard) Require(ctx context.Context, accessToken string, req Requirement) (domain.User, error) {
	user, err := g.Authenticate(ctx, accessToken)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := g.Authorize(user, req); err != nil {
		g.logger.Info(ctx, "access denied", "user_id", user.ID, "requirement", fmt.Sprint(req))
		return domain.User{}, err
	}
	return user, nil
}

func asInvalidToken(err error) error {
	if errors.Is(err, domain.ErrInvalidToken) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
}
