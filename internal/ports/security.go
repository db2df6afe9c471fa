package ports

import (
	"context"
	"identity-service/internal/domain"
)

type CredentialVerifier interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type TokenCodec interface {
	Issue(claims domain.Claims) (string, error)
	Parse(token string) (domain.Claims, error)
}

type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}
