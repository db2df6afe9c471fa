package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"identity-service/internal/domain"
	"identity-service/internal/ids"
)

type CodecConfig struct {
	Secret    []byte
	Algorithm string
	Issuer    string
}

type tokenClaims struct {
	Kind  domain.TokenKind `json:"type"`
	Roles []string         `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTCodec signs and verifies HMAC JWTs. The secret is fixed for the lifetime of the codec.
type JWTCodec struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	now    func() time.Time
}

type CodecOption func(*JWTCodec)

// WithClock overrides the time source used for iat and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *JWTCodec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewJWTCodec(cfg CodecConfig, opts ...CodecOption) (*JWTCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	method, err := SigningMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	c := &JWTCodec{
		secret: secret,
		method: method,
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SigningMethod resolves the configured algorithm name. Only symmetric schemes are accepted.
func SigningMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", jwt.SigningMethodHS256.Alg():
		return jwt.SigningMethodHS256, nil
	case jwt.SigningMethodHS384.Alg():
		return jwt.SigningMethodHS384, nil
	case jwt.SigningMethodHS512.Alg():
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}

func (c *JWTCodec) Issue(claims domain.Claims) (string, error) {
	if strings.TrimSpace(claims.Subject) == "" || !claims.Kind.Valid() || claims.ExpiresAt.IsZero() {
		return "", domain.ErrInvalidInput
	}
	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}
	tokenID := claims.ID
	if tokenID == "" {
		tokenID = ids.New()
	}
	payload := tokenClaims{
		Kind:  claims.Kind,
		Roles: claims.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        tokenID,
		},
	}
	signed, err := jwt.NewWithClaims(c.method, payload).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer and expiry before any claim is trusted.
// Every failure is reported as domain.ErrInvalidToken.
func (c *JWTCodec) Parse(token string) (domain.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	payload := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, payload, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" {
		return domain.Claims{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	if !payload.Kind.Valid() {
		return domain.Claims{}, fmt.Errorf("%w: unknown token type %q", domain.ErrInvalidToken, payload.Kind)
	}

	claims := domain.Claims{
		ID:        payload.ID,
		Subject:   payload.Subject,
		Kind:      payload.Kind,
		Roles:     payload.Roles,
		ExpiresAt: payload.ExpiresAt.Time,
	}
	if payload.IssuedAt != nil {
		claims.IssuedAt = payload.IssuedAt.Time
	}
	return claims, nil
}
