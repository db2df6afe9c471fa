package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"identity-service/internal/domain"
	"identity-service/internal/infrastructure/auth"
	"identity-service/internal/infrastructure/memory"
	"identity-service/internal/infrastructure/security"
)

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Debug(context.Context, string, ...any) {}

type userRepoMock struct{ mock.Mock }

func (m *userRepoMock) Create(ctx context.Context, user domain.User) (domain.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *userRepoMock) GetByID(ctx context.Context, userID string) (domain.User, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *userRepoMock) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *userRepoMock) AssignRole(ctx context.Context, userID, roleName string) error {
	args := m.Called(ctx, userID, roleName)
	return args.Error(0)
}

func (m *userRepoMock) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type roleRepoMock struct{ mock.Mock }

func (m *roleRepoMock) Create(ctx context.Context, role domain.Role) error {
	args := m.Called(ctx, role)
	return args.Error(0)
}

func (m *roleRepoMock) GetByName(ctx context.Context, name string) (domain.Role, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.Role), args.Error(1)
}

func (m *roleRepoMock) List(ctx context.Context) ([]domain.Role, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Role), args.Error(1)
}

func (m *roleRepoMock) GrantPermission(ctx context.Context, roleName, code string) error {
	args := m.Called(ctx, roleName, code)
	return args.Error(0)
}

type permissionRepoMock struct{ mock.Mock }

func (m *permissionRepoMock) Create(ctx context.Context, permission domain.Permission) error {
	args := m.Called(ctx, permission)
	return args.Error(0)
}

func (m *permissionRepoMock) List(ctx context.Context) ([]domain.Permission, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Permission), args.Error(1)
}

// fixture wires the real codec and verifier over an in-memory store.
type fixture struct {
	store    *memory.Store
	codec    *auth.JWTCodec
	verifier *security.BcryptVerifier
	auth     *AuthService
	guard    *Guard
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		verifier: security.NewBcryptVerifier(bcrypt.MinCost),
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	codec, err := auth.NewJWTCodec(auth.CodecConfig{
		Secret:    []byte("test-secret"),
		Algorithm: "HS256",
		Issuer:    "identity-service",
	}, auth.WithClock(clock))
	require.NoError(t, err)
	f.codec = codec

	ttl := TokenTTL{Access: 30 * time.Minute, Refresh: 7 * 24 * time.Hour}
	f.auth = NewAuthService(f.store.Users(), f.verifier, codec, ttl, nopLogger{}, WithClock(clock))
	f.guard = NewGuard(f.store.Users(), codec, nopLogger{})
	return f
}

func (f *fixture) grant(t *testing.T, role string, codes ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.Roles().GetByName(ctx, role); err != nil {
		require.NoError(t, f.store.Roles().Create(ctx, domain.Role{ID: role, Name: role}))
	}
	for _, code := range codes {
		_ = f.store.Permissions().Create(ctx, domain.Permission{ID: code, Code: code})
		require.NoError(t, f.store.Roles().GrantPermission(ctx, role, code))
	}
}

func (f *fixture) addUser(t *testing.T, id, email, password string, active bool, roles ...string) domain.User {
	t.Helper()
	ctx := context.Background()
	hash, err := f.verifier.Hash(password)
	require.NoError(t, err)
	_, err = f.store.Users().Create(ctx, domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		IsActive:     active,
		CreatedAt:    f.now,
	})
	require.NoError(t, err)
	for _, role := range roles {
		f.grant(t, role)
		require.NoError(t, f.store.Users().AssignRole(ctx, id, role))
	}
	user, err := f.store.Users().GetByID(ctx, id)
	require.NoError(t, err)
	return user
}
