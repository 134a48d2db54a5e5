package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/pkg/config"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

func (f *fakeUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == id {
			clone := *user
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserRepo) Update(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *user
	f.users[user.Username] = &clone
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == id {
			user.PasswordHash = passwordHash
			user.UpdatedAt = updatedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ID == id {
			user.Enabled = enabled
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserRepo) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for username, user := range f.users {
		if user.ID == id {
			delete(f.users, username)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.User, 0, len(f.users))
	for _, user := range f.users {
		out = append(out, *user)
	}
	return out, len(out), nil
}

type userEnv struct {
	*authEnv
	svc *UserService
}

func newUserEnv(t *testing.T) *userEnv {
	t.Helper()
	env := newAuthEnv(t, 0)
	return &userEnv{
		authEnv: env,
		svc:     NewUserService(env.users, env.tokens, nil, nil),
	}
}

func TestUserChangePasswordRevokesSessions(t *testing.T) {
	env := newUserEnv(t)
	env.seedUser(t, "alice", "alice@example.com", "old-secret", true)

	session, err := env.auth.Login(context.Background(), models.LoginRequest{
		UsernameOrEmail: "alice",
		Password:   "old-secret",
	})
	require.NoError(t, err)

	err = env.svc.ChangePassword(context.Background(), session.User.ID, models.ChangePasswordRequest{
		OldPassword: "old-secret",
		NewPassword: "new-secret",
	})
	require.NoError(t, err)

	// The outstanding token no longer works.
	_, err = env.auth.Validate(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrRevokedToken)

	// The old password is gone, the new one works.
	_, err = env.auth.Login(context.Background(), models.LoginRequest{
		UsernameOrEmail: "alice",
		Password:   "old-secret",
	})
	assert.ErrorIs(t, err, appErrors.ErrBadCredentials)
	_, err = env.auth.Login(context.Background(), models.LoginRequest{
		UsernameOrEmail: "alice",
		Password:   "new-secret",
	})
	assert.NoError(t, err)
}

func TestUserChangePasswordRejectsWrongCurrent(t *testing.T) {
	env := newUserEnv(t)
	user := env.seedUser(t, "alice", "alice@example.com", "old-secret", true)

	err := env.svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		OldPassword: "guess",
		NewPassword: "new-secret",
	})
	assert.ErrorIs(t, err, appErrors.ErrBadCredentials)
}

func TestUserDisableRevokesSessions(t *testing.T) {
	env := newUserEnv(t)
	env.seedUser(t, "alice", "alice@example.com", "secret-pw", true)

	session, err := env.auth.Login(context.Background(), models.LoginRequest{
		UsernameOrEmail: "alice",
		Password:   "secret-pw",
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.SetEnabled(context.Background(), session.User.ID, false))

	_, err = env.auth.Validate(context.Background(), session.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrRevokedToken)

	_, err = env.auth.Login(context.Background(), models.LoginRequest{
		UsernameOrEmail: "alice",
		Password:   "secret-pw",
	})
	assert.ErrorIs(t, err, appErrors.ErrAccountDisabled)
}

func TestUserChangeRole(t *testing.T) {
	env := newUserEnv(t)
	user := env.seedUser(t, "alice", "alice@example.com", "secret-pw", true)

	require.NoError(t, env.svc.ChangeRole(context.Background(), user.ID, models.RoleAdmin))
	updated, err := env.svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, updated.Role)

	err = env.svc.ChangeRole(context.Background(), user.ID, models.Role("ROLE_WIZARD"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestUserDeleteRemovesTokens(t *testing.T) {
	env := newUserEnv(t)
	env.seedUser(t, "alice", "alice@example.com", "secret-pw", true)

	session, err := env.auth.Login(context.Background(), models.LoginRequest{
		UsernameOrEmail: "alice",
		Password:   "secret-pw",
	})
	require.NoError(t, err)
	require.Equal(t, 2, env.store.count())

	require.NoError(t, env.svc.Delete(context.Background(), session.User.ID))
	assert.Equal(t, 0, env.store.count())

	err = env.svc.Delete(context.Background(), session.User.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestUserEnsureAdmin(t *testing.T) {
	env := newUserEnv(t)
	cfg := config.AdminConfig{Username: "admin", Email: "admin@example.com", Password: "boot-secret"}

	require.NoError(t, env.svc.EnsureAdmin(context.Background(), cfg))
	admin, err := env.users.FindByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.True(t, admin.Enabled)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("boot-secret")))

	// A second boot leaves the existing account alone.
	require.NoError(t, env.svc.EnsureAdmin(context.Background(), cfg))
	again, err := env.users.FindByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, admin.PasswordHash, again.PasswordHash)

	// Unconfigured bootstrap is a no-op.
	require.NoError(t, env.svc.EnsureAdmin(context.Background(), config.AdminConfig{}))
}
