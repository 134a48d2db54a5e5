package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pierix/crm-api/internal/models"
)

func newUserMock(t *testing.T) (*UserRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewUserRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func userRows(id int64, username, email string, role models.Role, enabled bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "first_name", "last_name",
		"role", "enabled", "last_login", "created_at", "updated_at",
	}).AddRow(id, username, email, "hash", "First", "Last", string(role), enabled, nil, now, now)
}

// An identifier may be a username or an email; one query resolves both.
func TestUserRepositoryFindByUsernameOrEmail(t *testing.T) {
	repo, mock, cleanup := newUserMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .+ FROM users WHERE username = .+ OR email = ").
		WithArgs("alice@example.com").
		WillReturnRows(userRows(1, "alice", "alice@example.com", models.RoleUser, true))

	user, err := repo.FindByUsernameOrEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, models.RoleUser, user.Role)

	mock.ExpectQuery("SELECT .+ FROM users WHERE username = .+ OR email = ").
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.FindByUsernameOrEmail(context.Background(), "nobody")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUserRepositoryExists(t *testing.T) {
	repo, mock, cleanup := newUserMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUserRepositoryCreateAssignsID(t *testing.T) {
	repo, mock, cleanup := newUserMock(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	user := &models.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Role:         models.RoleUser,
		Enabled:      true,
	}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.Equal(t, int64(42), user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryUpdatePassword(t *testing.T) {
	repo, mock, cleanup := newUserMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE users SET password_hash = ").
		WithArgs(int64(1), "new-hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePassword(context.Background(), 1, "new-hash", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
