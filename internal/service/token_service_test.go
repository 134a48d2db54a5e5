package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/repository"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

// fakeTokenStore is an in-memory stand-in for the token repository. It is
// shared by the token and auth service tests in this package.
type fakeTokenStore struct {
	mu     sync.Mutex
	rows   map[string]*models.Token
	nextID int64
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{rows: make(map[string]*models.Token)}
}

func (f *fakeTokenStore) Save(ctx context.Context, value string, userID int64, kind models.TokenKind, expiresAt time.Time) (*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[value]; ok {
		return nil, appErrors.ErrDuplicateToken
	}
	f.nextID++
	token := &models.Token{
		ID:        f.nextID,
		Value:     value,
		Kind:      kind,
		UserID:    userID,
		CreatedAt: time.Now().UTC().Add(time.Duration(f.nextID) * time.Millisecond),
		ExpiresAt: expiresAt,
	}
	f.rows[value] = token
	clone := *token
	return &clone, nil
}

func (f *fakeTokenStore) FindByToken(ctx context.Context, value string) (*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.rows[value]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *token
	return &clone, nil
}

func (f *fakeTokenStore) FindByTokenForUpdate(ctx context.Context, value string) (*models.Token, error) {
	return f.FindByToken(ctx, value)
}

func (f *fakeTokenStore) IsValid(ctx context.Context, value string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.rows[value]
	if !ok {
		return false, nil
	}
	return token.IsValid(now), nil
}

func (f *fakeTokenStore) FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Token
	for _, token := range f.rows {
		if token.UserID == userID && token.IsValid(now) {
			out = append(out, *token)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeTokenStore) FindValidByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind, now time.Time) ([]models.Token, error) {
	all, _ := f.FindValidByUser(ctx, userID, now)
	var out []models.Token
	for _, token := range all {
		if token.Kind == kind {
			out = append(out, token)
		}
	}
	return out, nil
}

func (f *fakeTokenStore) CountValidByUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	all, _ := f.FindValidByUser(ctx, userID, now)
	return len(all), nil
}

func (f *fakeTokenStore) Revoke(ctx context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token, ok := f.rows[value]; ok {
		token.Revoked = true
	}
	return nil
}

func (f *fakeTokenStore) ExpireAllByUser(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range f.rows {
		if token.UserID == userID {
			token.Expired = true
		}
	}
	return nil
}

func (f *fakeTokenStore) ExpireAllByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range f.rows {
		if token.UserID == userID && token.Kind == kind {
			token.Expired = true
		}
	}
	return nil
}

func (f *fakeTokenStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for value, token := range f.rows {
		if deleted >= int64(limit) {
			break
		}
		if token.Expired || !now.Before(token.ExpiresAt) {
			delete(f.rows, value)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeTokenStore) DeleteAllByUser(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for value, token := range f.rows {
		if token.UserID == userID {
			delete(f.rows, value)
		}
	}
	return nil
}

func (f *fakeTokenStore) InTx(ctx context.Context, fn func(repository.TokenTx) error) error {
	return fn(f)
}

func (f *fakeTokenStore) get(value string) *models.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.rows[value]
	if !ok {
		return nil
	}
	clone := *token
	return &clone
}

func (f *fakeTokenStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func seedToken(t *testing.T, store *fakeTokenStore, value string, userID int64, kind models.TokenKind, expiresAt time.Time) {
	t.Helper()
	_, err := store.Save(context.Background(), value, userID, kind, expiresAt)
	require.NoError(t, err)
}

func TestTokenServiceEnforceSessionLimitRevokesOldest(t *testing.T) {
	store := newFakeTokenStore()
	svc := NewTokenService(store, zap.NewNop(), 3, 100)

	future := time.Now().Add(time.Hour)
	seedToken(t, store, "t1", 7, models.TokenKindAccess, future)
	seedToken(t, store, "t2", 7, models.TokenKindAccess, future)
	seedToken(t, store, "t3", 7, models.TokenKindAccess, future)

	require.NoError(t, svc.EnforceSessionLimit(context.Background(), 7))

	assert.True(t, store.get("t1").Revoked, "oldest token must be revoked")
	assert.False(t, store.get("t2").Revoked)
	assert.False(t, store.get("t3").Revoked)

	count, err := svc.CountActiveSessions(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTokenServiceEnforceSessionLimitUnderCeiling(t *testing.T) {
	store := newFakeTokenStore()
	svc := NewTokenService(store, zap.NewNop(), 3, 100)

	future := time.Now().Add(time.Hour)
	seedToken(t, store, "t1", 7, models.TokenKindAccess, future)

	require.NoError(t, svc.EnforceSessionLimit(context.Background(), 7))
	assert.False(t, store.get("t1").Revoked)
}

func TestTokenServiceEnforceSessionLimitDisabled(t *testing.T) {
	store := newFakeTokenStore()
	svc := NewTokenService(store, zap.NewNop(), 0, 100)

	future := time.Now().Add(time.Hour)
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		seedToken(t, store, v, 7, models.TokenKindAccess, future)
	}

	require.NoError(t, svc.EnforceSessionLimit(context.Background(), 7))
	count, err := svc.CountActiveSessions(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestTokenServiceCountsRevocations(t *testing.T) {
	store := newFakeTokenStore()
	metrics := NewMetricsService()
	svc := NewTokenService(store, zap.NewNop(), 2, 100)
	svc.SetMetrics(metrics)

	future := time.Now().Add(time.Hour)
	seedToken(t, store, "t1", 7, models.TokenKindAccess, future)
	seedToken(t, store, "t2", 7, models.TokenKindAccess, future)

	// At the ceiling one slot is freed for the incoming token.
	require.NoError(t, svc.EnforceSessionLimit(context.Background(), 7))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.tokensRevoked))

	// RevokeAll counts the sessions that were still valid.
	require.NoError(t, svc.RevokeAll(context.Background(), 7))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.tokensRevoked))
}

func TestTokenServicePruneExpiredDrainsBacklog(t *testing.T) {
	store := newFakeTokenStore()
	svc := NewTokenService(store, zap.NewNop(), 0, 2)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	for _, v := range []string{"e1", "e2", "e3", "e4", "e5"} {
		seedToken(t, store, v, 7, models.TokenKindAccess, past)
	}
	seedToken(t, store, "live", 7, models.TokenKindAccess, future)

	deleted, err := svc.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.Equal(t, 1, store.count())
	assert.NotNil(t, store.get("live"))
}

func TestTokenServicePruneHonoursContext(t *testing.T) {
	store := newFakeTokenStore()
	svc := NewTokenService(store, zap.NewNop(), 0, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.PruneExpired(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenServiceRevokeIsIdempotent(t *testing.T) {
	store := newFakeTokenStore()
	svc := NewTokenService(store, zap.NewNop(), 0, 100)

	seedToken(t, store, "tok", 7, models.TokenKindAccess, time.Now().Add(time.Hour))
	seedToken(t, store, "other", 7, models.TokenKindAccess, time.Now().Add(time.Hour))

	require.NoError(t, store.Revoke(context.Background(), "tok"))
	require.NoError(t, store.Revoke(context.Background(), "tok"))
	require.NoError(t, store.Revoke(context.Background(), "never-issued"))

	// Repeated and absent revocations leave the store untouched.
	assert.Equal(t, 2, store.count())
	ok, err := svc.IsValid(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.IsValid(context.Background(), "other")
	require.NoError(t, err)
	assert.True(t, ok, "unrelated token must stay valid")
}

func TestTokenServiceIsValid(t *testing.T) {
	store := newFakeTokenStore()
	svc := NewTokenService(store, zap.NewNop(), 0, 100)

	seedToken(t, store, "live", 7, models.TokenKindAccess, time.Now().Add(time.Hour))
	seedToken(t, store, "dead", 7, models.TokenKindAccess, time.Now().Add(-time.Hour))
	require.NoError(t, store.Revoke(context.Background(), "live"))

	ok, err := svc.IsValid(context.Background(), "live")
	require.NoError(t, err)
	assert.False(t, ok, "revoked token must be invalid")

	ok, err = svc.IsValid(context.Background(), "dead")
	require.NoError(t, err)
	assert.False(t, ok, "expired token must be invalid")

	ok, err = svc.IsValid(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok, "unknown token must be invalid, not an error")
}
