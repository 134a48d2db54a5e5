package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/middleware"
	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/repository"
	"github.com/pierix/crm-api/internal/service"
	"github.com/pierix/crm-api/pkg/config"
	appErrors "github.com/pierix/crm-api/pkg/errors"
	"github.com/pierix/crm-api/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memUserRepo is an in-memory user store for wiring a real auth service
// behind the handler under test.
type memUserRepo struct {
	users  map[string]*models.User
	nextID int64
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*models.User)}
}

func (m *memUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if user, ok := m.users[username]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) FindByUsernameOrEmail(ctx context.Context, identifier string) (*models.User, error) {
	for _, user := range m.users {
		if user.Username == identifier || user.Email == identifier {
			clone := *user
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, ok := m.users[username]
	return ok, nil
}

func (m *memUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	for _, user := range m.users {
		if user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUserRepo) Create(ctx context.Context, user *models.User) error {
	m.nextID++
	user.ID = m.nextID
	clone := *user
	m.users[user.Username] = &clone
	return nil
}

func (m *memUserRepo) UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error {
	return nil
}

// memTokenStore keeps token rows in memory and doubles as its own
// transaction, which is enough to drive the refresh rotation path.
type memTokenStore struct {
	rows   map[string]*models.Token
	nextID int64
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{rows: make(map[string]*models.Token)}
}

func (m *memTokenStore) Save(ctx context.Context, value string, userID int64, kind models.TokenKind, expiresAt time.Time) (*models.Token, error) {
	if _, ok := m.rows[value]; ok {
		return nil, appErrors.ErrDuplicateToken
	}
	m.nextID++
	row := &models.Token{
		ID:        m.nextID,
		Value:     value,
		Kind:      kind,
		UserID:    userID,
		CreatedAt: time.Now().Add(time.Duration(m.nextID) * time.Millisecond),
		ExpiresAt: expiresAt,
	}
	m.rows[value] = row
	clone := *row
	return &clone, nil
}

func (m *memTokenStore) FindByToken(ctx context.Context, value string) (*models.Token, error) {
	if row, ok := m.rows[value]; ok {
		clone := *row
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memTokenStore) FindByTokenForUpdate(ctx context.Context, value string) (*models.Token, error) {
	return m.FindByToken(ctx, value)
}

func (m *memTokenStore) IsValid(ctx context.Context, value string, now time.Time) (bool, error) {
	row, ok := m.rows[value]
	return ok && row.IsValid(now), nil
}

func (m *memTokenStore) FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]models.Token, error) {
	var out []models.Token
	for _, row := range m.rows {
		if row.UserID == userID && row.IsValid(now) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memTokenStore) FindValidByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind, now time.Time) ([]models.Token, error) {
	var out []models.Token
	for _, row := range m.rows {
		if row.UserID == userID && row.Kind == kind && row.IsValid(now) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memTokenStore) CountValidByUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	rows, _ := m.FindValidByUser(ctx, userID, now)
	return len(rows), nil
}

func (m *memTokenStore) Revoke(ctx context.Context, value string) error {
	if row, ok := m.rows[value]; ok {
		row.Revoked = true
	}
	return nil
}

func (m *memTokenStore) ExpireAllByUser(ctx context.Context, userID int64) error {
	for _, row := range m.rows {
		if row.UserID == userID {
			row.Expired = true
		}
	}
	return nil
}

func (m *memTokenStore) ExpireAllByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind) error {
	for _, row := range m.rows {
		if row.UserID == userID && row.Kind == kind {
			row.Expired = true
		}
	}
	return nil
}

func (m *memTokenStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	var n int64
	for value, row := range m.rows {
		if row.Expired || !now.Before(row.ExpiresAt) {
			delete(m.rows, value)
			n++
		}
	}
	return n, nil
}

func (m *memTokenStore) DeleteAllByUser(ctx context.Context, userID int64) error {
	for value, row := range m.rows {
		if row.UserID == userID {
			delete(m.rows, value)
		}
	}
	return nil
}

func (m *memTokenStore) InTx(ctx context.Context, fn func(repository.TokenTx) error) error {
	return fn(m)
}

// newAuthRouter wires the real auth stack behind an in-memory store and
// exposes the same /api/auth routes the server registers.
func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()

	codec, err := service.NewJWTService(config.JWTConfig{
		Secret:            base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		Expiration:        time.Hour,
		RefreshExpiration: 24 * time.Hour,
	})
	require.NoError(t, err)

	store := newMemTokenStore()
	tokens := service.NewTokenService(store, zap.NewNop(), 0, 100)
	auth := service.NewAuthService(newMemUserRepo(), store, tokens, codec, nil, zap.NewNop())
	h := NewAuthHandler(auth, nil)

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.Authenticate(auth))
	group := api.Group("/auth")
	{
		group.POST("/register", h.Register)
		group.POST("/login", h.Login)
		group.POST("/refresh", h.Refresh)
		group.POST("/validate", h.Validate)
		group.POST("/logout", h.Logout)
		group.GET("/me", middleware.RequireAuth(), h.Profile)
	}
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func registerAlice(t *testing.T, r *gin.Engine) models.AuthResponse {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{
		Username:  "alice",
		Email:     "alice@example.com",
		Password:  "secret-pass",
		FirstName: "Alice",
		LastName:  "Smith",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res models.AuthResponse
	decodeData(t, rec, &res)
	return res
}

func TestAuthEndpointsRegisterLoginProfile(t *testing.T) {
	r := newAuthRouter(t)
	registered := registerAlice(t, r)
	assert.Equal(t, "Bearer", registered.TokenType)

	rec := doJSON(t, r, http.MethodPost, "/api/auth/login", "", models.LoginRequest{
		UsernameOrEmail: "alice@example.com",
		Password:        "secret-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session models.AuthResponse
	decodeData(t, rec, &session)
	assert.NotEmpty(t, session.AccessToken)

	rec = doJSON(t, r, http.MethodGet, "/api/auth/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile models.ProfileResponse
	decodeData(t, rec, &profile)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "ROLE_USER", profile.Role)

	// No token at all is turned away by the guard.
	rec = doJSON(t, r, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthEndpointsLoginFailure(t *testing.T) {
	r := newAuthRouter(t)
	registerAlice(t, r)

	rec := doJSON(t, r, http.MethodPost, "/api/auth/login", "", models.LoginRequest{
		UsernameOrEmail: "alice",
		Password:        "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "BAD_CREDENTIALS", envelope.Error.Code)
}

func TestAuthEndpointsValidateVerdicts(t *testing.T) {
	r := newAuthRouter(t)
	session := registerAlice(t, r)

	rec := doJSON(t, r, http.MethodPost, "/api/auth/validate", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict models.TokenValidationResponse
	decodeData(t, rec, &verdict)
	assert.True(t, verdict.Valid)

	// The endpoint always answers 200; the verdict is in the body.
	rec = doJSON(t, r, http.MethodPost, "/api/auth/validate", "not-a-jwt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &verdict)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "INVALID_TOKEN", verdict.Reason)

	rec = doJSON(t, r, http.MethodPost, "/api/auth/validate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &verdict)
	assert.False(t, verdict.Valid)
}

func TestAuthEndpointsRefreshRotation(t *testing.T) {
	r := newAuthRouter(t)
	session := registerAlice(t, r)

	rec := doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", models.RefreshRequest{
		RefreshToken: session.RefreshToken,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated models.AuthResponse
	decodeData(t, rec, &rotated)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	// The new access token works, the pre-rotation one does not.
	rec = doJSON(t, r, http.MethodGet, "/api/auth/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, r, http.MethodGet, "/api/auth/me", session.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A refresh token is single use.
	rec = doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", models.RefreshRequest{
		RefreshToken: session.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "REVOKED_TOKEN", envelope.Error.Code)
}

func TestAuthEndpointsRefreshViaBearerHeader(t *testing.T) {
	r := newAuthRouter(t)
	session := registerAlice(t, r)

	// The refresh token travels in the Authorization header, body empty.
	rec := doJSON(t, r, http.MethodPost, "/api/auth/refresh", session.RefreshToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated models.AuthResponse
	decodeData(t, rec, &rotated)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	rec = doJSON(t, r, http.MethodGet, "/api/auth/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without a token in either place the request is malformed.
	rec = doJSON(t, r, http.MethodPost, "/api/auth/refresh", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthEndpointsLogout(t *testing.T) {
	r := newAuthRouter(t)
	session := registerAlice(t, r)

	rec := doJSON(t, r, http.MethodPost, "/api/auth/logout", session.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/auth/me", session.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout without a token still answers 204.
	rec = doJSON(t, r, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
