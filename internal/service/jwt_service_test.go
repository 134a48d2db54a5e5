package service

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/pkg/config"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

func testJWTConfig(accessTTL, refreshTTL time.Duration) config.JWTConfig {
	return config.JWTConfig{
		Secret:            base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
		Expiration:        accessTTL,
		RefreshExpiration: refreshTTL,
	}
}

func TestJWTServiceRoundTrip(t *testing.T) {
	svc, err := NewJWTService(testJWTConfig(time.Hour, 24*time.Hour))
	require.NoError(t, err)

	user := &models.User{ID: 1, Username: "alice"}
	token, expiresAt, err := svc.GenerateAccessToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username())
	assert.False(t, svc.IsExpired(claims))
}

func TestJWTServiceRejectsBadSecret(t *testing.T) {
	_, err := NewJWTService(config.JWTConfig{Secret: "not-base64!!!"})
	require.Error(t, err)

	_, err = NewJWTService(config.JWTConfig{})
	require.Error(t, err)
}

func TestJWTServiceRejectsTamperedToken(t *testing.T) {
	svc, err := NewJWTService(testJWTConfig(time.Hour, 24*time.Hour))
	require.NoError(t, err)

	token, _, err := svc.GenerateAccessToken(&models.User{Username: "alice"})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = svc.Decode(tampered)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestJWTServiceRejectsForeignKey(t *testing.T) {
	svc, err := NewJWTService(testJWTConfig(time.Hour, 24*time.Hour))
	require.NoError(t, err)

	otherCfg := testJWTConfig(time.Hour, 24*time.Hour)
	otherCfg.Secret = base64.StdEncoding.EncodeToString([]byte("anothersecretanothersecretanothe"))
	other, err := NewJWTService(otherCfg)
	require.NoError(t, err)

	token, _, err := other.GenerateAccessToken(&models.User{Username: "alice"})
	require.NoError(t, err)

	_, err = svc.Decode(token)
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

// Claims of an expired token must remain readable: logout extracts the
// subject from tokens that are already past their expiry.
func TestJWTServiceDecodeReadsExpiredClaims(t *testing.T) {
	svc, err := NewJWTService(testJWTConfig(-time.Minute, -time.Minute))
	require.NoError(t, err)

	token, _, err := svc.GenerateAccessToken(&models.User{Username: "alice"})
	require.NoError(t, err)

	claims, err := svc.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username())
	assert.True(t, svc.IsExpired(claims))
}
