package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	token, expiresAt, err := signer.Sign("job-1", "offers/AN-2026-0001.pdf")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	jobID, relPath, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, "offers/AN-2026-0001.pdf", relPath)
}

func TestSignerRejectsTamperedToken(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	token, _, err := signer.Sign("job-1", "offers/a.pdf")
	require.NoError(t, err)

	// Swap the embedded path for another file without re-signing.
	forged, _, err := signer.Sign("job-1", "offers/b.pdf")
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")
	parts[2] = forgedParts[2]

	_, _, err = signer.Verify(strings.Join(parts, "."))
	assert.ErrorContains(t, err, "signature")
}

func TestSignerRejectsForeignSecret(t *testing.T) {
	token, _, err := NewSigner("secret-a", time.Hour).Sign("job-1", "offers/a.pdf")
	require.NoError(t, err)

	_, _, err = NewSigner("secret-b", time.Hour).Verify(token)
	assert.ErrorContains(t, err, "signature")
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	signer := &Signer{secret: []byte("test-secret"), ttl: -time.Minute}

	token, _, err := signer.Sign("job-1", "offers/a.pdf")
	require.NoError(t, err)

	_, _, err = signer.Verify(token)
	assert.ErrorContains(t, err, "expired")
}

func TestSignerRejectsMalformedToken(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	for _, token := range []string{"", "abc", "a.b.c", "a.b.c.d.e"} {
		_, _, err := signer.Verify(token)
		assert.Error(t, err, token)
	}
}
