package models

import "time"

// TokenKind distinguishes short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "ACCESS"
	TokenKindRefresh TokenKind = "REFRESH"
)

// Token represents one issued token persisted in the tokens table.
//
// A row is valid iff neither flag is set and the expiry timestamp has not
// elapsed. Expired marks soft invalidation (superseded by rotation or bulk
// revocation); Revoked marks explicit invalidation (logout, compromise).
type Token struct {
	ID        int64     `db:"id" json:"id"`
	Value     string    `db:"token" json:"token"`
	Kind      TokenKind `db:"kind" json:"kind"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Expired   bool      `db:"expired" json:"expired"`
	Revoked   bool      `db:"revoked" json:"revoked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// IsValid evaluates the validity invariant at the given instant.
func (t *Token) IsValid(now time.Time) bool {
	return !t.Expired && !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenPair bundles the two tokens issued for a session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
