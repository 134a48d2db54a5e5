package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pierix/crm-api/internal/models"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

const tokenColumns = `id, token, kind, user_id, expired, revoked, created_at, expires_at`

const pqUniqueViolation = "23505"

// TokenRepository provides database access for issued tokens.
//
// All methods run against the bound queryer, which is either the pooled
// connection or an open transaction obtained through InTx. Mutations that
// must be consistent with a preceding read (refresh rotation, session limit
// enforcement) are expected to run inside a transaction.
type TokenRepository struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db, q: db}
}

// TokenTx is the slice of the repository usable inside one transaction.
type TokenTx interface {
	Save(ctx context.Context, value string, userID int64, kind models.TokenKind, expiresAt time.Time) (*models.Token, error)
	FindByToken(ctx context.Context, value string) (*models.Token, error)
	FindByTokenForUpdate(ctx context.Context, value string) (*models.Token, error)
	IsValid(ctx context.Context, value string, now time.Time) (bool, error)
	FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]models.Token, error)
	FindValidByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind, now time.Time) ([]models.Token, error)
	CountValidByUser(ctx context.Context, userID int64, now time.Time) (int, error)
	Revoke(ctx context.Context, value string) error
	ExpireAllByUser(ctx context.Context, userID int64) error
	ExpireAllByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind) error
}

// InTx runs fn with a repository bound to a single transaction. A nested
// call reuses the surrounding transaction.
func (r *TokenRepository) InTx(ctx context.Context, fn func(TokenTx) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin token tx: %w", err)
	}

	if err := fn(&TokenRepository{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit token tx: %w", err)
	}
	return nil
}

// Save inserts a new token row with both invalidation flags cleared.
func (r *TokenRepository) Save(ctx context.Context, value string, userID int64, kind models.TokenKind, expiresAt time.Time) (*models.Token, error) {
	const query = `INSERT INTO tokens (token, kind, user_id, expired, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, FALSE, FALSE, $4, $5)
		RETURNING ` + tokenColumns

	var token models.Token
	err := sqlx.GetContext(ctx, r.q, &token, query, value, kind, userID, time.Now().UTC(), expiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, appErrors.ErrDuplicateToken
		}
		return nil, fmt.Errorf("save token: %w", err)
	}
	return &token, nil
}

// FindByToken returns a token row by its unique value.
func (r *TokenRepository) FindByToken(ctx context.Context, value string) (*models.Token, error) {
	const query = `SELECT ` + tokenColumns + ` FROM tokens WHERE token = $1 LIMIT 1`
	var token models.Token
	if err := sqlx.GetContext(ctx, r.q, &token, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return &token, nil
}

// FindByTokenForUpdate locks the token row for the duration of the
// surrounding transaction. Used by refresh rotation to serialize concurrent
// refreshes of the same token.
func (r *TokenRepository) FindByTokenForUpdate(ctx context.Context, value string) (*models.Token, error) {
	const query = `SELECT ` + tokenColumns + ` FROM tokens WHERE token = $1 FOR UPDATE`
	var token models.Token
	if err := sqlx.GetContext(ctx, r.q, &token, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find token for update: %w", err)
	}
	return &token, nil
}

// IsValid reports whether a stored token satisfies the validity invariant.
// Absent rows are invalid, not an error.
func (r *TokenRepository) IsValid(ctx context.Context, value string, now time.Time) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM tokens
		WHERE token = $1 AND expired = FALSE AND revoked = FALSE AND expires_at > $2)`
	var valid bool
	if err := sqlx.GetContext(ctx, r.q, &valid, query, value, now); err != nil {
		return false, fmt.Errorf("check token validity: %w", err)
	}
	return valid, nil
}

// FindValidByUser returns all currently valid tokens of a user, oldest
// first. Ordering ties on created_at are broken by insertion id.
func (r *TokenRepository) FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]models.Token, error) {
	const query = `SELECT ` + tokenColumns + ` FROM tokens
		WHERE user_id = $1 AND expired = FALSE AND revoked = FALSE AND expires_at > $2
		ORDER BY created_at ASC, id ASC`
	var tokens []models.Token
	if err := sqlx.SelectContext(ctx, r.q, &tokens, query, userID, now); err != nil {
		return nil, fmt.Errorf("find valid tokens: %w", err)
	}
	return tokens, nil
}

// FindValidByUserAndKind is FindValidByUser scoped to one token kind.
func (r *TokenRepository) FindValidByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind, now time.Time) ([]models.Token, error) {
	const query = `SELECT ` + tokenColumns + ` FROM tokens
		WHERE user_id = $1 AND kind = $2 AND expired = FALSE AND revoked = FALSE AND expires_at > $3
		ORDER BY created_at ASC, id ASC`
	var tokens []models.Token
	if err := sqlx.SelectContext(ctx, r.q, &tokens, query, userID, kind, now); err != nil {
		return nil, fmt.Errorf("find valid tokens by kind: %w", err)
	}
	return tokens, nil
}

// CountValidByUser counts the currently valid tokens of a user.
func (r *TokenRepository) CountValidByUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM tokens
		WHERE user_id = $1 AND expired = FALSE AND revoked = FALSE AND expires_at > $2`
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count, query, userID, now); err != nil {
		return 0, fmt.Errorf("count valid tokens: %w", err)
	}
	return count, nil
}

// Revoke marks a single token as revoked. Revoking an absent or already
// revoked token is a no-op.
func (r *TokenRepository) Revoke(ctx context.Context, value string) error {
	const query = `UPDATE tokens SET revoked = TRUE WHERE token = $1`
	if _, err := r.q.ExecContext(ctx, query, value); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// ExpireAllByUser flags every token of a user as expired. Bulk invalidation
// uses the expired flag; the validity invariant treats both flags alike.
func (r *TokenRepository) ExpireAllByUser(ctx context.Context, userID int64) error {
	const query = `UPDATE tokens SET expired = TRUE WHERE user_id = $1 AND expired = FALSE`
	if _, err := r.q.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("expire user tokens: %w", err)
	}
	return nil
}

// ExpireAllByUserAndKind flags all tokens of one kind as expired.
func (r *TokenRepository) ExpireAllByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind) error {
	const query = `UPDATE tokens SET expired = TRUE WHERE user_id = $1 AND kind = $2 AND expired = FALSE`
	if _, err := r.q.ExecContext(ctx, query, userID, kind); err != nil {
		return fmt.Errorf("expire user tokens by kind: %w", err)
	}
	return nil
}

// DeleteExpired removes up to limit rows that are past their expiry or
// carry the expired flag, and returns the number of rows deleted. The
// bounded batch keeps the sweep from holding long lock windows on the
// token table.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	const query = `DELETE FROM tokens WHERE id IN (
		SELECT id FROM tokens WHERE expired = TRUE OR expires_at < $1 ORDER BY id ASC LIMIT $2)`
	res, err := r.q.ExecContext(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return deleted, nil
}

// DeleteAllByUser hard-deletes every token of a user (account removal).
func (r *TokenRepository) DeleteAllByUser(ctx context.Context, userID int64) error {
	const query = `DELETE FROM tokens WHERE user_id = $1`
	if _, err := r.q.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete user tokens: %w", err)
	}
	return nil
}
