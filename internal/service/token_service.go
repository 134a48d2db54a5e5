package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/internal/repository"
)

// tokenStore is the persistence surface the token service drives.
type tokenStore interface {
	Save(ctx context.Context, value string, userID int64, kind models.TokenKind, expiresAt time.Time) (*models.Token, error)
	FindByToken(ctx context.Context, value string) (*models.Token, error)
	IsValid(ctx context.Context, value string, now time.Time) (bool, error)
	FindValidByUser(ctx context.Context, userID int64, now time.Time) ([]models.Token, error)
	FindValidByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind, now time.Time) ([]models.Token, error)
	CountValidByUser(ctx context.Context, userID int64, now time.Time) (int, error)
	Revoke(ctx context.Context, value string) error
	ExpireAllByUser(ctx context.Context, userID int64) error
	ExpireAllByUserAndKind(ctx context.Context, userID int64, kind models.TokenKind) error
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
	DeleteAllByUser(ctx context.Context, userID int64) error
	InTx(ctx context.Context, fn func(repository.TokenTx) error) error
}

// TokenService manages the lifecycle of persisted tokens: recording newly
// issued ones, answering validity questions, capping concurrent sessions
// and pruning rows that can no longer pass validation.
type TokenService struct {
	store   tokenStore
	logger  *zap.Logger
	metrics *MetricsService

	maxSessions    int
	pruneBatchSize int

	now func() time.Time
}

func NewTokenService(store tokenStore, logger *zap.Logger, maxSessions, pruneBatchSize int) *TokenService {
	if pruneBatchSize <= 0 {
		pruneBatchSize = 500
	}
	return &TokenService{
		store:          store,
		logger:         logger,
		maxSessions:    maxSessions,
		pruneBatchSize: pruneBatchSize,
		now:            time.Now,
	}
}

// SetMetrics attaches the revocation counters. Without it the service
// runs unmeasured.
func (s *TokenService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// Persist records a freshly signed token so it participates in server-side
// validity checks from this point on.
func (s *TokenService) Persist(ctx context.Context, value string, userID int64, kind models.TokenKind, expiresAt time.Time) (*models.Token, error) {
	return s.store.Save(ctx, value, userID, kind, expiresAt)
}

// IsValid reports whether the stored row for value is still usable:
// present, not expired, not revoked and inside its expiry window.
// An unknown token is simply invalid, not an error.
func (s *TokenService) IsValid(ctx context.Context, value string) (bool, error) {
	return s.store.IsValid(ctx, value, s.now())
}

// Find returns the stored row for value, or ErrNotFound.
func (s *TokenService) Find(ctx context.Context, value string) (*models.Token, error) {
	return s.store.FindByToken(ctx, value)
}

// ActiveSessions lists the owner's currently valid tokens, oldest first.
func (s *TokenService) ActiveSessions(ctx context.Context, userID int64) ([]models.Token, error) {
	return s.store.FindValidByUser(ctx, userID, s.now())
}

// CountActiveSessions counts the owner's currently valid tokens.
func (s *TokenService) CountActiveSessions(ctx context.Context, userID int64) (int, error) {
	return s.store.CountValidByUser(ctx, userID, s.now())
}

// EnforceSessionLimit makes room for one more token. When the owner's
// valid-token count has reached the ceiling it revokes the oldest valid
// tokens, by creation time, until one slot is free. A ceiling of zero or
// below disables the limit.
func (s *TokenService) EnforceSessionLimit(ctx context.Context, userID int64) error {
	if s.maxSessions <= 0 {
		return nil
	}

	now := s.now()
	count, err := s.store.CountValidByUser(ctx, userID, now)
	if err != nil {
		return err
	}
	if count < s.maxSessions {
		return nil
	}

	tokens, err := s.store.FindValidByUser(ctx, userID, now)
	if err != nil {
		return err
	}

	evict := count - s.maxSessions + 1
	if evict > len(tokens) {
		evict = len(tokens)
	}
	for _, t := range tokens[:evict] {
		if err := s.store.Revoke(ctx, t.Value); err != nil {
			return err
		}
	}
	s.metrics.RecordRevocations(evict)

	s.logger.Info("session limit enforced",
		zap.Int64("user_id", userID),
		zap.Int("revoked", evict),
		zap.Int("max_sessions", s.maxSessions))
	return nil
}

// RevokeAll marks every token of the owner unusable. Used on logout and
// when the account is disabled, deleted or its password changes.
func (s *TokenService) RevokeAll(ctx context.Context, userID int64) error {
	count, err := s.store.CountValidByUser(ctx, userID, s.now())
	if err != nil {
		return err
	}
	if err := s.store.ExpireAllByUser(ctx, userID); err != nil {
		return err
	}
	s.metrics.RecordRevocations(count)
	return nil
}

// PruneExpired deletes rows whose expiry window has passed, in bounded
// batches so a large backlog never holds one long-running statement.
// It returns the total number of rows removed.
func (s *TokenService) PruneExpired(ctx context.Context) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := s.store.DeleteExpired(ctx, s.now(), s.pruneBatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.pruneBatchSize) {
			break
		}
	}

	if total > 0 {
		s.logger.Info("pruned expired tokens", zap.Int64("deleted", total))
	}
	return total, nil
}

// DeleteAllForUser removes every token row of the owner outright.
func (s *TokenService) DeleteAllForUser(ctx context.Context, userID int64) error {
	return s.store.DeleteAllByUser(ctx, userID)
}
