package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/pkg/config"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

const statisticsCacheKey = "crm:statistics:overview"

type statisticsRepository interface {
	Collect(ctx context.Context) (*models.StatisticsResponse, error)
}

type statisticsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// StatisticsService serves the dashboard figures with a cache in front of
// the aggregate queries. The cache is advisory: any cache failure falls
// back to the database.
type StatisticsService struct {
	stats  statisticsRepository
	cache  statisticsCache
	cfg    config.StatisticsConfig
	logger *zap.Logger
}

func NewStatisticsService(stats statisticsRepository, cache statisticsCache, cfg config.StatisticsConfig, logger *zap.Logger) *StatisticsService {
	return &StatisticsService{
		stats:  stats,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

// Overview returns the CRM-wide aggregates, cached for the configured TTL.
func (s *StatisticsService) Overview(ctx context.Context) (*models.StatisticsResponse, error) {
	if s.cacheActive() {
		var cached models.StatisticsResponse
		err := s.cache.Get(ctx, statisticsCacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("statistics cache read failed", zap.Error(err))
		}
	}

	stats, err := s.stats.Collect(ctx)
	if err != nil {
		return nil, err
	}

	if s.cacheActive() {
		if err := s.cache.Set(ctx, statisticsCacheKey, stats, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("statistics cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

// Invalidate drops the cached aggregates after a customer or offer
// mutation so the next read recomputes them.
func (s *StatisticsService) Invalidate(ctx context.Context) {
	if !s.cacheActive() {
		return
	}
	if err := s.cache.Delete(ctx, statisticsCacheKey); err != nil {
		s.logger.Warn("statistics cache invalidation failed", zap.Error(err))
	}
}

func (s *StatisticsService) cacheActive() bool {
	return s.cfg.CacheEnabled && s.cache != nil
}
