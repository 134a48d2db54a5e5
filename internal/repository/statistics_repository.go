package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pierix/crm-api/internal/models"
)

// StatisticsRepository aggregates CRM figures straight from the database.
type StatisticsRepository struct {
	db *sqlx.DB
}

// NewStatisticsRepository creates a new instance of StatisticsRepository.
func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

type countRow struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

type sumRow struct {
	Key string  `db:"key"`
	Sum float64 `db:"sum"`
}

// Collect gathers all aggregates used by the statistics endpoint.
func (r *StatisticsRepository) Collect(ctx context.Context) (*models.StatisticsResponse, error) {
	stats := &models.StatisticsResponse{
		CustomersByStatus:   map[string]int{},
		CustomersByPriority: map[string]int{},
		CustomersBySource:   map[string]int{},
		OffersByStatus:      map[string]int{},
		MonthlyRevenue:      map[string]float64{},
	}

	if err := r.db.GetContext(ctx, &stats.TotalCustomers, `SELECT COUNT(*) FROM customers`); err != nil {
		return nil, fmt.Errorf("count customers: %w", err)
	}
	if err := r.db.GetContext(ctx, &stats.TotalOffers, `SELECT COUNT(*) FROM offers`); err != nil {
		return nil, fmt.Errorf("count offers: %w", err)
	}

	if err := r.groupCount(ctx, `SELECT status AS key, COUNT(*) AS count FROM customers GROUP BY status`, stats.CustomersByStatus); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, `SELECT priority AS key, COUNT(*) AS count FROM customers GROUP BY priority`, stats.CustomersByPriority); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, `SELECT lead_source AS key, COUNT(*) AS count FROM customers GROUP BY lead_source`, stats.CustomersBySource); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, `SELECT status AS key, COUNT(*) AS count FROM offers GROUP BY status`, stats.OffersByStatus); err != nil {
		return nil, err
	}

	const pipelineQuery = `SELECT
		COALESCE(SUM(estimated_value), 0) AS pipeline,
		COALESCE(SUM(estimated_value * probability / 100.0), 0) AS weighted
	FROM customers
	WHERE status IN ('NEW', 'CONTACTED', 'OFFER_CREATED') AND estimated_value IS NOT NULL`
	var pipeline struct {
		Pipeline float64 `db:"pipeline"`
		Weighted float64 `db:"weighted"`
	}
	if err := r.db.GetContext(ctx, &pipeline, pipelineQuery); err != nil {
		return nil, fmt.Errorf("pipeline value: %w", err)
	}
	stats.PipelineValue = pipeline.Pipeline
	stats.WeightedPipeline = pipeline.Weighted

	if err := r.db.GetContext(ctx, &stats.OfferVolume, `SELECT COALESCE(SUM(final_amount), 0) FROM offers`); err != nil {
		return nil, fmt.Errorf("offer volume: %w", err)
	}
	if err := r.db.GetContext(ctx, &stats.PaidVolume, `SELECT COALESCE(SUM(final_amount), 0) FROM offers WHERE status = 'PAID'`); err != nil {
		return nil, fmt.Errorf("paid volume: %w", err)
	}

	const revenueQuery = `SELECT to_char(paid_at, 'YYYY-MM') AS key, COALESCE(SUM(final_amount), 0) AS sum
		FROM offers WHERE status = 'PAID' AND paid_at IS NOT NULL
		GROUP BY 1 ORDER BY 1`
	var revenue []sumRow
	if err := r.db.SelectContext(ctx, &revenue, revenueQuery); err != nil {
		return nil, fmt.Errorf("monthly revenue: %w", err)
	}
	for _, row := range revenue {
		stats.MonthlyRevenue[row.Key] = row.Sum
	}

	return stats, nil
}

func (r *StatisticsRepository) groupCount(ctx context.Context, query string, dest map[string]int) error {
	var rows []countRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return fmt.Errorf("group count: %w", err)
	}
	for _, row := range rows {
		dest[row.Key] = row.Count
	}
	return nil
}
