package models

// StatisticsResponse aggregates CRM-wide figures for the dashboard.
type StatisticsResponse struct {
	TotalCustomers      int                `json:"total_customers"`
	CustomersByStatus   map[string]int     `json:"customers_by_status"`
	CustomersByPriority map[string]int     `json:"customers_by_priority"`
	CustomersBySource   map[string]int     `json:"customers_by_source"`
	PipelineValue       float64            `json:"pipeline_value"`
	WeightedPipeline    float64            `json:"weighted_pipeline"`
	TotalOffers         int                `json:"total_offers"`
	OffersByStatus      map[string]int     `json:"offers_by_status"`
	OfferVolume         float64            `json:"offer_volume"`
	PaidVolume          float64            `json:"paid_volume"`
	MonthlyRevenue      map[string]float64 `json:"monthly_revenue"`
}
