package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/models"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

type customerRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Customer, error)
	Create(ctx context.Context, customer *models.Customer) error
	Update(ctx context.Context, customer *models.Customer) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter models.CustomerFilter) ([]models.Customer, int, error)
}

// statisticsInvalidator drops cached dashboard figures after a mutation.
type statisticsInvalidator interface {
	Invalidate(ctx context.Context)
}

// CustomerService manages customer records and their path through the
// sales pipeline.
type CustomerService struct {
	customers customerRepository
	stats     statisticsInvalidator
	logger    *zap.Logger

	now func() time.Time
}

func NewCustomerService(customers customerRepository, stats statisticsInvalidator, logger *zap.Logger) *CustomerService {
	return &CustomerService{
		customers: customers,
		stats:     stats,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *CustomerService) Get(ctx context.Context, id int64) (*models.Customer, error) {
	customer, err := s.customers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "customer not found")
		}
		return nil, err
	}
	return customer, nil
}

func (s *CustomerService) List(ctx context.Context, filter models.CustomerFilter) ([]models.Customer, int, error) {
	return s.customers.List(ctx, filter)
}

// Create stores a new customer. Missing pipeline fields get their stage
// defaults: status NEW, the stage's win probability and the pipeline entry
// timestamp.
func (s *CustomerService) Create(ctx context.Context, customer *models.Customer, createdBy int64) (*models.Customer, error) {
	now := s.now().UTC()
	if customer.Status == "" {
		customer.Status = models.CustomerStatusNew
	}
	if customer.Priority == "" {
		customer.Priority = models.PriorityMedium
	}
	if customer.Probability == 0 {
		customer.Probability = customer.Status.DefaultProbability()
	}
	if customer.PipelineEntryDate == nil && isPipelineStage(customer.Status) {
		customer.PipelineEntryDate = &now
	}
	customer.CreatedByID = &createdBy
	customer.CreatedAt = now
	customer.UpdatedAt = now

	if err := s.customers.Create(ctx, customer); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.logger.Info("customer created",
		zap.Int64("customer_id", customer.ID),
		zap.String("status", string(customer.Status)))
	return customer, nil
}

// Update replaces the mutable fields of an existing customer. A status
// change re-applies the stage defaults.
func (s *CustomerService) Update(ctx context.Context, customer *models.Customer) (*models.Customer, error) {
	current, err := s.Get(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	if customer.Status != current.Status {
		s.applyStageChange(customer, current)
	}
	customer.CreatedByID = current.CreatedByID
	customer.CreatedAt = current.CreatedAt
	customer.UpdatedAt = s.now().UTC()

	if err := s.customers.Update(ctx, customer); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	return customer, nil
}

// UpdateStatus moves the customer to another pipeline stage.
func (s *CustomerService) UpdateStatus(ctx context.Context, id int64, status models.CustomerStatus) (*models.Customer, error) {
	customer, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer.Status == status {
		return customer, nil
	}

	previous := *customer
	customer.Status = status
	s.applyStageChange(customer, &previous)
	customer.UpdatedAt = s.now().UTC()

	if err := s.customers.Update(ctx, customer); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	s.logger.Info("customer stage changed",
		zap.Int64("customer_id", id),
		zap.String("from", string(previous.Status)),
		zap.String("to", string(status)))
	return customer, nil
}

func (s *CustomerService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.customers.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx)
	s.logger.Info("customer deleted", zap.Int64("customer_id", id))
	return nil
}

// applyStageChange adjusts the derived pipeline fields when the stage
// moves: the win probability follows the new stage and the entry timestamp
// is set the first time a customer enters the pipeline.
func (s *CustomerService) applyStageChange(customer *models.Customer, previous *models.Customer) {
	customer.Probability = customer.Status.DefaultProbability()
	if customer.PipelineEntryDate == nil && isPipelineStage(customer.Status) && !isPipelineStage(previous.Status) {
		now := s.now().UTC()
		customer.PipelineEntryDate = &now
	}
}

func isPipelineStage(status models.CustomerStatus) bool {
	switch status {
	case models.CustomerStatusNew, models.CustomerStatusContacted,
		models.CustomerStatusOfferCreated, models.CustomerStatusWon, models.CustomerStatusLost:
		return true
	}
	return false
}

func (s *CustomerService) invalidateStats(ctx context.Context) {
	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
}
