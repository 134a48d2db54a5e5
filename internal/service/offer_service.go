package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pierix/crm-api/internal/models"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

type offerRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Offer, error)
	NextOfferSequence(ctx context.Context) (int64, error)
	Create(ctx context.Context, offer *models.Offer) error
	Update(ctx context.Context, offer *models.Offer) error
	UpdateStatus(ctx context.Context, id int64, status models.OfferStatus, sentAt, paidAt *time.Time) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter models.OfferFilter) ([]models.Offer, int, error)
}

type offerCustomerRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Customer, error)
	Update(ctx context.Context, customer *models.Customer) error
}

// OfferService manages offers, their computed amounts and the
// DRAFT -> SENT -> PAID / OVERDUE lifecycle.
type OfferService struct {
	offers    offerRepository
	customers offerCustomerRepository
	stats     statisticsInvalidator
	logger    *zap.Logger

	now func() time.Time
}

func NewOfferService(offers offerRepository, customers offerCustomerRepository, stats statisticsInvalidator, logger *zap.Logger) *OfferService {
	return &OfferService{
		offers:    offers,
		customers: customers,
		stats:     stats,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *OfferService) Get(ctx context.Context, id int64) (*models.Offer, error) {
	offer, err := s.offers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offer not found")
		}
		return nil, err
	}
	return offer, nil
}

func (s *OfferService) List(ctx context.Context, filter models.OfferFilter) ([]models.Offer, int, error) {
	return s.offers.List(ctx, filter)
}

// Create stores a new draft offer. Amounts are computed from the line
// items, the offer number is drawn from the yearly sequence and the
// customer is pulled forward to the OFFER_CREATED stage when still early
// in the pipeline.
func (s *OfferService) Create(ctx context.Context, offer *models.Offer, createdBy int64) (*models.Offer, error) {
	customer, err := s.customers.FindByID(ctx, offer.CustomerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "customer not found")
		}
		return nil, err
	}
	if len(offer.Items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "offer requires at least one item")
	}

	seq, err := s.offers.NextOfferSequence(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	offer.OfferNumber = fmt.Sprintf("AN-%d-%04d", now.Year(), seq)
	offer.Status = models.OfferStatusDraft
	offer.CreatedByID = &createdBy
	offer.CreatedAt = now
	offer.UpdatedAt = now
	s.computeAmounts(offer)

	if err := s.offers.Create(ctx, offer); err != nil {
		return nil, err
	}

	s.advanceCustomer(ctx, customer)
	s.invalidateStats(ctx)
	s.logger.Info("offer created",
		zap.Int64("offer_id", offer.ID),
		zap.String("offer_number", offer.OfferNumber),
		zap.Int64("customer_id", offer.CustomerID))
	return offer, nil
}

// Update replaces the offer's content. Only drafts are editable; a sent
// offer is a commercial document and must not change under the customer.
func (s *OfferService) Update(ctx context.Context, offer *models.Offer) (*models.Offer, error) {
	current, err := s.Get(ctx, offer.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.OfferStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only draft offers can be edited")
	}
	if len(offer.Items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "offer requires at least one item")
	}

	offer.OfferNumber = current.OfferNumber
	offer.Status = current.Status
	offer.CustomerID = current.CustomerID
	offer.CreatedByID = current.CreatedByID
	offer.CreatedAt = current.CreatedAt
	offer.UpdatedAt = s.now().UTC()
	s.computeAmounts(offer)

	if err := s.offers.Update(ctx, offer); err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	return offer, nil
}

// MarkSent transitions DRAFT -> SENT and stamps the send time.
func (s *OfferService) MarkSent(ctx context.Context, id int64) (*models.Offer, error) {
	return s.transition(ctx, id, models.OfferStatusSent, models.OfferStatusDraft)
}

// MarkPaid transitions SENT or OVERDUE -> PAID and stamps the payment time.
func (s *OfferService) MarkPaid(ctx context.Context, id int64) (*models.Offer, error) {
	return s.transition(ctx, id, models.OfferStatusPaid, models.OfferStatusSent, models.OfferStatusOverdue)
}

// MarkOverdue transitions SENT -> OVERDUE.
func (s *OfferService) MarkOverdue(ctx context.Context, id int64) (*models.Offer, error) {
	return s.transition(ctx, id, models.OfferStatusOverdue, models.OfferStatusSent)
}

func (s *OfferService) transition(ctx context.Context, id int64, to models.OfferStatus, from ...models.OfferStatus) (*models.Offer, error) {
	offer, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, f := range from {
		if offer.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("offer in status %s cannot move to %s", offer.Status, to))
	}

	now := s.now().UTC()
	sentAt, paidAt := offer.SentAt, offer.PaidAt
	switch to {
	case models.OfferStatusSent:
		sentAt = &now
	case models.OfferStatusPaid:
		paidAt = &now
	}

	if err := s.offers.UpdateStatus(ctx, id, to, sentAt, paidAt); err != nil {
		return nil, err
	}

	offer.Status = to
	offer.SentAt = sentAt
	offer.PaidAt = paidAt
	offer.UpdatedAt = now

	s.invalidateStats(ctx)
	s.logger.Info("offer status changed",
		zap.Int64("offer_id", id),
		zap.String("status", string(to)))
	return offer, nil
}

// Delete removes a draft offer. Sent and paid offers stay on record.
func (s *OfferService) Delete(ctx context.Context, id int64) error {
	offer, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if offer.Status != models.OfferStatusDraft {
		return appErrors.Clone(appErrors.ErrConflict, "only draft offers can be deleted")
	}
	if err := s.offers.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx)
	return nil
}

// computeAmounts derives item and offer totals from quantities, unit
// prices, tax rates and the discount percentage. All amounts are rounded
// to cents.
func (s *OfferService) computeAmounts(offer *models.Offer) {
	var net, tax float64
	for i := range offer.Items {
		item := &offer.Items[i]
		item.NetAmount = round2(float64(item.Quantity) * item.UnitPrice)
		item.TaxAmount = round2(item.NetAmount * item.TaxRate / 100)
		item.GrossAmount = round2(item.NetAmount + item.TaxAmount)
		net += item.NetAmount
		tax += item.TaxAmount
	}

	offer.NetAmount = round2(net)
	offer.TaxAmount = round2(tax)
	offer.GrossAmount = round2(net + tax)
	offer.DiscountAmount = round2(offer.GrossAmount * offer.DiscountPercentage / 100)
	offer.FinalAmount = round2(offer.GrossAmount - offer.DiscountAmount)
}

// advanceCustomer pulls an early-stage customer forward once an offer
// exists for them. Failures are logged, not surfaced: the offer itself is
// already stored.
func (s *OfferService) advanceCustomer(ctx context.Context, customer *models.Customer) {
	if customer.Status != models.CustomerStatusNew && customer.Status != models.CustomerStatusContacted {
		return
	}
	customer.Status = models.CustomerStatusOfferCreated
	customer.Probability = customer.Status.DefaultProbability()
	customer.UpdatedAt = s.now().UTC()
	if err := s.customers.Update(ctx, customer); err != nil {
		s.logger.Warn("failed to advance customer stage",
			zap.Int64("customer_id", customer.ID),
			zap.Error(err))
	}
}

func (s *OfferService) invalidateStats(ctx context.Context) {
	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
