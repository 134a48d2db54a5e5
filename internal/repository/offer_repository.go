package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pierix/crm-api/internal/models"
)

const offerColumns = `id, offer_number, title, description, valid_until, status,
	net_amount, tax_amount, gross_amount, discount_percentage, discount_amount, final_amount,
	customer_id, created_by, sent_at, paid_at, created_at, updated_at`

const offerItemColumns = `id, offer_id, description, quantity, unit_price, tax_rate, net_amount, tax_amount, gross_amount`

// OfferRepository provides database access for offers and their items.
type OfferRepository struct {
	db *sqlx.DB
}

// NewOfferRepository creates a new instance of OfferRepository.
func NewOfferRepository(db *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

// FindByID returns an offer with its items.
func (r *OfferRepository) FindByID(ctx context.Context, id int64) (*models.Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 LIMIT 1`
	var offer models.Offer
	if err := r.db.GetContext(ctx, &offer, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find offer by id: %w", err)
	}

	items, err := r.findItems(ctx, id)
	if err != nil {
		return nil, err
	}
	offer.Items = items
	return &offer, nil
}

// NextOfferSequence returns the next value of the offer number sequence.
func (r *OfferRepository) NextOfferSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT nextval('offer_number_seq')`); err != nil {
		return 0, fmt.Errorf("next offer sequence: %w", err)
	}
	return seq, nil
}

// Create inserts an offer together with its items in one transaction.
func (r *OfferRepository) Create(ctx context.Context, offer *models.Offer) error {
	now := time.Now().UTC()
	offer.CreatedAt = now
	offer.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin offer tx: %w", err)
	}

	const query = `INSERT INTO offers (
		offer_number, title, description, valid_until, status,
		net_amount, tax_amount, gross_amount, discount_percentage, discount_amount, final_amount,
		customer_id, created_by, sent_at, paid_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	RETURNING id`

	if err := tx.GetContext(ctx, &offer.ID, query,
		offer.OfferNumber, offer.Title, offer.Description, offer.ValidUntil, offer.Status,
		offer.NetAmount, offer.TaxAmount, offer.GrossAmount, offer.DiscountPercentage, offer.DiscountAmount, offer.FinalAmount,
		offer.CustomerID, offer.CreatedByID, offer.SentAt, offer.PaidAt, offer.CreatedAt, offer.UpdatedAt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create offer: %w", err)
	}

	if err := r.insertItems(ctx, tx, offer.ID, offer.Items); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit offer tx: %w", err)
	}
	return nil
}

// Update rewrites the offer and replaces its items.
func (r *OfferRepository) Update(ctx context.Context, offer *models.Offer) error {
	offer.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin offer tx: %w", err)
	}

	const query = `UPDATE offers SET
		title = $2, description = $3, valid_until = $4, status = $5,
		net_amount = $6, tax_amount = $7, gross_amount = $8,
		discount_percentage = $9, discount_amount = $10, final_amount = $11,
		sent_at = $12, paid_at = $13, updated_at = $14
	WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query,
		offer.ID, offer.Title, offer.Description, offer.ValidUntil, offer.Status,
		offer.NetAmount, offer.TaxAmount, offer.GrossAmount,
		offer.DiscountPercentage, offer.DiscountAmount, offer.FinalAmount,
		offer.SentAt, offer.PaidAt, offer.UpdatedAt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update offer: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM offer_items WHERE offer_id = $1`, offer.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear offer items: %w", err)
	}

	if err := r.insertItems(ctx, tx, offer.ID, offer.Items); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit offer tx: %w", err)
	}
	return nil
}

// UpdateStatus stamps a status transition.
func (r *OfferRepository) UpdateStatus(ctx context.Context, id int64, status models.OfferStatus, sentAt, paidAt *time.Time) error {
	const query = `UPDATE offers SET status = $2, sent_at = COALESCE($3, sent_at), paid_at = COALESCE($4, paid_at), updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, sentAt, paidAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}
	return nil
}

// Delete removes an offer and its items.
func (r *OfferRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM offers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}
	return nil
}

// List returns offers matching the filter with a total count. Items are not
// loaded for list views.
func (r *OfferRepository) List(ctx context.Context, filter models.OfferFilter) ([]models.Offer, int, error) {
	baseQuery := `FROM offers WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)+1))
		args = append(args, *filter.CustomerID)
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(offer_number) LIKE $%d)", idx, idx))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"offer_number": true,
		"title":        true,
		"status":       true,
		"final_amount": true,
		"valid_until":  true,
		"created_at":   true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT "+offerColumns+" %s ORDER BY %s %s LIMIT %d OFFSET %d", baseQuery, sortBy, sortOrder, pageSize, offset)

	var offers []models.Offer
	if err := r.db.SelectContext(ctx, &offers, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list offers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count offers: %w", err)
	}

	return offers, total, nil
}

func (r *OfferRepository) findItems(ctx context.Context, offerID int64) ([]models.OfferItem, error) {
	const query = `SELECT ` + offerItemColumns + ` FROM offer_items WHERE offer_id = $1 ORDER BY id ASC`
	var items []models.OfferItem
	if err := r.db.SelectContext(ctx, &items, query, offerID); err != nil {
		return nil, fmt.Errorf("find offer items: %w", err)
	}
	return items, nil
}

func (r *OfferRepository) insertItems(ctx context.Context, tx *sqlx.Tx, offerID int64, items []models.OfferItem) error {
	const query = `INSERT INTO offer_items (offer_id, description, quantity, unit_price, tax_rate, net_amount, tax_amount, gross_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	for i := range items {
		items[i].OfferID = offerID
		if err := tx.GetContext(ctx, &items[i].ID, query,
			offerID, items[i].Description, items[i].Quantity, items[i].UnitPrice,
			items[i].TaxRate, items[i].NetAmount, items[i].TaxAmount, items[i].GrossAmount); err != nil {
			return fmt.Errorf("insert offer item: %w", err)
		}
	}
	return nil
}
