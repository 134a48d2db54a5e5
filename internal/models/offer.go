package models

import "time"

// OfferStatus tracks an offer through its lifecycle.
type OfferStatus string

const (
	OfferStatusDraft   OfferStatus = "DRAFT"
	OfferStatusSent    OfferStatus = "SENT"
	OfferStatusPaid    OfferStatus = "PAID"
	OfferStatusOverdue OfferStatus = "OVERDUE"
)

// Offer represents a priced offer for a customer.
type Offer struct {
	ID                 int64       `db:"id" json:"id"`
	OfferNumber        string      `db:"offer_number" json:"offer_number"`
	Title              string      `db:"title" json:"title"`
	Description        string      `db:"description" json:"description"`
	ValidUntil         *time.Time  `db:"valid_until" json:"valid_until,omitempty"`
	Status             OfferStatus `db:"status" json:"status"`
	NetAmount          float64     `db:"net_amount" json:"net_amount"`
	TaxAmount          float64     `db:"tax_amount" json:"tax_amount"`
	GrossAmount        float64     `db:"gross_amount" json:"gross_amount"`
	DiscountPercentage float64     `db:"discount_percentage" json:"discount_percentage"`
	DiscountAmount     float64     `db:"discount_amount" json:"discount_amount"`
	FinalAmount        float64     `db:"final_amount" json:"final_amount"`
	CustomerID         int64       `db:"customer_id" json:"customer_id"`
	CreatedByID        *int64      `db:"created_by" json:"created_by,omitempty"`
	SentAt             *time.Time  `db:"sent_at" json:"sent_at,omitempty"`
	PaidAt             *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`

	Items []OfferItem `db:"-" json:"items"`
}

// OfferItem is one priced line of an offer.
type OfferItem struct {
	ID          int64   `db:"id" json:"id"`
	OfferID     int64   `db:"offer_id" json:"offer_id"`
	Description string  `db:"description" json:"description"`
	Quantity    int     `db:"quantity" json:"quantity"`
	UnitPrice   float64 `db:"unit_price" json:"unit_price"`
	TaxRate     float64 `db:"tax_rate" json:"tax_rate"`
	NetAmount   float64 `db:"net_amount" json:"net_amount"`
	TaxAmount   float64 `db:"tax_amount" json:"tax_amount"`
	GrossAmount float64 `db:"gross_amount" json:"gross_amount"`
}

// OfferFilter captures search criteria for listing offers.
type OfferFilter struct {
	Status     *OfferStatus
	CustomerID *int64
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
