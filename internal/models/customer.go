package models

import "time"

// CustomerStatus tracks a customer through the sales pipeline.
type CustomerStatus string

const (
	CustomerStatusNew          CustomerStatus = "NEW"
	CustomerStatusContacted    CustomerStatus = "CONTACTED"
	CustomerStatusOfferCreated CustomerStatus = "OFFER_CREATED"
	CustomerStatusWon          CustomerStatus = "WON"
	CustomerStatusLost         CustomerStatus = "LOST"
	CustomerStatusActive       CustomerStatus = "ACTIVE"
	CustomerStatusInactive     CustomerStatus = "INACTIVE"
	CustomerStatusPotential    CustomerStatus = "POTENTIAL"
)

// DefaultProbability returns the win probability assumed for a pipeline stage.
func (s CustomerStatus) DefaultProbability() int {
	switch s {
	case CustomerStatusNew:
		return 25
	case CustomerStatusContacted:
		return 40
	case CustomerStatusOfferCreated:
		return 60
	case CustomerStatusWon:
		return 100
	case CustomerStatusLost:
		return 0
	default:
		return 25
	}
}

// CustomerPriority ranks customers for follow-up.
type CustomerPriority string

const (
	PriorityLow    CustomerPriority = "LOW"
	PriorityMedium CustomerPriority = "MEDIUM"
	PriorityHigh   CustomerPriority = "HIGH"
	PriorityVIP    CustomerPriority = "VIP"
)

// LeadSource records where a customer came from.
type LeadSource string

const (
	LeadSourceWebsite       LeadSource = "WEBSITE"
	LeadSourceReferral      LeadSource = "REFERRAL"
	LeadSourceTradeFair     LeadSource = "TRADE_FAIR"
	LeadSourceSocialMedia   LeadSource = "SOCIAL_MEDIA"
	LeadSourceEmailCampaign LeadSource = "EMAIL_CAMPAIGN"
	LeadSourceColdCall      LeadSource = "COLD_CALL"
	LeadSourcePhoneCall     LeadSource = "PHONE_CALL"
	LeadSourceLinkedIn      LeadSource = "LINKEDIN"
	LeadSourcePartner       LeadSource = "PARTNER"
	LeadSourceOther         LeadSource = "OTHER"
)

// Customer represents a CRM customer record.
type Customer struct {
	ID                int64            `db:"id" json:"id"`
	FirstName         string           `db:"first_name" json:"first_name"`
	LastName          string           `db:"last_name" json:"last_name"`
	Email             string           `db:"email" json:"email"`
	Phone             string           `db:"phone" json:"phone"`
	Mobile            string           `db:"mobile" json:"mobile"`
	CompanyName       string           `db:"company_name" json:"company_name"`
	Position          string           `db:"position" json:"position"`
	Department        string           `db:"department" json:"department"`
	Street            string           `db:"street" json:"street"`
	HouseNumber       string           `db:"house_number" json:"house_number"`
	PostalCode        string           `db:"postal_code" json:"postal_code"`
	City              string           `db:"city" json:"city"`
	Country           string           `db:"country" json:"country"`
	Website           string           `db:"website" json:"website"`
	Status            CustomerStatus   `db:"status" json:"status"`
	Priority          CustomerPriority `db:"priority" json:"priority"`
	LeadSource        LeadSource       `db:"lead_source" json:"lead_source"`
	EstimatedValue    *float64         `db:"estimated_value" json:"estimated_value,omitempty"`
	Probability       int              `db:"probability" json:"probability"`
	ExpectedCloseDate *time.Time       `db:"expected_close_date" json:"expected_close_date,omitempty"`
	PipelineEntryDate *time.Time       `db:"pipeline_entry_date" json:"pipeline_entry_date,omitempty"`
	Tags              string           `db:"tags" json:"tags"`
	Notes             string           `db:"notes" json:"notes"`
	InternalNotes     string           `db:"internal_notes" json:"internal_notes"`
	CreatedByID       *int64           `db:"created_by" json:"created_by,omitempty"`
	AssignedToID      *int64           `db:"assigned_to" json:"assigned_to,omitempty"`
	LastContact       *time.Time       `db:"last_contact" json:"last_contact,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// CustomerFilter captures search criteria for listing customers.
type CustomerFilter struct {
	Status     *CustomerStatus
	Priority   *CustomerPriority
	LeadSource *LeadSource
	City       string
	Company    string
	AssignedTo *int64
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
