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

const customerColumns = `id, first_name, last_name, email, phone, mobile, company_name, position, department,
	street, house_number, postal_code, city, country, website,
	status, priority, lead_source, estimated_value, probability, expected_close_date, pipeline_entry_date,
	tags, notes, internal_notes, created_by, assigned_to, last_contact, created_at, updated_at`

// CustomerRepository provides database access for customer records.
type CustomerRepository struct {
	db *sqlx.DB
}

// NewCustomerRepository creates a new instance of CustomerRepository.
func NewCustomerRepository(db *sqlx.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// FindByID returns a customer by identifier.
func (r *CustomerRepository) FindByID(ctx context.Context, id int64) (*models.Customer, error) {
	const query = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1 LIMIT 1`
	var customer models.Customer
	if err := r.db.GetContext(ctx, &customer, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find customer by id: %w", err)
	}
	return &customer, nil
}

// Create inserts a new customer and fills in the generated id.
func (r *CustomerRepository) Create(ctx context.Context, customer *models.Customer) error {
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now

	const query = `INSERT INTO customers (
		first_name, last_name, email, phone, mobile, company_name, position, department,
		street, house_number, postal_code, city, country, website,
		status, priority, lead_source, estimated_value, probability, expected_close_date, pipeline_entry_date,
		tags, notes, internal_notes, created_by, assigned_to, last_contact, created_at, updated_at)
	VALUES (
		:first_name, :last_name, :email, :phone, :mobile, :company_name, :position, :department,
		:street, :house_number, :postal_code, :city, :country, :website,
		:status, :priority, :lead_source, :estimated_value, :probability, :expected_close_date, :pipeline_entry_date,
		:tags, :notes, :internal_notes, :created_by, :assigned_to, :last_contact, :created_at, :updated_at)
	RETURNING id`

	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, customer)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&customer.ID); err != nil {
			return fmt.Errorf("create customer: %w", err)
		}
	}
	return rows.Err()
}

// Update persists all mutable fields of a customer.
func (r *CustomerRepository) Update(ctx context.Context, customer *models.Customer) error {
	customer.UpdatedAt = time.Now().UTC()
	const query = `UPDATE customers SET
		first_name = :first_name, last_name = :last_name, email = :email, phone = :phone, mobile = :mobile,
		company_name = :company_name, position = :position, department = :department,
		street = :street, house_number = :house_number, postal_code = :postal_code, city = :city, country = :country,
		website = :website, status = :status, priority = :priority, lead_source = :lead_source,
		estimated_value = :estimated_value, probability = :probability, expected_close_date = :expected_close_date,
		pipeline_entry_date = :pipeline_entry_date, tags = :tags, notes = :notes, internal_notes = :internal_notes,
		assigned_to = :assigned_to, last_contact = :last_contact, updated_at = :updated_at
	WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, customer); err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return nil
}

// Delete removes a customer row.
func (r *CustomerRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM customers WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	return nil
}

// List returns customers matching the filter with a total count.
func (r *CustomerRepository) List(ctx context.Context, filter models.CustomerFilter) ([]models.Customer, int, error) {
	baseQuery := `FROM customers WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *filter.Priority)
	}
	if filter.LeadSource != nil {
		conditions = append(conditions, fmt.Sprintf("lead_source = $%d", len(args)+1))
		args = append(args, *filter.LeadSource)
	}
	if filter.City != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(city) = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.City))
	}
	if filter.Company != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(company_name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Company)+"%")
	}
	if filter.AssignedTo != nil {
		conditions = append(conditions, fmt.Sprintf("assigned_to = $%d", len(args)+1))
		args = append(args, *filter.AssignedTo)
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(first_name) LIKE $%d OR LOWER(last_name) LIKE $%d OR LOWER(email) LIKE $%d OR LOWER(company_name) LIKE $%d)",
			idx, idx, idx, idx))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"last_name":       true,
		"company_name":    true,
		"city":            true,
		"status":          true,
		"priority":        true,
		"estimated_value": true,
		"created_at":      true,
		"last_contact":    true,
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

	listQuery := fmt.Sprintf("SELECT "+customerColumns+" %s ORDER BY %s %s LIMIT %d OFFSET %d", baseQuery, sortBy, sortOrder, pageSize, offset)

	var customers []models.Customer
	if err := r.db.SelectContext(ctx, &customers, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list customers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}

	return customers, total, nil
}
