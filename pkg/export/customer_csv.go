package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/pierix/crm-api/internal/models"
)

// CustomerCSV writes customer lists as comma separated values.
type CustomerCSV struct{}

func NewCustomerCSV() *CustomerCSV {
	return &CustomerCSV{}
}

var customerCSVHeader = []string{
	"id", "first_name", "last_name", "email", "phone", "company_name",
	"city", "country", "status", "priority", "lead_source",
	"estimated_value", "probability", "created_at",
}

// Render produces the CSV bytes for the given customers.
func (e *CustomerCSV) Render(customers []models.Customer) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	if err := w.Write(customerCSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, c := range customers {
		estimated := ""
		if c.EstimatedValue != nil {
			estimated = strconv.FormatFloat(*c.EstimatedValue, 'f', 2, 64)
		}
		record := []string{
			strconv.FormatInt(c.ID, 10),
			c.FirstName,
			c.LastName,
			c.Email,
			c.Phone,
			c.CompanyName,
			c.City,
			c.Country,
			string(c.Status),
			string(c.Priority),
			string(c.LeadSource),
			estimated,
			strconv.Itoa(c.Probability),
			c.CreatedAt.Format("2006-01-02"),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
