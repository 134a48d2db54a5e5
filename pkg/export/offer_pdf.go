package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/pierix/crm-api/internal/models"
)

// OfferPDF renders an offer and its line items into a printable document.
type OfferPDF struct{}

func NewOfferPDF() *OfferPDF {
	return &OfferPDF{}
}

// Render produces the PDF bytes for the offer addressed to the customer.
func (e *OfferPDF) Render(offer *models.Offer, customer *models.Customer) ([]byte, error) {
	if offer == nil || customer == nil {
		return nil, fmt.Errorf("offer and customer required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Offer %s", offer.OfferNumber), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, offer.Title, "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(0, 6, "Customer", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 5, fmt.Sprintf("%s %s", customer.FirstName, customer.LastName), "", 1, "L", false, 0, "")
	if customer.CompanyName != "" {
		pdf.CellFormat(0, 5, customer.CompanyName, "", 1, "L", false, 0, "")
	}
	if customer.Street != "" {
		pdf.CellFormat(0, 5, fmt.Sprintf("%s %s", customer.Street, customer.HouseNumber), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("%s %s", customer.PostalCode, customer.City), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Date: %s", offer.CreatedAt.Format("2006-01-02")), "", 1, "L", false, 0, "")
	if offer.ValidUntil != nil {
		pdf.CellFormat(0, 5, fmt.Sprintf("Valid until: %s", offer.ValidUntil.Format("2006-01-02")), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	widths := []float64{90, 20, 25, 20, 25}
	headers := []string{"Description", "Qty", "Unit Price", "Tax %", "Net"}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range headers {
		align := "L"
		if i > 0 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 7, h, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, item := range offer.Items {
		pdf.CellFormat(widths[0], 6, item.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 6, money(item.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprintf("%.1f", item.TaxRate), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, money(item.NetAmount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(3)

	e.totalLine(pdf, "Net amount", offer.NetAmount, false)
	if offer.DiscountAmount > 0 {
		e.totalLine(pdf, fmt.Sprintf("Discount (%.1f%%)", offer.DiscountPercentage), -offer.DiscountAmount, false)
	}
	e.totalLine(pdf, "Tax", offer.TaxAmount, false)
	e.totalLine(pdf, "Total", offer.FinalAmount, true)

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated %s", time.Now().UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render offer pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *OfferPDF) totalLine(pdf *gofpdf.Fpdf, label string, amount float64, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	pdf.SetFont("Arial", style, 10)
	pdf.CellFormat(155, 6, label, "", 0, "R", false, 0, "")
	pdf.CellFormat(25, 6, money(amount), "", 1, "R", false, 0, "")
}

func money(v float64) string {
	return fmt.Sprintf("%.2f EUR", v)
}
