// Package invoice renders order invoices as PDF documents.
package invoice

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
)

const (
	lineHeight = 7.0
	currency   = "BDT"
)

// Renderer writes invoices with a fixed brand header.
type Renderer struct {
	brand string
	now   func() time.Time
}

func NewRenderer(brand string) *Renderer {
	if brand == "" {
		brand = "ShopHub"
	}
	return &Renderer{brand: brand, now: time.Now}
}

// Render writes the PDF for order to w. The order must have its items loaded.
func (r *Renderer) Render(w io.Writer, order *models.Order) error {
	if order == nil {
		return errors.New("order is required")
	}
	if len(order.Items) == 0 {
		return errors.New("order has no items")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Invoice %s", order.ID), true)
	pdf.SetCreator(r.brand, true)
	pdf.SetCreationDate(r.now().UTC())
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.Cell(0, 10, tr(r.brand))
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, "INVOICE")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	meta := [][2]string{
		{"Invoice Number:", order.ID.String()},
		{"Order Date:", order.CreatedAt.UTC().Format("January 2, 2006")},
		{"Payment Method:", string(order.PaymentMethod)},
		{"Payment Status:", string(order.PaymentStatus)},
		{"Order Status:", string(order.OrderStatus)},
	}
	if order.PaidAt != nil {
		meta = append(meta, [2]string{"Paid At:", order.PaidAt.UTC().Format("January 2, 2006 15:04")})
	}
	for _, row := range meta {
		pdf.Cell(40, lineHeight, row[0])
		pdf.Cell(0, lineHeight, tr(row[1]))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, lineHeight, "Ship To")
	pdf.Ln(lineHeight)
	pdf.SetFont("Helvetica", "", 10)
	for _, line := range order.ShippingAddress.Lines() {
		pdf.Cell(0, 6, tr(line))
		pdf.Ln(6)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(100, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 8, "Qty", "1", 0, "C", true, 0, "")
	pdf.CellFormat(35, 8, "Unit Price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 8, "Total", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, item := range order.Items {
		pdf.CellFormat(100, 8, tr(item.Name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 8, fmt.Sprintf("%d", item.Quantity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 8, formatAmount(item.Price), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, formatAmount(item.LineTotal()), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	totals := [][2]string{
		{"Subtotal", formatAmount(order.Subtotal)},
		{"Shipping", formatAmount(order.ShippingCost)},
	}
	if order.DiscountAmount.IsPositive() {
		label := "Discount"
		if order.CouponCode != nil {
			label = fmt.Sprintf("Discount (%s)", *order.CouponCode)
		}
		totals = append(totals, [2]string{label, "-" + formatAmount(order.DiscountAmount)})
	}
	for _, row := range totals {
		pdf.CellFormat(155, lineHeight, tr(row[0]), "", 0, "R", false, 0, "")
		pdf.CellFormat(35, lineHeight, row[1], "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(155, 9, "Total", "T", 0, "R", false, 0, "")
	pdf.CellFormat(35, 9, formatAmount(order.TotalAmount), "T", 1, "R", false, 0, "")

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render invoice: %w", err)
	}
	return pdf.Output(w)
}

func formatAmount(d decimal.Decimal) string {
	return fmt.Sprintf("%s %s", currency, d.StringFixed(2))
}
