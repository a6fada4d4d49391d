package sales

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// paymentTolerance is the absolute rounding tolerance when comparing the
// payment sum against the grand total.
var paymentTolerance = decimal.New(1, -2) // 0.01

// saleLineInput is a parsed, validated line ready for total computation.
type saleLineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	Tax       decimal.Decimal
}

// paymentInput is a parsed, validated payment.
type paymentInput struct {
	Method    string
	Amount    decimal.Decimal
	Reference *string
}

// saleTotals is the result of the decimal total computation.
type saleTotals struct {
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	TaxTotal      decimal.Decimal
	Total         decimal.Decimal
}

// computeTotals derives subtotal, discount, tax and grand total from the
// lines: total = subtotal - discount + tax.
func computeTotals(lines []saleLineInput) saleTotals {
	t := saleTotals{
		Subtotal:      decimal.Zero,
		DiscountTotal: decimal.Zero,
		TaxTotal:      decimal.Zero,
	}
	for _, l := range lines {
		t.Subtotal = t.Subtotal.Add(l.Quantity.Mul(l.UnitPrice))
		t.DiscountTotal = t.DiscountTotal.Add(l.Discount)
		t.TaxTotal = t.TaxTotal.Add(l.Tax)
	}
	t.Total = t.Subtotal.Sub(t.DiscountTotal).Add(t.TaxTotal)
	return t
}

// lineTotal is the amount one line contributes to the grand total.
func lineTotal(l saleLineInput) decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Sub(l.Discount).Add(l.Tax)
}

// coversTotal reports whether the payment sum matches the total within the
// absolute tolerance.
func coversTotal(total, paid decimal.Decimal) bool {
	return total.Sub(paid).Abs().LessThanOrEqual(paymentTolerance)
}

// formatInvoiceNumber renders a fiscal invoice number from the configured
// point of sale and a sequence value, e.g. 0001-00000042.
func formatInvoiceNumber(pointOfSale int, seq int64) string {
	return fmt.Sprintf("%04d-%08d", pointOfSale, seq)
}
