package sales

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeTotals(t *testing.T) {
	lines := []saleLineInput{
		{
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.RequireFromString("10.00"),
			Tax:       decimal.RequireFromString("2.10"),
		},
	}
	totals := computeTotals(lines)
	assert.True(t, totals.Subtotal.Equal(decimal.RequireFromString("20.00")), "subtotal %s", totals.Subtotal)
	assert.True(t, totals.DiscountTotal.IsZero())
	assert.True(t, totals.TaxTotal.Equal(decimal.RequireFromString("2.10")))
	assert.True(t, totals.Total.Equal(decimal.RequireFromString("22.10")), "total %s", totals.Total)
}

func TestComputeTotalsManyLinesNoDrift(t *testing.T) {
	// 0.1 repeated cannot accumulate binary floating point error
	var lines []saleLineInput
	for i := 0; i < 1000; i++ {
		lines = append(lines, saleLineInput{
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: decimal.RequireFromString("0.10"),
		})
	}
	totals := computeTotals(lines)
	assert.True(t, totals.Total.Equal(decimal.RequireFromString("100.00")), "total %s", totals.Total)
}

func TestCoversTotal(t *testing.T) {
	total := decimal.RequireFromString("22.10")
	assert.True(t, coversTotal(total, decimal.RequireFromString("22.10")))
	assert.True(t, coversTotal(total, decimal.RequireFromString("22.11")))
	assert.True(t, coversTotal(total, decimal.RequireFromString("22.09")))
	assert.False(t, coversTotal(total, decimal.RequireFromString("22.00")))
	assert.False(t, coversTotal(total, decimal.RequireFromString("23.10")))
}

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "0001-00000042", formatInvoiceNumber(1, 42))
	assert.Equal(t, "0003-00001000", formatInvoiceNumber(3, 1000))
}
