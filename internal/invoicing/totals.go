package invoicing

import "github.com/shopspring/decimal"

// DefaultTaxRate is the Israeli VAT rate applied when none is configured.
var DefaultTaxRate = decimal.RequireFromString("0.18")

const currencyPlaces = 2

// CalculateTotals sums amounts at full precision and derives tax and total.
// Only the aggregates are rounded, never the individual amounts. Negative
// amounts are summed as given; rejecting them is the caller's job.
func CalculateTotals(amounts []decimal.Decimal, taxRate decimal.Decimal) Totals {
	sum := decimal.Zero
	for _, amount := range amounts {
		sum = sum.Add(amount)
	}
	subtotal := sum.Round(currencyPlaces)
	tax := subtotal.Mul(taxRate).Round(currencyPlaces)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

// CalculateTotalsDefault applies DefaultTaxRate.
func CalculateTotalsDefault(amounts []decimal.Decimal) Totals {
	return CalculateTotals(amounts, DefaultTaxRate)
}

func lineAmounts(lines []LineItem) []decimal.Decimal {
	amounts := make([]decimal.Decimal, 0, len(lines))
	for _, line := range lines {
		amounts = append(amounts, line.LineTotal)
	}
	return amounts
}
