package billing

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Amounts is the price/tax split of one payment.
type Amounts struct {
	Price decimal.Decimal
	Tax   decimal.Decimal
	Total decimal.Decimal
}

// SplitTotal separates a tax-inclusive total into net price and tax, rounded
// to cents. Price + Tax always equals the rounded total.
func SplitTotal(total, taxPercent decimal.Decimal) Amounts {
	total = total.Round(2)
	if taxPercent.IsZero() || taxPercent.IsNegative() {
		return Amounts{Price: total, Tax: decimal.Zero, Total: total}
	}
	price := total.Div(decimal.NewFromInt(1).Add(taxPercent.Div(hundred))).Round(2)
	return Amounts{Price: price, Tax: total.Sub(price), Total: total}
}

// GrossFromPrice adds tax on top of a net price.
func GrossFromPrice(price, taxPercent decimal.Decimal) Amounts {
	price = price.Round(2)
	tax := price.Mul(taxPercent).Div(hundred).Round(2)
	return Amounts{Price: price, Tax: tax, Total: price.Add(tax)}
}

// TaxPercentFromRaw reads the plan tax percentage out of a raw_details
// snapshot. It returns false when the snapshot has none.
func TaxPercentFromRaw(raw string) (decimal.Decimal, bool) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, false
	}
	var details RawDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return decimal.Zero, false
	}
	if details.Plan == nil || details.Plan.Taxes == nil {
		return decimal.Zero, false
	}
	pct, err := decimal.NewFromString(strings.TrimSpace(details.Plan.Taxes.Percentage))
	if err != nil || pct.IsNegative() {
		return decimal.Zero, false
	}
	return pct, true
}
