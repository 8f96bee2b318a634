// Package pricing prices invoice lines against pricing rates and aggregates
// line totals into invoice totals.
//
// All functions are pure: they read only their arguments, never mutate them,
// and are safe for concurrent use. Money is represented with
// shopspring/decimal and rounded to the cent with Round2.
package pricing

import "github.com/shopspring/decimal"

// Model is the billing model of a pricing rate or invoice line.
type Model string

const (
	// ModelItemized bills per discrete unit at a fixed unit price.
	ModelItemized Model = "itemized"
	// ModelWeighted bills per kilogram at a fixed price per kg.
	ModelWeighted Model = "weighted"
)

// Valid reports whether m is a known billing model.
func (m Model) Valid() bool {
	return m == ModelItemized || m == ModelWeighted
}

func (m Model) String() string { return string(m) }

// Rate is a stored pricing rule mapping an item to a billing model and price.
// Only the price field selected by Model is meaningful.
type Rate struct {
	ID         string
	ItemID     string
	Model      Model
	UnitPrice  decimal.NullDecimal
	PricePerKg decimal.NullDecimal
	Active     bool
}

// DraftLine is unvalidated input describing one invoice line before pricing.
type DraftLine struct {
	Type     Model
	ItemID   string
	RateID   string
	Quantity decimal.NullDecimal
	WeightKg decimal.NullDecimal
}

// Line is a priced invoice line. Fields that do not apply to Type are left
// invalid (null).
type Line struct {
	Type       Model
	ItemID     string
	RateID     string
	Quantity   decimal.NullDecimal
	WeightKg   decimal.NullDecimal
	UnitPrice  decimal.NullDecimal
	PricePerKg decimal.NullDecimal
	Total      decimal.Decimal
}

// Totals summarises an invoice.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Round2 rounds x to two decimal places, half away from zero.
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}

// ComputeLine validates draft against rate and prices it.
//
// The rate must be the one the caller resolved for draft.RateID; the
// identifier itself is not checked. Checks run in a fixed order and the first
// failure is returned as a *ValidationError.
func ComputeLine(draft DraftLine, rate Rate) (Line, error) {
	if !rate.Active {
		return Line{}, newValidationError(KindInactiveRate, draft, rate)
	}
	if draft.ItemID != rate.ItemID {
		return Line{}, newValidationError(KindItemRateMismatch, draft, rate)
	}
	if draft.Type != rate.Model {
		return Line{}, newValidationError(KindLineTypeMismatch, draft, rate)
	}

	switch draft.Type {
	case ModelItemized:
		qty := valueOrZero(draft.Quantity)
		if !qty.IsPositive() {
			return Line{}, newValidationError(KindInvalidQuantity, draft, rate)
		}
		if !rate.UnitPrice.Valid {
			return Line{}, newValidationError(KindMissingRateField, draft, rate)
		}
		return Line{
			Type:      ModelItemized,
			ItemID:    draft.ItemID,
			RateID:    draft.RateID,
			Quantity:  decimal.NewNullDecimal(qty),
			UnitPrice: rate.UnitPrice,
			Total:     Round2(qty.Mul(rate.UnitPrice.Decimal)),
		}, nil
	case ModelWeighted:
		weight := valueOrZero(draft.WeightKg)
		if !weight.IsPositive() {
			return Line{}, newValidationError(KindInvalidWeight, draft, rate)
		}
		if !rate.PricePerKg.Valid {
			return Line{}, newValidationError(KindMissingRateField, draft, rate)
		}
		return Line{
			Type:       ModelWeighted,
			ItemID:     draft.ItemID,
			RateID:     draft.RateID,
			WeightKg:   decimal.NewNullDecimal(weight),
			PricePerKg: rate.PricePerKg,
			Total:      Round2(weight.Mul(rate.PricePerKg.Decimal)),
		}, nil
	default:
		// Unknown models on both sides compare equal above.
		return Line{}, newValidationError(KindLineTypeMismatch, draft, rate)
	}
}

// ComputeTotals sums line totals and applies discount. The discount is
// clamped to [0, subtotal] so the total is never negative. It never fails.
func ComputeTotals(lineTotals []decimal.Decimal, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, t := range lineTotals {
		subtotal = subtotal.Add(t)
	}
	subtotal = Round2(subtotal)

	clamped := decimal.Max(decimal.Zero, decimal.Min(discount, subtotal))

	return Totals{
		Subtotal: subtotal,
		Discount: Round2(clamped),
		Total:    Round2(subtotal.Sub(clamped)),
	}
}

// LineTotals returns the Total of every line, in order.
func LineTotals(lines []Line) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		out[i] = l.Total
	}
	return out
}

func valueOrZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
