package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

// Storage limits of the invoice columns, as NUMERIC(precision, scale).
const (
	magnitudePrecision = 12 // quantity, weight_kg
	magnitudeScale     = 3
	amountPrecision    = 12 // discount_amount
	amountScale        = 2
)

// decimalTag marks decimals outside their column limits. Its param is
// "<integer digits>.<decimal places>".
const decimalTag = "decimal"

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateLine, lineRequest{})
	v.RegisterStructValidation(validateInvoice, invoiceRequest{})
	return v
}

// validateLine rejects quantities and weights that would be rounded or
// overflow when stored. Positivity is left to the pricing engine.
func validateLine(sl validator.StructLevel) {
	l := sl.Current().Interface().(lineRequest)
	reportDecimal(sl, l.Quantity, "quantity", "Quantity", magnitudePrecision, magnitudeScale)
	reportDecimal(sl, l.WeightKg, "weightKg", "WeightKg", magnitudePrecision, magnitudeScale)
}

func validateInvoice(sl validator.StructLevel) {
	req := sl.Current().Interface().(invoiceRequest)
	reportDecimal(sl, req.Discount, "discount", "Discount", amountPrecision, amountScale)
}

func reportDecimal(sl validator.StructLevel, v decimal.NullDecimal, field, structField string, precision, scale int) {
	if !v.Valid || pricing.FitsPrecision(v.Decimal, precision, scale) {
		return
	}
	sl.ReportError(v, field, structField, decimalTag, strconv.Itoa(precision-scale)+"."+strconv.Itoa(scale))
}
