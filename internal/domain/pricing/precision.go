package pricing

import "github.com/shopspring/decimal"

// FitsPrecision reports whether d can be held exactly by a fixed-point number
// with precision significant digits, scale of them after the decimal point.
// The check never rescales d, so exponents like 1e1000000 are cheap to reject.
func FitsPrecision(d decimal.Decimal, precision, scale int) bool {
	if d.IsZero() {
		return true
	}

	exp := int(d.Exponent())
	digits := d.NumDigits()
	if digits+exp > precision-scale {
		return false
	}
	if -exp <= scale {
		return true
	}

	// Extra fractional digits are only acceptable as trailing zeros of the
	// coefficient.
	if -exp-scale >= digits {
		return false
	}
	return d.Truncate(int32(scale)).Equal(d)
}
