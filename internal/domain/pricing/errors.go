package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrorKind classifies a line validation failure. None of the kinds are
// retryable: the input or the stored rate must change first.
type ErrorKind uint8

const (
	// KindInactiveRate means the selected rate is disabled.
	KindInactiveRate ErrorKind = iota + 1
	// KindItemRateMismatch means the rate belongs to another item.
	KindItemRateMismatch
	// KindLineTypeMismatch means the line billing model differs from the rate's.
	KindLineTypeMismatch
	// KindInvalidQuantity means an itemized line has a missing or non-positive quantity.
	KindInvalidQuantity
	// KindInvalidWeight means a weighted line has a missing or non-positive weight.
	KindInvalidWeight
	// KindMissingRateField means the rate lacks the price field for its own model.
	KindMissingRateField
)

var kindNames = map[ErrorKind]string{
	KindInactiveRate:     "inactive_rate",
	KindItemRateMismatch: "item_rate_mismatch",
	KindLineTypeMismatch: "line_type_mismatch",
	KindInvalidQuantity:  "invalid_quantity",
	KindInvalidWeight:    "invalid_weight",
	KindMissingRateField: "missing_rate_field",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sentinels for errors.Is. Any *ValidationError matches the sentinel of its kind.
var (
	ErrInactiveRate     = &ValidationError{Kind: KindInactiveRate}
	ErrItemRateMismatch = &ValidationError{Kind: KindItemRateMismatch}
	ErrLineTypeMismatch = &ValidationError{Kind: KindLineTypeMismatch}
	ErrInvalidQuantity  = &ValidationError{Kind: KindInvalidQuantity}
	ErrInvalidWeight    = &ValidationError{Kind: KindInvalidWeight}
	ErrMissingRateField = &ValidationError{Kind: KindMissingRateField}
)

// ValidationError reports why a draft line could not be priced.
type ValidationError struct {
	Kind   ErrorKind
	RateID string
	ItemID string
	// Model is the rate's billing model, used to word KindMissingRateField.
	Model Model
}

func newValidationError(kind ErrorKind, draft DraftLine, rate Rate) *ValidationError {
	return &ValidationError{
		Kind:   kind,
		RateID: rate.ID,
		ItemID: draft.ItemID,
		Model:  rate.Model,
	}
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindInactiveRate:
		return "selected pricing rate is inactive"
	case KindItemRateMismatch:
		return "line item and pricing rate do not match"
	case KindLineTypeMismatch:
		return "line type does not match pricing model"
	case KindInvalidQuantity:
		return "itemized line quantity must be greater than zero"
	case KindInvalidWeight:
		return "weighted line weight must be greater than zero"
	case KindMissingRateField:
		if e.Model == ModelWeighted {
			return "weighted pricing rate has no price per kg"
		}
		return "itemized pricing rate has no unit price"
	default:
		return "invalid invoice line: " + e.Kind.String()
	}
}

// Is matches another *ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *ValidationError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}
