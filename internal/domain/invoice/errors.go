package invoice

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for request validation.
var (
	ErrCustomerRequired = errors.New("customer name is required")
	ErrEmptyLines       = errors.New("add at least one invoice line")
	ErrInvalidStatus    = errors.New("invalid invoice status")
	// ErrAmountOutOfRange is returned when a line total or the subtotal is
	// too large to be stored. Line-level failures come wrapped in *LineError.
	ErrAmountOutOfRange = errors.New("amount exceeds the supported range")
)

// IncompleteLineError indicates a line without an item or a pricing rate.
type IncompleteLineError struct {
	Index int
}

func (e *IncompleteLineError) Error() string {
	return fmt.Sprintf("line %d: each line must have item and rate", e.Index+1)
}

// UnknownRateError indicates a line references a pricing rate that could not
// be resolved.
type UnknownRateError struct {
	Index  int
	RateID string
}

func (e *UnknownRateError) Error() string {
	return fmt.Sprintf("line %d: invalid pricing rate %q selected", e.Index+1, e.RateID)
}

// LineError wraps a pricing failure with the zero-based index of the line
// that caused it. The pricing kind stays reachable through errors.Is/As.
type LineError struct {
	Index int
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Index+1, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// LineIndex returns the zero-based line index carried by err, if any.
func LineIndex(err error) (int, bool) {
	var (
		le *LineError
		ue *UnknownRateError
		ie *IncompleteLineError
	)
	switch {
	case errors.As(err, &le):
		return le.Index, true
	case errors.As(err, &ue):
		return ue.Index, true
	case errors.As(err, &ie):
		return ie.Index, true
	}
	return 0, false
}
