package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/invoice"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

// apiError is the JSON error body. Line is the zero-based index of the
// offending invoice line, when there is one.
type apiError struct {
	Status  int
	Kind    string
	Line    int
	HasLine bool
	Message string
}

func (e apiError) encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("code")
	enc.Int(e.Status)
	enc.FieldStart("kind")
	enc.Str(e.Kind)
	if e.HasLine {
		enc.FieldStart("line")
		enc.Int(e.Line)
	}
	enc.FieldStart("message")
	enc.Str(e.Message)
	enc.ObjEnd()
}

// classify maps a domain error to its HTTP representation. Errors it does
// not recognise become 500 and their text is not exposed.
func classify(err error) apiError {
	if kind, ok := pricing.KindOf(err); ok {
		out := apiError{Status: http.StatusUnprocessableEntity, Kind: kind.String(), Message: err.Error()}
		out.Line, out.HasLine = invoice.LineIndex(err)
		return out
	}

	var (
		ve validator.ValidationErrors
		ie *invoice.IncompleteLineError
		ue *invoice.UnknownRateError
		re *catalog.RateDefinitionError
	)
	switch {
	case errors.Is(err, errMalformed):
		return apiError{Status: http.StatusBadRequest, Kind: "malformed_request", Message: err.Error()}
	case errors.As(err, &ve):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "invalid_request", Message: describeValidation(ve)}
	case errors.As(err, &ie):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "incomplete_line", Line: ie.Index, HasLine: true, Message: err.Error()}
	case errors.As(err, &ue):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "unknown_rate", Line: ue.Index, HasLine: true, Message: err.Error()}
	case errors.Is(err, invoice.ErrAmountOutOfRange):
		out := apiError{Status: http.StatusUnprocessableEntity, Kind: "amount_out_of_range", Message: err.Error()}
		out.Line, out.HasLine = invoice.LineIndex(err)
		return out
	case errors.Is(err, invoice.ErrEmptyLines):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "empty_lines", Message: err.Error()}
	case errors.Is(err, invoice.ErrCustomerRequired):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "customer_required", Message: err.Error()}
	case errors.Is(err, invoice.ErrInvalidStatus):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "invalid_status", Message: err.Error()}
	case errors.As(err, &re):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "invalid_rate", Message: err.Error()}
	case errors.Is(err, catalog.ErrItemNameRequired):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "item_name_required", Message: err.Error()}
	case errors.Is(err, catalog.ErrUnknownItem):
		return apiError{Status: http.StatusUnprocessableEntity, Kind: "unknown_item", Message: err.Error()}
	case errors.Is(err, catalog.ErrItemExists):
		return apiError{Status: http.StatusConflict, Kind: "item_exists", Message: err.Error()}
	case errors.Is(err, invoice.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return apiError{Status: http.StatusNotFound, Kind: "not_found", Message: err.Error()}
	}
	return apiError{Status: http.StatusInternalServerError, Kind: "internal", Message: "internal server error"}
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		if fe.Tag() == decimalTag {
			intDigits, places, _ := strings.Cut(fe.Param(), ".")
			parts = append(parts, fmt.Sprintf("%s: must have at most %s integer digits and %s decimal places", ns, intDigits, places))
			continue
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", ns, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", ns, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	out := classify(err)
	if out.Status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, r, out.Status, out.encode)
}
