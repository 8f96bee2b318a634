package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20
	// maxDecimalLen bounds the textual length of a decimal input, which keeps
	// its coefficient small. Range checks happen during validation.
	maxDecimalLen = 40
)

// errMalformed marks request bodies that are not valid JSON for the endpoint.
var errMalformed = errors.New("malformed request body")

type malformedError struct {
	err error
}

func (e *malformedError) Error() string { return errMalformed.Error() + ": " + e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }
func (e *malformedError) Is(target error) bool {
	return target == errMalformed
}

// decodeObject reads a single JSON object from the request body, invoking
// field for every key. Unknown keys must be skipped by field.
func decodeObject(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return &malformedError{err: err}
	}
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return &malformedError{err: errors.New("expected JSON object")}
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		return &malformedError{err: err}
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string. Null yields an
// invalid NullDecimal.
func decodeDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return decimal.NullDecimal{}, d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
		raw = s
	default:
		return decimal.NullDecimal{}, errors.Errorf("expected number, got %s", d.Next())
	}

	if len(raw) > maxDecimalLen {
		return decimal.NullDecimal{}, errors.Errorf("number longer than %d characters", maxDecimalLen)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrapf(err, "parse %q", raw)
	}
	return decimal.NewNullDecimal(v), nil
}

func decodeOptBool(d *jx.Decoder) (*bool, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Bool()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// writeJSON encodes a response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

// money encodes an amount rounded to cents with both places kept.
func money(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.StringFixed(2))
}

// optDecimal encodes an exact decimal or null.
func optDecimal(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	e.Str(v.Decimal.String())
}

func optString(e *jx.Encoder, v string) {
	if v == "" {
		e.Null()
		return
	}
	e.Str(v)
}
