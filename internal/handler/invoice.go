package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/laundry-billing/internal/domain/invoice"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

type customerRequest struct {
	Name  string `validate:"max=200"`
	Phone string `validate:"max=32"`
	Email string `validate:"omitempty,email,max=254"`
}

type lineRequest struct {
	Type     string
	ItemID   string
	RateID   string
	Quantity decimal.NullDecimal
	WeightKg decimal.NullDecimal
}

type invoiceRequest struct {
	BranchID string `validate:"max=64"`
	Customer customerRequest
	Notes    string `validate:"max=2000"`
	Discount decimal.NullDecimal
	Lines    []lineRequest `validate:"max=200,dive"`
}

type statusRequest struct {
	Status string `validate:"required"`
}

// QuoteInvoice handles POST /api/invoices/quote. It prices the lines exactly
// as CreateInvoice would but stores nothing.
func (h *Handler) QuoteInvoice(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeInvoiceRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	quote, err := h.invoices.Quote(r.Context(), req.draftLines(), req.discount())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("lines")
		encodeLines(e, quote.Lines)
		encodeTotals(e, quote.Totals)
		e.ObjEnd()
	})
}

// CreateInvoice handles POST /api/invoices.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeInvoiceRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	inv, err := h.invoices.Create(r.Context(), invoice.CreateRequest{
		BranchID: req.BranchID,
		Customer: invoice.Customer{
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
			Email: req.Customer.Email,
		},
		Notes:    req.Notes,
		Discount: req.discount(),
		Lines:    req.draftLines(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/invoices/"+inv.ID)
	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) { encodeInvoice(e, inv) })
}

// ListInvoices handles GET /api/invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, &malformedError{err: err})
			return
		}
		limit = v
	}

	summaries, err := h.invoices.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, s := range summaries {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(s.ID)
			e.FieldStart("invoiceNumber")
			e.Str(s.Number)
			e.FieldStart("customerName")
			e.Str(s.CustomerName)
			encodeTotals(e, s.Totals)
			e.FieldStart("status")
			e.Str(string(s.Status))
			e.FieldStart("createdAt")
			e.Str(s.CreatedAt.UTC().Format(time.RFC3339))
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// GetInvoice handles GET /api/invoices/{id}.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeInvoice(e, inv) })
}

// UpdateInvoiceStatus handles PATCH /api/invoices/{id}/status.
func (h *Handler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			var err error
			req.Status, err = d.Str()
			return err
		}
		return d.Skip()
	})
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.invoices.UpdateStatus(r.Context(), chi.URLParam(r, "id"), invoice.Status(req.Status)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeInvoiceRequest(r *http.Request) (*invoiceRequest, error) {
	var req invoiceRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "branchId":
			req.BranchID, err = d.Str()
		case "customer":
			err = req.Customer.decode(d)
		case "notes":
			req.Notes, err = d.Str()
		case "discount":
			req.Discount, err = decodeDecimal(d)
		case "lines":
			err = d.Arr(func(d *jx.Decoder) error {
				var l lineRequest
				if err := l.decode(d); err != nil {
					return err
				}
				req.Lines = append(req.Lines, l)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *customerRequest) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "name":
			c.Name, err = d.Str()
		case "phone":
			c.Phone, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func (l *lineRequest) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "lineType":
			l.Type, err = d.Str()
		case "itemId":
			l.ItemID, err = d.Str()
		case "rateId":
			l.RateID, err = d.Str()
		case "quantity":
			l.Quantity, err = decodeDecimal(d)
		case "weightKg":
			l.WeightKg, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

func (req *invoiceRequest) draftLines() []pricing.DraftLine {
	out := make([]pricing.DraftLine, len(req.Lines))
	for i, l := range req.Lines {
		out[i] = pricing.DraftLine{
			Type:     pricing.Model(l.Type),
			ItemID:   l.ItemID,
			RateID:   l.RateID,
			Quantity: l.Quantity,
			WeightKg: l.WeightKg,
		}
	}
	return out
}

// discount treats a missing discount as zero.
func (req *invoiceRequest) discount() decimal.Decimal {
	if !req.Discount.Valid {
		return decimal.Zero
	}
	return req.Discount.Decimal
}

func encodeInvoice(e *jx.Encoder, inv *invoice.Invoice) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(inv.ID)
	e.FieldStart("invoiceNumber")
	e.Str(inv.Number)
	e.FieldStart("branchId")
	optString(e, inv.BranchID)
	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(inv.Customer.Name)
	e.FieldStart("phone")
	optString(e, inv.Customer.Phone)
	e.FieldStart("email")
	optString(e, inv.Customer.Email)
	e.ObjEnd()
	e.FieldStart("notes")
	optString(e, inv.Notes)
	e.FieldStart("status")
	e.Str(string(inv.Status))
	e.FieldStart("createdAt")
	e.Str(inv.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("lines")
	encodeLines(e, inv.Lines)
	encodeTotals(e, inv.Totals)
	e.ObjEnd()
}

func encodeLines(e *jx.Encoder, lines []pricing.Line) {
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("lineType")
		e.Str(string(l.Type))
		e.FieldStart("itemId")
		e.Str(l.ItemID)
		e.FieldStart("rateId")
		e.Str(l.RateID)
		e.FieldStart("quantity")
		optDecimal(e, l.Quantity)
		e.FieldStart("weightKg")
		optDecimal(e, l.WeightKg)
		e.FieldStart("unitPrice")
		optDecimal(e, l.UnitPrice)
		e.FieldStart("pricePerKg")
		optDecimal(e, l.PricePerKg)
		e.FieldStart("lineTotal")
		money(e, l.Total)
		e.ObjEnd()
	}
	e.ArrEnd()
}

// encodeTotals writes the totals fields into the enclosing object.
func encodeTotals(e *jx.Encoder, t pricing.Totals) {
	e.FieldStart("subtotal")
	money(e, t.Subtotal)
	e.FieldStart("discount")
	money(e, t.Discount)
	e.FieldStart("total")
	money(e, t.Total)
}
