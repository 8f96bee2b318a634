package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

type itemRequest struct {
	Name        string `validate:"required,max=120"`
	Description string `validate:"max=500"`
	Active      *bool
}

type rateFields struct {
	Model      string `validate:"required,oneof=itemized weighted"`
	UnitPrice  decimal.NullDecimal
	PricePerKg decimal.NullDecimal
	Active     *bool
}

type createRateRequest struct {
	ItemID string `validate:"required,uuid"`
	rateFields
}

// ListItems handles GET /api/items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items, err := h.catalog.ListItems(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, it := range items {
			encodeItem(e, it)
		}
		e.ArrEnd()
	})
}

// CreateItem handles POST /api/items.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	err := decodeObject(r, req.decodeField)
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.catalog.CreateItem(r.Context(), catalog.Item{Name: req.Name, Description: req.Description})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) { encodeItem(e, *item) })
}

// UpdateItem handles PUT /api/items/{id}. An omitted active flag keeps the
// item active.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	err := decodeObject(r, req.decodeField)
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	active := req.Active == nil || *req.Active
	item, err := h.catalog.UpdateItem(r.Context(), catalog.Item{
		ID:          chi.URLParam(r, "id"),
		Name:        req.Name,
		Description: req.Description,
		Active:      active,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeItem(e, *item) })
}

func (req *itemRequest) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "name":
		req.Name, err = d.Str()
	case "description":
		if d.Next() == jx.Null {
			return d.Null()
		}
		req.Description, err = d.Str()
	case "active":
		req.Active, err = decodeOptBool(d)
	default:
		err = d.Skip()
	}
	return err
}

// ListRates handles GET /api/rates.
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := catalog.RateFilter{
		ItemID:     r.URL.Query().Get("itemId"),
		Model:      pricing.Model(r.URL.Query().Get("model")),
		ActiveOnly: activeOnly,
	}

	rates, err := h.catalog.ListRates(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, rt := range rates {
			encodeRate(e, rt)
		}
		e.ArrEnd()
	})
}

// CreateRate handles POST /api/rates.
func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req createRateRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "itemId" {
			var err error
			req.ItemID, err = d.Str()
			return err
		}
		return req.decodeField(d, key)
	})
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rate, err := h.catalog.CreateRate(r.Context(), req.toRate(req.ItemID, ""))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, func(e *jx.Encoder) { encodeRate(e, *rate) })
}

// UpdateRate handles PUT /api/rates/{id}.
func (h *Handler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	var req rateFields
	err := decodeObject(r, req.decodeField)
	if err == nil {
		err = h.validate.Struct(req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rate, err := h.catalog.UpdateRate(r.Context(), req.toRate("", chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) { encodeRate(e, *rate) })
}

// DeactivateRate handles DELETE /api/rates/{id}. The rate is kept for
// invoices that reference it and only marked inactive.
func (h *Handler) DeactivateRate(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeactivateRate(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *rateFields) decodeField(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "pricingModel":
		f.Model, err = d.Str()
	case "unitPrice":
		f.UnitPrice, err = decodeDecimal(d)
	case "pricePerKg":
		f.PricePerKg, err = decodeDecimal(d)
	case "active":
		f.Active, err = decodeOptBool(d)
	default:
		err = d.Skip()
	}
	return err
}

func (f rateFields) toRate(itemID, id string) pricing.Rate {
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return pricing.Rate{
		ID:         id,
		ItemID:     itemID,
		Model:      pricing.Model(f.Model),
		UnitPrice:  f.UnitPrice,
		PricePerKg: f.PricePerKg,
		Active:     active,
	}
}

func encodeItem(e *jx.Encoder, it catalog.Item) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("name")
	e.Str(it.Name)
	e.FieldStart("description")
	e.Str(it.Description)
	e.FieldStart("active")
	e.Bool(it.Active)
	e.ObjEnd()
}

func encodeRate(e *jx.Encoder, rt pricing.Rate) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(rt.ID)
	e.FieldStart("itemId")
	e.Str(rt.ItemID)
	e.FieldStart("pricingModel")
	e.Str(string(rt.Model))
	e.FieldStart("unitPrice")
	optDecimal(e, rt.UnitPrice)
	e.FieldStart("pricePerKg")
	optDecimal(e, rt.PricePerKg)
	e.FieldStart("active")
	e.Bool(rt.Active)
	e.ObjEnd()
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &malformedError{err: err}
	}
	return v, nil
}
