// Package handler exposes the catalog and invoice services over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/invoice"
)

// Handler serves the JSON API, delegating business logic to the catalog and
// invoice services.
type Handler struct {
	catalog  *catalog.Service
	invoices *invoice.Service
	validate *validator.Validate
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(catalogService *catalog.Service, invoiceService *invoice.Service) *Handler {
	return &Handler{
		catalog:  catalogService,
		invoices: invoiceService,
		validate: newValidator(),
	}
}

// Routes returns a router serving every API endpoint under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Put("/{id}", h.UpdateItem)
		})
		r.Route("/rates", func(r chi.Router) {
			r.Get("/", h.ListRates)
			r.Post("/", h.CreateRate)
			r.Put("/{id}", h.UpdateRate)
			r.Delete("/{id}", h.DeactivateRate)
		})
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Post("/quote", h.QuoteInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Patch("/{id}/status", h.UpdateInvoiceStatus)
		})
	})
	return r
}
