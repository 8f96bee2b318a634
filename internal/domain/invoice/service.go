package invoice

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// Stored amounts are NUMERIC(12, 2).
	amountPrecision = 12
	amountScale     = 2
)

// CreateRequest holds the input for creating an invoice.
type CreateRequest struct {
	BranchID string
	Customer Customer
	Notes    string
	// Discount is the user-entered discount; it is clamped, never rejected.
	Discount decimal.Decimal
	Lines    []pricing.DraftLine
}

// Quote is a priced set of lines that has not been persisted.
type Quote struct {
	Lines  []pricing.Line
	Totals pricing.Totals
}

// Service implements the invoice creation workflow around the pricing engine.
type Service struct {
	rates    RateResolver
	invoices Repository

	created  metric.Int64Counter
	rejected metric.Int64Counter
	amount   metric.Float64Counter
}

// NewService creates an invoice Service.
func NewService(rates RateResolver, invoices Repository, mp metric.MeterProvider) (*Service, error) {
	meter := mp.Meter("github.com/xenking/laundry-billing/internal/domain/invoice")

	created, err := meter.Int64Counter("invoice.created",
		metric.WithDescription("Invoices persisted"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	rejected, err := meter.Int64Counter("invoice.rejected",
		metric.WithDescription("Invoice requests rejected by validation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	amount, err := meter.Float64Counter("invoice.amount",
		metric.WithDescription("Sum of invoice totals"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}

	return &Service{
		rates:    rates,
		invoices: invoices,
		created:  created,
		rejected: rejected,
		amount:   amount,
	}, nil
}

// Quote resolves the rates referenced by lines, prices every line and
// aggregates the totals without persisting anything. The first failing line
// aborts the quote.
func (s *Service) Quote(ctx context.Context, lines []pricing.DraftLine, discount decimal.Decimal) (*Quote, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyLines
	}
	lines = canonicalLines(lines)
	for i, l := range lines {
		if l.ItemID == "" || l.RateID == "" {
			return nil, &IncompleteLineError{Index: i}
		}
	}

	rates, err := s.resolveRates(ctx, lines)
	if err != nil {
		return nil, err
	}

	computed := make([]pricing.Line, len(lines))
	for i, draft := range lines {
		rate, ok := rates[draft.RateID]
		if !ok {
			return nil, &UnknownRateError{Index: i, RateID: draft.RateID}
		}
		line, err := pricing.ComputeLine(draft, rate)
		if err != nil {
			return nil, &LineError{Index: i, Err: err}
		}
		if !pricing.FitsPrecision(line.Total, amountPrecision, amountScale) {
			return nil, &LineError{Index: i, Err: ErrAmountOutOfRange}
		}
		computed[i] = line
	}

	totals := pricing.ComputeTotals(pricing.LineTotals(computed), discount)
	if !pricing.FitsPrecision(totals.Subtotal, amountPrecision, amountScale) {
		return nil, ErrAmountOutOfRange
	}
	return &Quote{Lines: computed, Totals: totals}, nil
}

// Create validates the request, prices it and persists the invoice with its
// lines. Nothing is stored unless every line prices successfully.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Invoice, error) {
	inv, err := s.create(ctx, req)
	if err != nil {
		s.recordRejection(ctx, err)
		return nil, err
	}

	s.created.Add(ctx, 1)
	s.amount.Add(ctx, inv.Totals.Total.InexactFloat64())
	zctx.From(ctx).Info("Invoice created",
		zap.String("invoice_id", inv.ID),
		zap.String("number", inv.Number),
		zap.Int("lines", len(inv.Lines)),
		zap.Stringer("total", inv.Totals.Total),
	)
	return inv, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*Invoice, error) {
	customer := Customer{
		Name:  strings.TrimSpace(req.Customer.Name),
		Phone: strings.TrimSpace(req.Customer.Phone),
		Email: strings.TrimSpace(req.Customer.Email),
	}
	if customer.Name == "" {
		return nil, ErrCustomerRequired
	}

	quote, err := s.Quote(ctx, req.Lines, req.Discount)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		ID:       uuid.New().String(),
		BranchID: strings.TrimSpace(req.BranchID),
		Customer: customer,
		Notes:    strings.TrimSpace(req.Notes),
		Lines:    quote.Lines,
		Totals:   quote.Totals,
		Status:   StatusReceived,
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}
	return inv, nil
}

// Get returns a single invoice with its lines.
func (s *Service) Get(ctx context.Context, id string) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get invoice %s", id)
	}
	return inv, nil
}

// ListRecent returns the newest invoices first. limit is clamped to [1, 100];
// zero selects the default page size.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]Summary, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	out, err := s.invoices.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	return out, nil
}

// UpdateStatus moves an invoice to the given status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := s.invoices.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "update invoice %s status", id)
	}
	return nil
}

// canonicalLines returns lines with UUID identifiers in their canonical
// lowercase hyphenated form, so that ids spelled with braces, a urn prefix or
// upper case match the stored rates. Other ids are left as they are.
func canonicalLines(lines []pricing.DraftLine) []pricing.DraftLine {
	out := make([]pricing.DraftLine, len(lines))
	for i, l := range lines {
		l.ItemID = canonicalID(l.ItemID)
		l.RateID = canonicalID(l.RateID)
		out[i] = l
	}
	return out
}

func canonicalID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

// resolveRates fetches every distinct rate referenced by lines in one call.
func (s *Service) resolveRates(ctx context.Context, lines []pricing.DraftLine) (map[string]pricing.Rate, error) {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.RateID]; ok {
			continue
		}
		seen[l.RateID] = struct{}{}
		ids = append(ids, l.RateID)
	}

	fetched, err := s.rates.GetRatesByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get pricing rates")
	}

	byID := make(map[string]pricing.Rate, len(fetched))
	for _, r := range fetched {
		byID[r.ID] = r
	}
	return byID, nil
}

func (s *Service) recordRejection(ctx context.Context, err error) {
	reason := rejectionReason(err)
	if reason == "" {
		return
	}
	s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	zctx.From(ctx).Debug("Invoice rejected",
		zap.String("reason", reason),
		zap.Error(err),
	)
}

// rejectionReason classifies validation failures. It returns "" for
// infrastructure errors, which are not rejections.
func rejectionReason(err error) string {
	if kind, ok := pricing.KindOf(err); ok {
		return kind.String()
	}

	var (
		ue *UnknownRateError
		ie *IncompleteLineError
	)
	switch {
	case errors.Is(err, ErrCustomerRequired):
		return "customer_required"
	case errors.Is(err, ErrEmptyLines):
		return "empty_lines"
	case errors.As(err, &ie):
		return "incomplete_line"
	case errors.As(err, &ue):
		return "unknown_rate"
	case errors.Is(err, ErrAmountOutOfRange):
		return "amount_out_of_range"
	}
	return ""
}
