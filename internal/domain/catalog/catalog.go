// Package catalog manages the items a laundry bills for and the pricing
// rates attached to them.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

// ErrNotFound is returned when a requested item or rate does not exist.
var ErrNotFound = errors.New("not found")

var (
	// ErrItemNameRequired is returned when creating an item without a name.
	ErrItemNameRequired = errors.New("item name is required")
	// ErrUnknownItem is returned when a rate references an item that does not exist.
	ErrUnknownItem = errors.New("item does not exist")
	// ErrItemExists is returned when an item name is already taken.
	ErrItemExists = errors.New("item already exists")
)

// Item is a billable garment or household article. Inactive items are left
// out of active listings but stay referenced by existing invoices.
type Item struct {
	ID          string
	Name        string
	Description string
	Active      bool
}

// RateFilter narrows a rate listing. Zero values do not filter.
type RateFilter struct {
	ItemID     string
	Model      pricing.Model
	ActiveOnly bool
}

// RateDefinitionError indicates a pricing rate that would be unusable by the
// pricing engine.
type RateDefinitionError struct {
	Field  string
	Reason string
}

func (e *RateDefinitionError) Error() string {
	return fmt.Sprintf("invalid pricing rate: %s %s", e.Field, e.Reason)
}

// ItemRepository defines persistence operations for items.
type ItemRepository interface {
	ListItems(ctx context.Context, activeOnly bool) ([]Item, error)
	CreateItem(ctx context.Context, item *Item) error
	// UpdateItem replaces the name, description and active flag of an
	// existing item.
	UpdateItem(ctx context.Context, item *Item) error
}

// RateRepository defines persistence operations for pricing rates.
type RateRepository interface {
	ListRates(ctx context.Context, filter RateFilter) ([]pricing.Rate, error)
	// GetRatesByIDs returns the rates matching ids. Unknown ids are skipped.
	GetRatesByIDs(ctx context.Context, ids []string) ([]pricing.Rate, error)
	CreateRate(ctx context.Context, rate *pricing.Rate) error
	// UpdateRate replaces model, prices and the active flag of an existing
	// rate. The item binding is immutable.
	UpdateRate(ctx context.Context, rate *pricing.Rate) error
	DeactivateRate(ctx context.Context, id string) error
}

// Rate prices are stored as NUMERIC(12, 4).
const (
	pricePrecision = 12
	priceScale     = 4
)

var errPriceRange = fmt.Sprintf("must have at most %d integer digits and %d decimal places",
	pricePrecision-priceScale, priceScale)

// ValidateRate checks that rate can be used to price lines and clears the
// price field that does not belong to its model.
func ValidateRate(rate *pricing.Rate) error {
	if !rate.Model.Valid() {
		return &RateDefinitionError{Field: "pricing model", Reason: fmt.Sprintf("%q is not supported", rate.Model)}
	}

	switch rate.Model {
	case pricing.ModelItemized:
		if !rate.UnitPrice.Valid || !rate.UnitPrice.Decimal.IsPositive() {
			return &RateDefinitionError{Field: "unit price", Reason: "must be greater than zero"}
		}
		if !pricing.FitsPrecision(rate.UnitPrice.Decimal, pricePrecision, priceScale) {
			return &RateDefinitionError{Field: "unit price", Reason: errPriceRange}
		}
		rate.PricePerKg = decimal.NullDecimal{}
	case pricing.ModelWeighted:
		if !rate.PricePerKg.Valid || !rate.PricePerKg.Decimal.IsPositive() {
			return &RateDefinitionError{Field: "price per kg", Reason: "must be greater than zero"}
		}
		if !pricing.FitsPrecision(rate.PricePerKg.Decimal, pricePrecision, priceScale) {
			return &RateDefinitionError{Field: "price per kg", Reason: errPriceRange}
		}
		rate.UnitPrice = decimal.NullDecimal{}
	}
	return nil
}
