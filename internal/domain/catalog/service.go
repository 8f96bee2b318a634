package catalog

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

// Service encapsulates item and pricing rate management.
type Service struct {
	items ItemRepository
	rates RateRepository
}

// NewService creates a catalog Service.
func NewService(items ItemRepository, rates RateRepository) *Service {
	return &Service{items: items, rates: rates}
}

// ListItems returns items ordered by name.
func (s *Service) ListItems(ctx context.Context, activeOnly bool) ([]Item, error) {
	items, err := s.items.ListItems(ctx, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	return items, nil
}

// CreateItem stores a new active item.
func (s *Service) CreateItem(ctx context.Context, item Item) (*Item, error) {
	if err := normalizeItem(&item); err != nil {
		return nil, err
	}
	item.Active = true

	if err := s.items.CreateItem(ctx, &item); err != nil {
		if errors.Is(err, ErrItemExists) {
			return nil, ErrItemExists
		}
		return nil, errors.Wrap(err, "create item")
	}
	return &item, nil
}

// UpdateItem renames an item, replaces its description or toggles it.
func (s *Service) UpdateItem(ctx context.Context, item Item) (*Item, error) {
	if err := normalizeItem(&item); err != nil {
		return nil, err
	}

	if err := s.items.UpdateItem(ctx, &item); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, ErrItemExists):
			return nil, ErrItemExists
		}
		return nil, errors.Wrapf(err, "update item %q", item.ID)
	}
	return &item, nil
}

func normalizeItem(item *Item) error {
	item.Name = strings.TrimSpace(item.Name)
	item.Description = strings.TrimSpace(item.Description)
	if item.Name == "" {
		return ErrItemNameRequired
	}
	return nil
}

// ListRates returns rates matching filter.
func (s *Service) ListRates(ctx context.Context, filter RateFilter) ([]pricing.Rate, error) {
	rates, err := s.rates.ListRates(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list rates")
	}
	return rates, nil
}

// GetRatesByIDs resolves rate identifiers for invoice pricing.
func (s *Service) GetRatesByIDs(ctx context.Context, ids []string) ([]pricing.Rate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.rates.GetRatesByIDs(ctx, ids)
}

// CreateRate validates and stores a new pricing rate.
func (s *Service) CreateRate(ctx context.Context, rate pricing.Rate) (*pricing.Rate, error) {
	if rate.ItemID == "" {
		return nil, &RateDefinitionError{Field: "item", Reason: "is required"}
	}
	if err := ValidateRate(&rate); err != nil {
		return nil, err
	}
	if err := s.rates.CreateRate(ctx, &rate); err != nil {
		if errors.Is(err, ErrUnknownItem) {
			return nil, ErrUnknownItem
		}
		return nil, errors.Wrap(err, "create rate")
	}
	return &rate, nil
}

// UpdateRate validates and replaces the model, prices and active flag of an
// existing pricing rate. The returned rate carries the stored item binding.
func (s *Service) UpdateRate(ctx context.Context, rate pricing.Rate) (*pricing.Rate, error) {
	if rate.ID == "" {
		return nil, ErrNotFound
	}
	if err := ValidateRate(&rate); err != nil {
		return nil, err
	}
	if err := s.rates.UpdateRate(ctx, &rate); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "update rate %s", rate.ID)
	}
	return &rate, nil
}

// DeactivateRate disables a rate. Rates are never hard-deleted because
// persisted invoice lines reference them.
func (s *Service) DeactivateRate(ctx context.Context, id string) error {
	if err := s.rates.DeactivateRate(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "deactivate rate %s", id)
	}
	return nil
}
