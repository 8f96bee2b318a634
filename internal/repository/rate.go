package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

const (
	rateColumns = `id, item_id, pricing_model, unit_price, price_per_kg, is_active`

	listRatesSQL = `SELECT ` + rateColumns + ` FROM pricing_rates
		WHERE ($1::uuid IS NULL OR item_id = $1)
			AND ($2::text = '' OR pricing_model = $2)
			AND (is_active OR NOT $3)
		ORDER BY item_id, pricing_model, created_at`

	getRatesByIDsSQL = `SELECT ` + rateColumns + ` FROM pricing_rates WHERE id = ANY($1)`

	createRateSQL = `INSERT INTO pricing_rates (item_id, pricing_model, unit_price, price_per_kg, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	updateRateSQL = `UPDATE pricing_rates
		SET pricing_model = $2, unit_price = $3, price_per_kg = $4, is_active = $5, updated_at = now()
		WHERE id = $1
		RETURNING item_id`

	deactivateRateSQL = `UPDATE pricing_rates SET is_active = FALSE, updated_at = now() WHERE id = $1`

	// upsertRateSQL reprices the active rates for an (item, model) pair or
	// inserts one when none exists. Every touched rate is returned with a
	// flag telling whether it was inserted.
	upsertRateSQL = `WITH updated AS (
			UPDATE pricing_rates
			SET unit_price = $3::numeric, price_per_kg = $4::numeric, updated_at = now()
			WHERE item_id = $1::uuid AND pricing_model = $2::text AND is_active
			RETURNING id
		), inserted AS (
			INSERT INTO pricing_rates (item_id, pricing_model, unit_price, price_per_kg)
			SELECT $1::uuid, $2::text, $3::numeric, $4::numeric
			WHERE NOT EXISTS (SELECT 1 FROM updated)
			RETURNING id
		)
		SELECT id, FALSE FROM updated
		UNION ALL
		SELECT id, TRUE FROM inserted`
)

var _ catalog.RateRepository = (*RateRepository)(nil)

// RateRepository implements catalog.RateRepository backed by PostgreSQL.
type RateRepository struct {
	pool *pgxpool.Pool
}

// NewRateRepository returns a RateRepository that uses the given pool.
func NewRateRepository(pool *pgxpool.Pool) *RateRepository {
	return &RateRepository{pool: pool}
}

// ListRates returns rates matching filter.
func (r *RateRepository) ListRates(ctx context.Context, filter catalog.RateFilter) ([]pricing.Rate, error) {
	if filter.ItemID != "" {
		itemID, ok := canonicalUUID(filter.ItemID)
		if !ok {
			return []pricing.Rate{}, nil
		}
		filter.ItemID = itemID
	}

	rows, err := r.pool.Query(ctx, listRatesSQL,
		nullText(filter.ItemID), string(filter.Model), filter.ActiveOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rates: %w", err)
	}
	return pgx.CollectRows(rows, scanRate)
}

// GetRatesByIDs returns rates matching any of the given IDs, active or not.
func (r *RateRepository) GetRatesByIDs(ctx context.Context, ids []string) ([]pricing.Rate, error) {
	ids = canonicalUUIDs(ids)
	if len(ids) == 0 {
		return []pricing.Rate{}, nil
	}

	rows, err := r.pool.Query(ctx, getRatesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting rates by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanRate)
}

// CreateRate inserts rate and sets its generated ID.
func (r *RateRepository) CreateRate(ctx context.Context, rate *pricing.Rate) error {
	itemID, ok := canonicalUUID(rate.ItemID)
	if !ok {
		return fmt.Errorf("creating rate for item %q: %w", rate.ItemID, catalog.ErrUnknownItem)
	}
	rate.ItemID = itemID

	err := r.pool.QueryRow(ctx, createRateSQL,
		rate.ItemID, string(rate.Model), rate.UnitPrice, rate.PricePerKg, rate.Active,
	).Scan(&rate.ID)
	if err != nil {
		if pgErrorCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("creating rate for item %q: %w", rate.ItemID, catalog.ErrUnknownItem)
		}
		return fmt.Errorf("creating rate for item %q: %w", rate.ItemID, err)
	}
	return nil
}

// UpdateRate replaces the model, prices and active flag of rate and loads
// the stored item binding into rate.ItemID.
func (r *RateRepository) UpdateRate(ctx context.Context, rate *pricing.Rate) error {
	id, ok := canonicalUUID(rate.ID)
	if !ok {
		return catalog.ErrNotFound
	}
	rate.ID = id

	err := r.pool.QueryRow(ctx, updateRateSQL,
		rate.ID, string(rate.Model), rate.UnitPrice, rate.PricePerKg, rate.Active,
	).Scan(&rate.ItemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ErrNotFound
		}
		return fmt.Errorf("updating rate %q: %w", rate.ID, err)
	}
	return nil
}

// DeactivateRate marks a rate inactive. Rates stay referenced by invoice
// lines and are never deleted.
func (r *RateRepository) DeactivateRate(ctx context.Context, id string) error {
	id, ok := canonicalUUID(id)
	if !ok {
		return catalog.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, deactivateRateSQL, id)
	if err != nil {
		return fmt.Errorf("deactivating rate %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// UpsertRate sets the price of the active rate for itemID and model, creating
// the rate when none exists. It returns the ids of the repriced rates, or the
// id of the new rate with inserted set.
func (r *RateRepository) UpsertRate(ctx context.Context, itemID string, model pricing.Model, price decimal.Decimal) (ids []string, inserted bool, err error) {
	var unit, perKg decimal.NullDecimal
	switch model {
	case pricing.ModelItemized:
		unit = decimal.NewNullDecimal(price)
	case pricing.ModelWeighted:
		perKg = decimal.NewNullDecimal(price)
	default:
		return nil, false, errors.Errorf("unsupported pricing model %q", model)
	}

	rows, err := r.pool.Query(ctx, upsertRateSQL, itemID, string(model), unit, perKg)
	if err != nil {
		return nil, false, fmt.Errorf("upserting %s rate for item %q: %w", model, itemID, err)
	}
	var (
		id    string
		isNew bool
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &isNew}, func() error {
		ids = append(ids, id)
		inserted = inserted || isNew
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("upserting %s rate for item %q: %w", model, itemID, err)
	}
	return ids, inserted, nil
}

func scanRate(row pgx.CollectableRow) (pricing.Rate, error) {
	var (
		rt    pricing.Rate
		model string
	)
	err := row.Scan(&rt.ID, &rt.ItemID, &model, &rt.UnitPrice, &rt.PricePerKg, &rt.Active)
	rt.Model = pricing.Model(model)
	return rt, err
}
