// Package cache provides a Redis read-through cache for pricing rates.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

const keyPrefix = "rate:"

var _ catalog.RateRepository = (*RateCache)(nil)

// RateCache decorates a catalog.RateRepository with a Redis cache for rate
// lookups by ID. Writes go to the underlying repository and evict the
// affected keys. Redis failures are logged and fall through to the
// repository.
type RateCache struct {
	next   catalog.RateRepository
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRateCache wraps next with a cache stored in client.
func NewRateCache(next catalog.RateRepository, client redis.UniversalClient, ttl time.Duration) *RateCache {
	return &RateCache{next: next, client: client, ttl: ttl}
}

// rateKey maps every spelling of a UUID to one key. Other ids are used as is.
func rateKey(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return keyPrefix + u.String()
	}
	return keyPrefix + id
}

// GetRatesByIDs serves cached rates and fetches the misses from the
// underlying repository in one call, backfilling the cache.
func (c *RateCache) GetRatesByIDs(ctx context.Context, ids []string) ([]pricing.Rate, error) {
	if len(ids) == 0 {
		return c.next.GetRatesByIDs(ctx, ids)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rateKey(id)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		zctx.From(ctx).Warn("Rate cache read failed", zap.Error(err))
		return c.next.GetRatesByIDs(ctx, ids)
	}

	out := make([]pricing.Rate, 0, len(ids))
	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		rate, err := DecodeRate([]byte(s))
		if err != nil {
			zctx.From(ctx).Warn("Dropping corrupt cached rate",
				zap.String("rate_id", ids[i]),
				zap.Error(err),
			)
			missing = append(missing, ids[i])
			continue
		}
		out = append(out, rate)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.next.GetRatesByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.store(ctx, fetched)
	return append(out, fetched...), nil
}

func (c *RateCache) store(ctx context.Context, rates []pricing.Rate) {
	if len(rates) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for _, r := range rates {
		pipe.Set(ctx, rateKey(r.ID), EncodeRate(r), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		zctx.From(ctx).Warn("Rate cache backfill failed", zap.Error(err))
	}
}

// Invalidate evicts the given rates from the cache.
func (c *RateCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rateKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "evict rates")
	}
	return nil
}

func (c *RateCache) evict(ctx context.Context, id string) {
	if err := c.Invalidate(ctx, id); err != nil {
		zctx.From(ctx).Warn("Rate cache eviction failed",
			zap.String("rate_id", id),
			zap.Error(err),
		)
	}
}

// ListRates is not cached.
func (c *RateCache) ListRates(ctx context.Context, filter catalog.RateFilter) ([]pricing.Rate, error) {
	return c.next.ListRates(ctx, filter)
}

func (c *RateCache) CreateRate(ctx context.Context, rate *pricing.Rate) error {
	return c.next.CreateRate(ctx, rate)
}

func (c *RateCache) UpdateRate(ctx context.Context, rate *pricing.Rate) error {
	if err := c.next.UpdateRate(ctx, rate); err != nil {
		return err
	}
	c.evict(ctx, rate.ID)
	return nil
}

func (c *RateCache) DeactivateRate(ctx context.Context, id string) error {
	if err := c.next.DeactivateRate(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

// EncodeRate serializes a rate for storage. Prices are written as decimal
// strings to keep them exact.
func EncodeRate(r pricing.Rate) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.ID)
	e.FieldStart("item_id")
	e.Str(r.ItemID)
	e.FieldStart("model")
	e.Str(string(r.Model))
	e.FieldStart("unit_price")
	encodeNullDecimal(&e, r.UnitPrice)
	e.FieldStart("price_per_kg")
	encodeNullDecimal(&e, r.PricePerKg)
	e.FieldStart("active")
	e.Bool(r.Active)
	e.ObjEnd()
	return e.Bytes()
}

// DecodeRate parses a rate written by EncodeRate.
func DecodeRate(data []byte) (pricing.Rate, error) {
	var r pricing.Rate
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			r.ID, err = d.Str()
		case "item_id":
			r.ItemID, err = d.Str()
		case "model":
			var m string
			m, err = d.Str()
			r.Model = pricing.Model(m)
		case "unit_price":
			r.UnitPrice, err = decodeNullDecimal(d)
		case "price_per_kg":
			r.PricePerKg, err = decodeNullDecimal(d)
		case "active":
			r.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return pricing.Rate{}, errors.Wrap(err, "decode rate")
	}
	if r.ID == "" {
		return pricing.Rate{}, errors.New("decode rate: missing id")
	}
	return r, nil
}

func encodeNullDecimal(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	e.Str(v.Decimal.String())
}

func decodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}
