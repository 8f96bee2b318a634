package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

type fakeRates struct {
	rates map[string]pricing.Rate
	calls [][]string
}

func (f *fakeRates) ListRates(context.Context, catalog.RateFilter) ([]pricing.Rate, error) {
	return nil, nil
}

func (f *fakeRates) GetRatesByIDs(_ context.Context, ids []string) ([]pricing.Rate, error) {
	f.calls = append(f.calls, ids)
	var out []pricing.Rate
	for _, id := range ids {
		if r, ok := f.rates[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRates) CreateRate(_ context.Context, rate *pricing.Rate) error {
	f.rates[rate.ID] = *rate
	return nil
}

func (f *fakeRates) UpdateRate(_ context.Context, rate *pricing.Rate) error {
	f.rates[rate.ID] = *rate
	return nil
}

func (f *fakeRates) DeactivateRate(_ context.Context, id string) error {
	r := f.rates[id]
	r.Active = false
	f.rates[id] = r
	return nil
}

func newTestCache(t *testing.T) (*RateCache, *fakeRates, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	next := &fakeRates{rates: map[string]pricing.Rate{
		"shirt": {
			ID: "shirt", ItemID: "item-shirt", Model: pricing.ModelItemized,
			UnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.005")), Active: true,
		},
		"duvet": {
			ID: "duvet", ItemID: "item-duvet", Model: pricing.ModelWeighted,
			PricePerKg: decimal.NewNullDecimal(decimal.RequireFromString("120.50")), Active: true,
		},
	}}
	return NewRateCache(next, client, time.Minute), next, mr
}

func TestRateCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	c, next, mr := newTestCache(t)

	got, err := c.GetRatesByIDs(ctx, []string{"shirt", "ghost"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, mr.Exists("rate:shirt"))
	assert.False(t, mr.Exists("rate:ghost"))
	assert.Equal(t, time.Minute, mr.TTL("rate:shirt"))

	got, err = c.GetRatesByIDs(ctx, []string{"shirt", "duvet"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, next.calls, 2)
	assert.Equal(t, []string{"duvet"}, next.calls[1], "only misses reach the repository")

	got, err = c.GetRatesByIDs(ctx, []string{"shirt", "duvet"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, next.calls, 2, "fully cached lookup")
}

func TestRateCache_EvictsOnWrite(t *testing.T) {
	ctx := context.Background()
	c, next, mr := newTestCache(t)

	_, err := c.GetRatesByIDs(ctx, []string{"shirt", "duvet"})
	require.NoError(t, err)
	require.True(t, mr.Exists("rate:duvet"))

	require.NoError(t, c.DeactivateRate(ctx, "duvet"))
	assert.False(t, mr.Exists("rate:duvet"))

	got, err := c.GetRatesByIDs(ctx, []string{"duvet"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Active)

	upd := next.rates["shirt"]
	upd.UnitPrice = decimal.NewNullDecimal(decimal.NewFromInt(12))
	require.NoError(t, c.UpdateRate(ctx, &upd))
	assert.False(t, mr.Exists("rate:shirt"))
}

func TestRateCache_UUIDSpellingsShareKey(t *testing.T) {
	ctx := context.Background()
	c, next, mr := newTestCache(t)

	const id = "0b5e4c2a-8f3d-4d6e-9a1b-2c3d4e5f6a7b"
	next.rates[id] = pricing.Rate{
		ID: id, ItemID: "item-shirt", Model: pricing.ModelItemized,
		UnitPrice: decimal.NewNullDecimal(decimal.NewFromInt(10)), Active: true,
	}

	_, err := c.GetRatesByIDs(ctx, []string{id})
	require.NoError(t, err)
	require.True(t, mr.Exists("rate:"+id))

	got, err := c.GetRatesByIDs(ctx, []string{"{0B5E4C2A-8F3D-4D6E-9A1B-2C3D4E5F6A7B}"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, next.calls, 1, "braced upper-case id hits the cached entry")

	require.NoError(t, c.Invalidate(ctx, "urn:uuid:"+id))
	assert.False(t, mr.Exists("rate:"+id))

	require.NoError(t, c.Invalidate(ctx, "0b5e4c2a8f3d4d6e9a1b2c3d4e5f6a7b"))
}

func TestRateCache_DegradesWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	c, next, mr := newTestCache(t)
	mr.Close()

	got, err := c.GetRatesByIDs(ctx, []string{"shirt"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, next.calls, 1)

	require.NoError(t, c.DeactivateRate(ctx, "shirt"), "eviction failure is not fatal")
}

func TestRateCache_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, next, mr := newTestCache(t)
	require.NoError(t, mr.Set("rate:shirt", "{not json"))

	got, err := c.GetRatesByIDs(ctx, []string{"shirt"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, next.calls, 1)
}

func TestEncodeDecodeRate(t *testing.T) {
	in := pricing.Rate{
		ID:        "r1",
		ItemID:    "i1",
		Model:     pricing.ModelItemized,
		UnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.005")),
		Active:    true,
	}

	out, err := DecodeRate(EncodeRate(in))
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Model, out.Model)
	assert.True(t, out.UnitPrice.Valid)
	assert.True(t, out.UnitPrice.Decimal.Equal(in.UnitPrice.Decimal))
	assert.False(t, out.PricePerKg.Valid)
	assert.True(t, out.Active)

	_, err = DecodeRate([]byte(`{"model":"itemized"}`))
	require.Error(t, err)
}
