package rateimport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/laundry-billing/internal/cache"
	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

func writeGz(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func TestParseRow(t *testing.T) {
	tests := []struct {
		name    string
		record  []string
		want    Row
		wantErr string
	}{
		{
			name:   "itemized",
			record: []string{" Shirt ", "itemized", "150"},
			want:   Row{ItemName: "Shirt", Model: pricing.ModelItemized, Price: decimal.RequireFromString("150")},
		},
		{
			name:   "weighted upper case model",
			record: []string{"Duvet", "WEIGHTED", "120.50"},
			want:   Row{ItemName: "Duvet", Model: pricing.ModelWeighted, Price: decimal.RequireFromString("120.50")},
		},
		{name: "short record", record: []string{"Shirt", "itemized"}, wantErr: "expected 3 fields"},
		{name: "empty name", record: []string{" ", "itemized", "1"}, wantErr: "item name is empty"},
		{name: "unknown model", record: []string{"Shirt", "hourly", "1"}, wantErr: "unsupported pricing model"},
		{name: "bad price", record: []string{"Shirt", "itemized", "abc"}, wantErr: "invalid price"},
		{name: "zero price", record: []string{"Shirt", "itemized", "0"}, wantErr: "greater than zero"},
		{name: "sub-cent price", record: []string{"Shirt", "itemized", "1.00001"}, wantErr: "at most 8 integer digits and 4 decimal places"},
		{name: "price beyond column", record: []string{"Shirt", "itemized", "1e9"}, wantErr: "at most 8 integer digits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRow(tt.record)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ItemName, got.ItemName)
			assert.Equal(t, tt.want.Model, got.Model)
			assert.True(t, tt.want.Price.Equal(got.Price))
		})
	}
}

func TestReadFile(t *testing.T) {
	path := writeGz(t, "branch-a.csv.gz", "item_name,model,price\n"+
		"Shirt,itemized,150\n"+
		"Duvet,weighted,120.50\n"+
		"Curtain,hourly,10\n")

	res, err := ReadFile(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Shirt", res.Rows[0].ItemName)
	assert.Equal(t, "Duvet", res.Rows[1].ItemName)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, 4, res.Invalid[0].Line)
	assert.Contains(t, res.Invalid[0].Reason, "unsupported pricing model")
}

func TestReadFile_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.csv")
	require.NoError(t, os.WriteFile(path, []byte("Shirt,itemized,150\n"), 0o600))

	_, err := ReadFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip reader")
}

func TestReadFiles_DedupeFirstFileWins(t *testing.T) {
	first := writeGz(t, "a.csv.gz", "Shirt,itemized,150\nDuvet,weighted,120.50\n")
	second := writeGz(t, "b.csv.gz", "SHIRT,itemized,999\nShirt,weighted,60\nduvet,weighted,1\n")

	results, err := ReadFiles(context.Background(), []string{first, second})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, first, results[0].Path)

	rows, dups := Dedupe(results)
	assert.Equal(t, 2, dups)
	require.Len(t, rows, 3)
	assert.Equal(t, "Shirt", rows[0].ItemName)
	assert.True(t, rows[0].Price.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, pricing.ModelWeighted, rows[2].Model)
	assert.True(t, rows[2].Price.Equal(decimal.NewFromInt(60)))
}

func TestReadFiles_MissingFile(t *testing.T) {
	ok := writeGz(t, "a.csv.gz", "Shirt,itemized,150\n")

	_, err := ReadFiles(context.Background(), []string{ok, filepath.Join(t.TempDir(), "missing.gz")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.gz")
}

type fakeStore struct {
	items       map[string]string
	rates       map[string]pricing.Rate
	itemCalls   int
	failOnModel pricing.Model
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[string]string{}, rates: map[string]pricing.Rate{}}
}

func rateID(itemID string, model pricing.Model) string {
	return "rate-" + itemID + "-" + string(model)
}

func (f *fakeStore) UpsertItem(_ context.Context, name string) (string, error) {
	f.itemCalls++
	if id, ok := f.items[name]; ok {
		return id, nil
	}
	id := "item-" + name
	f.items[name] = id
	return id, nil
}

func (f *fakeStore) UpsertRate(_ context.Context, itemID string, model pricing.Model, price decimal.Decimal) ([]string, bool, error) {
	if model == f.failOnModel {
		return nil, false, errors.New("db down")
	}
	id := rateID(itemID, model)
	_, existed := f.rates[id]
	rate := pricing.Rate{ID: id, ItemID: itemID, Model: model, Active: true}
	if model == pricing.ModelItemized {
		rate.UnitPrice = decimal.NewNullDecimal(price)
	} else {
		rate.PricePerKg = decimal.NewNullDecimal(price)
	}
	f.rates[id] = rate
	return []string{id}, !existed, nil
}

// The read side lets a cache.RateCache sit in front of the store.

func (f *fakeStore) GetRatesByIDs(_ context.Context, ids []string) ([]pricing.Rate, error) {
	var out []pricing.Rate
	for _, id := range ids {
		if r, ok := f.rates[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRates(context.Context, catalog.RateFilter) ([]pricing.Rate, error) {
	return nil, nil
}

func (f *fakeStore) CreateRate(context.Context, *pricing.Rate) error { return nil }
func (f *fakeStore) UpdateRate(context.Context, *pricing.Rate) error { return nil }
func (f *fakeStore) DeactivateRate(context.Context, string) error    { return nil }

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.items["Shirt"] = "item-Shirt"
	_, _, err := store.UpsertRate(ctx, "item-Shirt", pricing.ModelItemized, decimal.NewFromInt(100))
	require.NoError(t, err)

	rows := []Row{
		{ItemName: "Shirt", Model: pricing.ModelItemized, Price: decimal.NewFromInt(150)},
		{ItemName: "shirt", Model: pricing.ModelWeighted, Price: decimal.NewFromInt(60)},
		{ItemName: "Duvet", Model: pricing.ModelWeighted, Price: decimal.RequireFromString("120.50")},
	}

	stats, err := Apply(ctx, store, rows)
	require.NoError(t, err)

	assert.Equal(t, Stats{
		Items:    2,
		Inserted: 2,
		Updated:  1,
		Repriced: []string{rateID("item-Shirt", pricing.ModelItemized)},
	}, stats)
	assert.Equal(t, 2, store.itemCalls, "item ids are resolved once per name")
	assert.True(t, store.rates[rateID("item-Shirt", pricing.ModelItemized)].UnitPrice.Decimal.Equal(decimal.NewFromInt(150)))
	assert.Contains(t, store.rates, rateID("item-Shirt", pricing.ModelWeighted))
}

func TestApply_StoreError(t *testing.T) {
	store := newFakeStore()
	store.failOnModel = pricing.ModelWeighted
	rows := []Row{
		{ItemName: "Shirt", Model: pricing.ModelItemized, Price: decimal.NewFromInt(150)},
		{ItemName: "Duvet", Model: pricing.ModelWeighted, Price: decimal.NewFromInt(120)},
	}

	stats, err := Apply(context.Background(), store, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `upsert weighted rate for "Duvet"`)
	assert.Equal(t, 1, stats.Inserted)
}

func TestApply_RepricedRatesLeaveCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeStore()
	store.items["Shirt"] = "item-Shirt"
	shirt := rateID("item-Shirt", pricing.ModelItemized)
	_, _, err := store.UpsertRate(ctx, "item-Shirt", pricing.ModelItemized, decimal.NewFromInt(100))
	require.NoError(t, err)

	rates := cache.NewRateCache(store, client, time.Hour)
	unitPrice := func() decimal.Decimal {
		t.Helper()
		got, err := rates.GetRatesByIDs(ctx, []string{shirt})
		require.NoError(t, err)
		require.Len(t, got, 1)
		return got[0].UnitPrice.Decimal
	}
	require.True(t, unitPrice().Equal(decimal.NewFromInt(100)))
	require.True(t, mr.Exists("rate:"+shirt))

	stats, err := Apply(ctx, store, []Row{
		{ItemName: "Shirt", Model: pricing.ModelItemized, Price: decimal.NewFromInt(150)},
		{ItemName: "Duvet", Model: pricing.ModelWeighted, Price: decimal.NewFromInt(120)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{shirt}, stats.Repriced)
	assert.True(t, unitPrice().Equal(decimal.NewFromInt(100)), "cached copy is stale until evicted")

	require.NoError(t, Evict(ctx, rates, stats.Repriced))
	assert.True(t, unitPrice().Equal(decimal.NewFromInt(150)))
}

type recordingInvalidator struct {
	batches [][]string
	err     error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ids ...string) error {
	r.batches = append(r.batches, ids)
	return r.err
}

func TestEvict(t *testing.T) {
	ids := make([]string, 1201)
	for i := range ids {
		ids[i] = fmt.Sprintf("rate-%d", i)
	}

	t.Run("batches", func(t *testing.T) {
		inv := &recordingInvalidator{}
		require.NoError(t, Evict(context.Background(), inv, ids))
		require.Len(t, inv.batches, 3)
		assert.Len(t, inv.batches[0], 500)
		assert.Len(t, inv.batches[1], 500)
		assert.Equal(t, ids[1000:], inv.batches[2])
	})

	t.Run("nothing to evict", func(t *testing.T) {
		inv := &recordingInvalidator{}
		require.NoError(t, Evict(context.Background(), inv, nil))
		assert.Empty(t, inv.batches)
	})

	t.Run("stops on error", func(t *testing.T) {
		inv := &recordingInvalidator{err: errors.New("connection refused")}
		err := Evict(context.Background(), inv, ids)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "evict 1201 cached rates")
		assert.Len(t, inv.batches, 1)
	})
}
