// Package rateimport loads gzip-compressed CSV price lists into the catalog.
//
// Each file holds item_name,model,price rows with an optional header. Files
// are parsed concurrently; rows are then merged in file order so that the
// first occurrence of an (item, model) pair wins.
package rateimport

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

const (
	maxNameLen    = 120
	bloomFPR      = 0.001
	progressEvery = 100_000
	evictBatch    = 500

	// Prices are stored as NUMERIC(12, 4).
	pricePrecision = 12
	priceScale     = 4
)

// Row is a single validated price list entry.
type Row struct {
	ItemName string
	Model    pricing.Model
	Price    decimal.Decimal
}

func (r Row) key() string {
	return strings.ToLower(r.ItemName) + "\x00" + string(r.Model)
}

// RowError describes a price list row that was skipped.
type RowError struct {
	Line   int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ParseRow validates a CSV record.
func ParseRow(record []string) (Row, error) {
	if len(record) != 3 {
		return Row{}, errors.Errorf("expected 3 fields, got %d", len(record))
	}

	name := strings.TrimSpace(record[0])
	if name == "" {
		return Row{}, errors.New("item name is empty")
	}
	if len(name) > maxNameLen {
		return Row{}, errors.Errorf("item name longer than %d bytes", maxNameLen)
	}

	model := pricing.Model(strings.ToLower(strings.TrimSpace(record[1])))
	if !model.Valid() {
		return Row{}, errors.Errorf("unsupported pricing model %q", record[1])
	}

	price, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil {
		return Row{}, errors.Errorf("invalid price %q", record[2])
	}
	if !price.IsPositive() {
		return Row{}, errors.New("price must be greater than zero")
	}
	if !pricing.FitsPrecision(price, pricePrecision, priceScale) {
		return Row{}, errors.Errorf("price must have at most %d integer digits and %d decimal places",
			pricePrecision-priceScale, priceScale)
	}

	return Row{ItemName: name, Model: model, Price: price}, nil
}

// FileResult holds the rows read from one file.
type FileResult struct {
	Path    string
	Rows    []Row
	Invalid []RowError
}

// ReadFile streams a gzip CSV price list. Invalid rows are collected, not
// fatal; read and decompression failures are.
func ReadFile(ctx context.Context, path string) (*FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	res := &FileResult{Path: path}
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				res.Invalid = append(res.Invalid, RowError{Line: pe.Line, Reason: pe.Err.Error()})
				continue
			}
			return nil, errors.Wrapf(err, "read %s", path)
		}

		if n == 1 && isHeader(record) {
			continue
		}

		row, err := ParseRow(record)
		if err != nil {
			line, _ := r.FieldPos(0)
			res.Invalid = append(res.Invalid, RowError{Line: line, Reason: err.Error()})
			continue
		}
		res.Rows = append(res.Rows, row)

		if n%progressEvery == 0 {
			zctx.From(ctx).Info("Read progress", zap.String("file", path), zap.Int("records", n))
		}
	}
	return res, nil
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "item_name")
}

// ReadFiles reads every file concurrently, preserving argument order.
func ReadFiles(ctx context.Context, paths []string) ([]*FileResult, error) {
	results := make([]*FileResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			res, err := ReadFile(ctx, path)
			if err != nil {
				return err
			}
			zctx.From(ctx).Info("File read",
				zap.String("file", path),
				zap.Int("rows", len(res.Rows)),
				zap.Int("invalid", len(res.Invalid)),
			)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Dedupe merges file results in order, keeping the first row for every
// case-insensitive (item name, model) pair. It returns the kept rows and the
// number of duplicates dropped.
func Dedupe(results []*FileResult) ([]Row, int) {
	var total uint
	for _, res := range results {
		total += uint(len(res.Rows))
	}
	filter := bloom.NewWithEstimates(max(total, 1), bloomFPR)
	seen := make(map[string]struct{})

	var (
		kept       []Row
		duplicates int
	)
	for _, res := range results {
		for _, row := range res.Rows {
			key := row.key()
			if filter.TestString(key) {
				if _, ok := seen[key]; ok {
					duplicates++
					continue
				}
			}
			filter.AddString(key)
			seen[key] = struct{}{}
			kept = append(kept, row)
		}
	}
	return kept, duplicates
}

// Store persists imported rows.
type Store interface {
	// UpsertItem returns the id of the named item, creating or reactivating it.
	UpsertItem(ctx context.Context, name string) (string, error)
	// UpsertRate reprices the active rates or inserts one. It returns the ids
	// it touched and whether the rate is new.
	UpsertRate(ctx context.Context, itemID string, model pricing.Model, price decimal.Decimal) ([]string, bool, error)
}

// Stats summarizes an Apply run. Repriced holds the ids of existing rates
// whose price changed and whose cached copies are stale.
type Stats struct {
	Items    int
	Inserted int
	Updated  int
	Repriced []string
}

// Apply writes rows to store. Item ids are resolved once per name.
func Apply(ctx context.Context, store Store, rows []Row) (Stats, error) {
	var stats Stats
	itemIDs := make(map[string]string)

	for i, row := range rows {
		name := strings.ToLower(row.ItemName)
		id, ok := itemIDs[name]
		if !ok {
			var err error
			id, err = store.UpsertItem(ctx, row.ItemName)
			if err != nil {
				return stats, errors.Wrapf(err, "upsert item %q", row.ItemName)
			}
			itemIDs[name] = id
			stats.Items++
		}

		rateIDs, inserted, err := store.UpsertRate(ctx, id, row.Model, row.Price)
		if err != nil {
			return stats, errors.Wrapf(err, "upsert %s rate for %q", row.Model, row.ItemName)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
			stats.Repriced = append(stats.Repriced, rateIDs...)
		}

		if (i+1)%1000 == 0 {
			zctx.From(ctx).Info("Write progress", zap.Int("written", i+1), zap.Int("total", len(rows)))
		}
	}
	return stats, nil
}

// Invalidator evicts cached rates.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// Evict removes the given rates from cache in batches.
func Evict(ctx context.Context, cache Invalidator, ids []string) error {
	for start := 0; start < len(ids); start += evictBatch {
		end := min(start+evictBatch, len(ids))
		if err := cache.Invalidate(ctx, ids[start:end]...); err != nil {
			return errors.Wrapf(err, "evict %d cached rates", len(ids)-start)
		}
	}
	return nil
}
