package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/laundry-billing/internal/cache"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
	"github.com/xenking/laundry-billing/internal/repository"
)

type seedRate struct {
	Model pricing.Model
	Price decimal.Decimal
}

type seedItem struct {
	Name  string
	Rates []seedRate
}

func main() {
	var (
		databaseURL string
		redisURL    string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL of the API rate cache (or REDIS_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}
	if databaseURL == "" {
		lg.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, redisURL, catalogFile); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}

	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, redisURL, catalogFile string) error {
	items, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	itemRepo := repository.NewItemRepository(pool)
	rateRepo := repository.NewRateRepository(pool)

	var rateCache *cache.RateCache
	if redisURL != "" {
		client, err := cache.NewClient(ctx, redisURL)
		if err != nil {
			return errors.Wrap(err, "connect to redis")
		}
		defer func() { _ = client.Close() }()
		rateCache = cache.NewRateCache(rateRepo, client, 0)
	}

	var repriced []string
	for _, it := range items {
		id, err := itemRepo.UpsertItem(ctx, it.Name)
		if err != nil {
			return errors.Wrapf(err, "upsert item %q", it.Name)
		}
		for _, r := range it.Rates {
			ids, inserted, err := rateRepo.UpsertRate(ctx, id, r.Model, r.Price)
			if err != nil {
				return errors.Wrapf(err, "upsert %s rate for %q", r.Model, it.Name)
			}
			if !inserted {
				repriced = append(repriced, ids...)
			}
		}
		lg.Info("Seeded item", zap.String("id", id), zap.String("name", it.Name), zap.Int("rates", len(it.Rates)))
	}

	if rateCache != nil && len(repriced) > 0 {
		if err := rateCache.Invalidate(ctx, repriced...); err != nil {
			return errors.Wrap(err, "evict cached rates")
		}
		lg.Info("Cached rates evicted", zap.Int("rates", len(repriced)))
	}
	return nil
}

func readCatalog(path string) ([]seedItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	var items []seedItem
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var it seedItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "name":
				v, err := d.Str()
				it.Name = v
				return err
			case "rates":
				return d.Arr(func(d *jx.Decoder) error {
					r, err := decodeSeedRate(d)
					if err != nil {
						return err
					}
					it.Rates = append(it.Rates, r)
					return nil
				})
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if it.Name == "" {
			return errors.New("item without name")
		}
		items = append(items, it)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	return items, nil
}

func decodeSeedRate(d *jx.Decoder) (seedRate, error) {
	var r seedRate
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "model":
			v, err := d.Str()
			r.Model = pricing.Model(v)
			return err
		case "price":
			v, err := d.Str()
			if err != nil {
				return err
			}
			r.Price, err = decimal.NewFromString(v)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return r, err
	}
	if !r.Model.Valid() {
		return r, errors.Errorf("unsupported pricing model %q", r.Model)
	}
	return r, nil
}
