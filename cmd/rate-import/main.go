package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/laundry-billing/internal/cache"
	"github.com/xenking/laundry-billing/internal/rateimport"
	"github.com/xenking/laundry-billing/internal/repository"
)

// store joins the item and rate repositories for the importer.
type store struct {
	*repository.ItemRepository
	*repository.RateRepository
}

type options struct {
	databaseURL string
	redisURL    string
	files       []string
	dryRun      bool
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisURL, "redis-url", "", "Redis URL of the API rate cache (or REDIS_URL env)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate price lists without writing")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: rate-import [flags] pricelist.csv.gz [more.csv.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	opts.files = flag.Args()
	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.redisURL == "" {
		opts.redisURL = envOr("LAUNDRY_REDIS_URL", os.Getenv("REDIS_URL"))
	}
	if opts.databaseURL == "" && !opts.dryRun {
		lg.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Rate import failed", zap.Error(err))
		os.Exit(1)
	}

	lg.Info("Rate import completed")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Reading price lists", zap.Int("files", len(opts.files)))

	results, err := rateimport.ReadFiles(ctx, opts.files)
	if err != nil {
		return errors.Wrap(err, "read price lists")
	}

	for _, res := range results {
		for _, rowErr := range res.Invalid {
			lg.Warn("Skipped row", zap.String("file", res.Path), zap.Int("line", rowErr.Line), zap.String("reason", rowErr.Reason))
		}
	}

	rows, duplicates := rateimport.Dedupe(results)
	lg.Info("Price lists merged", zap.Int("rows", len(rows)), zap.Int("duplicates", duplicates))

	if opts.dryRun || len(rows) == 0 {
		lg.Info("Nothing written", zap.Bool("dry_run", opts.dryRun))
		return nil
	}

	pool, err := repository.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rateRepo := repository.NewRateRepository(pool)

	// Connect before writing so repriced rates can always be evicted.
	var rateCache *cache.RateCache
	if opts.redisURL != "" {
		client, err := cache.NewClient(ctx, opts.redisURL)
		if err != nil {
			return errors.Wrap(err, "connect to redis")
		}
		defer func() { _ = client.Close() }()
		rateCache = cache.NewRateCache(rateRepo, client, 0)
	}

	stats, err := rateimport.Apply(ctx, store{
		ItemRepository: repository.NewItemRepository(pool),
		RateRepository: rateRepo,
	}, rows)
	if err != nil {
		return errors.Wrap(err, "write rates")
	}

	lg.Info("Rates written",
		zap.Int("items", stats.Items),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
	)

	if rateCache == nil {
		if len(stats.Repriced) > 0 {
			lg.Warn("No Redis URL set, cached prices stay until their TTL expires",
				zap.Int("repriced", len(stats.Repriced)),
			)
		}
		return nil
	}
	if err := rateimport.Evict(ctx, rateCache, stats.Repriced); err != nil {
		return errors.Wrap(err, "evict cached rates")
	}
	lg.Info("Cached rates evicted", zap.Int("rates", len(stats.Repriced)))
	return nil
}
