package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/laundry-billing/internal/cache"
	"github.com/xenking/laundry-billing/internal/domain/catalog"
	"github.com/xenking/laundry-billing/internal/domain/invoice"
	"github.com/xenking/laundry-billing/internal/handler"
	"github.com/xenking/laundry-billing/internal/repository"
	"github.com/xenking/laundry-billing/pkg/health"
	"github.com/xenking/laundry-billing/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.Bool("redis", cfg.Redis.URL != ""))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PostgresCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Repositories.
	itemRepo := repository.NewItemRepository(pool)
	invoiceRepo := repository.NewInvoiceRepository(pool)
	var rateRepo catalog.RateRepository = repository.NewRateRepository(pool)

	// Optional Redis: rate cache and shared rate limit counters.
	var limitStore limiter.Store
	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		rateRepo = cache.NewRateCache(rateRepo, client, cfg.Redis.CacheTTL)
		limitStore, err = limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix: "laundry:ratelimit",
		})
		if err != nil {
			return errors.Wrap(err, "create rate limit store")
		}
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	catalogService := catalog.NewService(itemRepo, rateRepo)
	invoiceService, err := invoice.NewService(catalogService, invoiceRepo, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create invoice service")
	}

	api := handler.NewHandler(catalogService, invoiceService).Routes()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: newHTTPHandler(cfg, api, healthSvc, httpDeps{
			lg:         lg,
			tracer:     m.TracerProvider(),
			meter:      m.MeterProvider(),
			limitStore: limitStore,
		}),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type httpDeps struct {
	lg         *zap.Logger
	tracer     trace.TracerProvider
	meter      metric.MeterProvider
	limitStore limiter.Store
}

// newHTTPHandler mounts the health endpoints next to the API and applies the
// middleware chain. The logger is injected first so every later middleware
// logs with the request id attached.
func newHTTPHandler(cfg *Config, api http.Handler, hs *health.Health, deps httpDeps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", hs.LiveEndpoint)
	mux.HandleFunc("/readyz", hs.ReadyEndpoint)
	mux.Handle("/api/", api)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(deps.lg),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "X-Request-ID", "X-Branch-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Location"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Store:  deps.limitStore,
		}),
		httpmiddleware.Instrument("laundry-api", deps.tracer, deps.meter),
		httpmiddleware.LogRequests(),
	)
}
