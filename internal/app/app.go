package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/transfer-checkout/internal/domain/catalog"
	"github.com/xenking/transfer-checkout/internal/domain/customer"
	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/order"
	"github.com/xenking/transfer-checkout/internal/domain/paycode"
	"github.com/xenking/transfer-checkout/internal/domain/payment"
	"github.com/xenking/transfer-checkout/internal/domain/pricing"
	"github.com/xenking/transfer-checkout/internal/handler"
	"github.com/xenking/transfer-checkout/internal/seed"
	"github.com/xenking/transfer-checkout/internal/storage/memory"
	"github.com/xenking/transfer-checkout/internal/storage/postgres"
	redisstore "github.com/xenking/transfer-checkout/internal/storage/redis"
	"github.com/xenking/transfer-checkout/pkg/health"
	"github.com/xenking/transfer-checkout/pkg/httpmiddleware"
)

const webhookPath = "/payments/webhook"

type repositories struct {
	catalog   catalog.Repository
	customers customer.Repository
	orders    order.Repository
	invoices  invoice.Repository
	products  seed.ProductWriter
	users     seed.UserWriter
	// pinger is nil for in-memory storage.
	pinger health.Pinger
	close  func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*repositories, error) {
	if cfg.Storage == StorageMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		store := memory.New()
		return &repositories{
			catalog:   store.Catalog(),
			customers: store.Customers(),
			orders:    store.Orders(),
			invoices:  store.Invoices(),
			products:  store.Catalog(),
			users:     store.Customers(),
			close:     func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	products := postgres.NewCatalogRepository(pool)
	users := postgres.NewCustomerRepository(pool)
	return &repositories{
		catalog:   products,
		customers: users,
		orders:    postgres.NewOrderRepository(pool),
		invoices:  postgres.NewInvoiceRepository(pool),
		products:  products,
		users:     users,
		pinger:    pool,
		close:     pool.Close,
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	repos, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	if cfg.SeedFile != "" {
		doc, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return errors.Wrap(err, "load seed")
		}
		st, err := seed.Apply(ctx, doc, repos.products, repos.users)
		if err != nil {
			return errors.Wrap(err, "apply seed")
		}
		lg.Info("Seed applied",
			zap.String("file", cfg.SeedFile),
			zap.Int("products", st.Products),
			zap.Int("users", st.Users),
		)
	}

	healthSvc := health.New()
	if repos.pinger != nil {
		healthSvc.Add(health.Readiness, health.Check{
			Name:    "postgres",
			Timeout: 5 * time.Second,
			Func:    health.PingCheck(repos.pinger),
		})
	}
	healthSvc.Add(health.Liveness, health.Check{
		Name: "goroutines",
		Func: health.GoroutineCountCheck(10000),
	})

	// Webhook deduplication is optional; the ledger is idempotent without it.
	var guard handler.NotificationGuard
	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.NewClient(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		g := redisstore.NewNotificationGuard(rdb, cfg.Redis.InFlight, cfg.Redis.TTL)
		healthSvc.Add(health.Readiness, health.Check{
			Name: "redis",
			Func: health.PingCheck(g),
		})
		guard = g
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	format := paycode.NewFormat(cfg.Payment.CodePrefix)
	issuer := invoice.NewSynchronizer(repos.invoices, cfg.Payment.Currency)
	ledger := order.NewLedger(
		pricing.NewEngine(repos.catalog),
		paycode.NewGenerator(format),
		repos.orders,
		issuer,
		repos.customers,
		cfg.Payment.CodeAttempts,
	)
	reconciler, err := payment.NewReconciler(repos.orders, cfg.Payment.Currency, m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.PaymentConfig{
			Currency:          cfg.Payment.Currency,
			WebhookSecret:     cfg.Payment.WebhookSecret,
			BankAccountID:     cfg.Payment.BankAccountID,
			BankAccountNumber: cfg.Payment.BankAccountNumber,
			BankName:          cfg.Payment.BankName,
			BankAccountName:   cfg.Payment.BankAccountName,
			QRBaseURL:         cfg.Payment.QRBaseURL,
		},
		ledger,
		invoice.NewService(repos.invoices),
		reconciler,
		format,
		guard,
		handler.NewAuthenticator(handler.AuthConfig{
			Secret:   cfg.Auth.Secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		}),
	)

	// Health endpoints and the API on one server. Request logging runs inside
	// the router, where the matched route pattern is known.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", h.Routes(httpmiddleware.LogRequests(handler.RoutePattern)))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("checkout-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip: func(r *http.Request) bool {
					return r.URL.Path == webhookPath
				},
			}),
		),
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
