package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/httpx"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/memory"
	"github.com/ariefcatur/go-shop-orders/internal/notify"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/payment"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/reservation"
	"github.com/ariefcatur/go-shop-orders/internal/sales"
	"github.com/ariefcatur/go-shop-orders/internal/sweeper"
	"github.com/ariefcatur/go-shop-orders/internal/tracing"
	"github.com/ariefcatur/go-shop-orders/internal/tracking"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// stores yang dipakai engine, postgres atau memory
type stores struct {
	orders   orders.Repository
	catalog  inventory.Catalog
	counters inventory.Counters
	sales    sales.Store
	close    func()
}

func openStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (stores, error) {
	if cfg.Store == "memory" {
		mem := memory.New()
		for _, p := range demoProducts() {
			mem.PutProduct(p)
		}
		log.Warn().Msg("STORE=memory: data hilang saat restart")
		return stores{orders: mem, catalog: mem, counters: mem, sales: mem, close: func() {}}, nil
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.Options{})
	if err != nil {
		return stores{}, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return stores{}, err
	}
	counters := &postgres.Counters{DB: db}
	if cfg.SeedDemo {
		for _, p := range demoProducts() {
			if err := counters.UpsertProduct(ctx, p); err != nil {
				db.Close()
				return stores{}, err
			}
		}
	}
	return stores{
		orders:   &postgres.OrderRepo{DB: db},
		catalog:  counters,
		counters: counters,
		sales:    &postgres.SalesRepo{DB: db},
		close:    db.Close,
	}, nil
}

func demoProducts() []inventory.Product {
	return []inventory.Product{
		{ID: "TEE-01", Name: "Basic Tee", Variants: []inventory.Variant{
			{Size: "M", Color: "black", PriceCents: 12900, Stock: 20},
			{Size: "L", Color: "black", PriceCents: 12900, Stock: 20},
		}},
		{ID: "HOOD-01", Name: "Hoodie (preorder)", Preorder: true, Variants: []inventory.Variant{
			{Size: "L", Color: "grey", PriceCents: 34900},
		}},
	}
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	// DB
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open stores")
	}
	defer st.close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024, log)
	prod.Start(ctx)

	clk := clockwork.NewRealClock()
	salesLedger := sales.NewLedger(st.sales, log)
	engine := reservation.New(reservation.Config{
		Orders:  st.orders,
		Catalog: st.catalog,
		Ledger:  inventory.NewLedger(st.counters, log),
		Sales:   salesLedger,
		Events:  notify.NewKafkaPublisher(prod, cfg.ServiceName),
		Clock:   clk,
		Policy: orders.Policy{
			ReservationTTL:  cfg.ReservationTTL,
			ReviewThreshold: cfg.SlipReviewThreshold,
		},
		Logger: log,
	})

	tracer := otel.Tracer(cfg.ServiceName)
	pipeline := payment.NewPipeline(engine, payment.NewHTTPVerifier(cfg.VerifyURL, tracer), payment.Options{
		Timeout: cfg.VerifyTimeout,
		Clock:   clk,
		Tracer:  tracer,
		Logger:  log,
	})

	var tracker tracking.Tracker
	if cfg.TrackingURL != "" {
		tracker = tracking.NewCachedTracker(tracking.NewHTTPTracker(cfg.TrackingURL), rdb, cfg.TrackingCacheTTL, log)
	}
	trackingSvc := tracking.NewService(st.orders, engine, tracker,
		redisx.NewDeduper(rdb, cfg.ServiceName+"-tracking", redisx.TTLDedup), log)

	sw := sweeper.New(st.orders, engine, sweeper.Options{
		Interval: cfg.SweepInterval,
		Clock:    clk,
		Logger:   log,
	})

	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{
		Engine:   engine,
		Payments: pipeline,
		Tracking: trackingSvc,
		Sales:    salesLedger,
		Idem:     redisx.NewIdempotency(rdb),
		Clock:    clk,
		Log:      log,
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpx.Traced(router, cfg.ServiceName), ReadHeaderTimeout: 5 * time.Second}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sw.Start(gctx)
		<-gctx.Done()
		sw.Stop()
		return nil
	})
	g.Go(func() error {
		// graceful shutdown
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exit")
	}

	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
	cancel()

	ctx3, cancel3 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel3()
	if err := shutdownTracing(ctx3); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}
