package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/config"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/notify"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/tracing"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	log := logging.New(service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, service, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	// Redis: dedup per event id
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	var n notify.Notifier = notify.LogNotifier{Log: log}
	if cfg.NotifyWebhookURL != "" {
		n = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}
	d := notify.NewDispatcher(n, redisx.NewDeduper(rdb, service, redisx.TTLDedup), log)

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifyGroup, orders.TopicNotifications, cfg.NotifyWorkers, log)
	log.Info().Str("group", cfg.NotifyGroup).Str("topic", orders.TopicNotifications).Int("workers", cfg.NotifyWorkers).
		Msg("notification consumer started")
	if err := cons.Start(ctx, d.Handle); err != nil {
		log.Error().Err(err).Msg("consumer exit")
	}
	log.Info().Msg("shutting down consumer...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdownTracing(ctx2)
}
