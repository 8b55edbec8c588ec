package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/botify/catalog/core/catalog"
	"github.com/botify/catalog/core/gateway"
	"github.com/botify/catalog/core/infra/buildinfo"
	"github.com/botify/catalog/core/infra/bus"
	"github.com/botify/catalog/core/infra/config"
	"github.com/botify/catalog/core/infra/logging"
	"github.com/botify/catalog/core/infra/metrics"
)

const serviceName = "botify-catalog"

func main() {
	defer logging.Sync()
	buildinfo.Log(serviceName)

	cfg, err := config.Load()
	if err != nil {
		logging.Error(serviceName, "config error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error(serviceName, "service error", "error", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	hub := gateway.NewHub()
	defer hub.Close()

	var publisher catalog.Publisher = hub
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL, bus.Options{Name: serviceName, JetStream: cfg.NatsJetStream})
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsBus.Close()
		// Every replica publishes to NATS and streams what NATS delivers.
		if err := hub.Attach(natsBus); err != nil {
			return fmt.Errorf("subscribe catalog events: %w", err)
		}
		publisher = natsBus
	}

	policy := catalog.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.UpdateAttempts
	policy.BaseDelay = cfg.UpdateBackoff

	svc := catalog.NewService(stores.records, stores.blobs,
		catalog.WithPublisher(publisher),
		catalog.WithMetrics(metrics.NewProm("botify")),
		catalog.WithRetryPolicy(policy),
		catalog.WithMaxUploadBytes(cfg.MaxUploadBytes),
		catalog.WithTempDir(cfg.UploadTempDir),
	)

	logging.Info(serviceName, "catalog ready",
		"catalog_backend", cfg.CatalogBackend,
		"blob_backend", cfg.BlobBackend,
		"events", eventsMode(cfg),
	)
	return gateway.Run(ctx, cfg, gateway.Options{
		Service: svc,
		Hub:     hub,
		Metrics: metrics.NewGatewayProm("botify_gateway"),
	})
}

func eventsMode(cfg *config.Config) string {
	if cfg.NatsURL == "" {
		return "local"
	}
	return "nats"
}
