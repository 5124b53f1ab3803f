package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratekeeper/internal/api"
	"ratekeeper/internal/domain"
	"ratekeeper/internal/engine"
	"ratekeeper/internal/event"
	"ratekeeper/internal/infra"
	"ratekeeper/internal/infra/storage"
	"ratekeeper/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Bus     *event.Bus
	Loop    *engine.ApplyLoop
	Node    *infra.NodeClient

	Rates  *service.RateCoordinator
	Gas    *service.GasPriceCoordinator
	Limits *service.GasLimitPolicy

	Stream *infra.StreamServer
	Server *http.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and wires every component. Nothing is
// started yet.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping ratekeeper...", slog.String("config", configPath))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Shared plumbing
	b.Metrics = infra.NewMetrics()
	b.Bus = event.NewBus()
	b.Loop = engine.NewApplyLoop(256)
	fetcher := infra.NewFeedClient(infra.Seconds(cfg.Feeds.TimeoutSec))

	// 5. Node fallback (optional). node stays a nil interface when disabled.
	var node domain.GasNode
	if cfg.Node.RPCURL != "" {
		client, err := infra.DialNode(ctx, cfg.Node.RPCURL, infra.Seconds(cfg.Node.TimeoutSec))
		if err != nil {
			return err
		}
		b.Node = client
		node = client
		slog.Info("Gas node fallback enabled")
	} else {
		slog.Warn("No node configured; gas fallback disabled")
	}

	// 6. Coordinators
	b.Rates = service.NewRateCoordinator(
		service.NewRateCache(), fetcher, b.Loop, b.Bus, b.Metrics, store,
		service.RateFeedConfig{
			TrackerURL:         cfg.Feeds.TrackerURL,
			ExchangeETHURL:     cfg.Feeds.ExchangeETHURL,
			ExchangeUSDURL:     cfg.Feeds.ExchangeUSDURL,
			ProductionURL:      cfg.Feeds.ProductionURL,
			TrackerInterval:    infra.Seconds(cfg.Feeds.TrackerIntervalSec),
			ExchangeInterval:   infra.Seconds(cfg.Feeds.ExchangeIntervalSec),
			ProductionInterval: infra.Seconds(cfg.Feeds.ProductionIntervalSec),
		},
	)

	gasDefaults := cfg.GasDefaults()
	gasCfg := service.GasFeedConfig{
		CurrentURL:      cfg.Feeds.GasCurrentURL,
		MaxURL:          cfg.Feeds.GasMaxURL,
		CurrentInterval: infra.Seconds(cfg.Feeds.GasCurrentIntervalSec),
		MaxInterval:     infra.Seconds(cfg.Feeds.GasMaxIntervalSec),
		StaleAfter:      infra.Seconds(cfg.Gas.StaleAfterSec),
		Defaults:        &gasDefaults,
	}
	b.Gas = service.NewGasPriceCoordinator(fetcher, node, b.Loop, b.Bus, b.Metrics, store, gasCfg)

	// 7. Cold start from persisted snapshots
	b.Rates.Restore()
	b.Gas.Restore()

	b.Limits = service.NewGasLimitPolicy(gasLimits(cfg))

	// 8. HTTP surface
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		infra.NewCollector(b.Metrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b.Stream = infra.NewStreamServer(b.Bus, b.Metrics, cfg.Server.StreamBuffer)

	handler := api.NewHandler(b.Rates.Cache(), b.Gas, b.Limits, b.Rates, b.Gas)
	b.Server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, b.Stream, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

func gasLimits(cfg *infra.Config) service.GasLimits {
	limits := service.DefaultGasLimits()
	if cfg.Tokens.TransferETH > 0 {
		limits.TransferETH = cfg.Tokens.TransferETH
	}
	if cfg.Tokens.TransferToken > 0 {
		limits.TransferToken = cfg.Tokens.TransferToken
	}
	if cfg.Tokens.ExchangeLeg > 0 {
		limits.ExchangeLeg = cfg.Tokens.ExchangeLeg
	}
	for sym, o := range cfg.Tokens.Overrides {
		limits.Tokens[sym] = service.TokenGas{Leg: o.Leg, Transfer: o.Transfer, Fixed: o.Fixed}
	}
	return limits
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in reverse order.
func (b *Bootstrap) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		b.Loop.Run(loopCtx)
	}()

	if err := b.Rates.Start(ctx); err != nil {
		stopLoop()
		return fmt.Errorf("start rate coordinator: %w", err)
	}
	if err := b.Gas.Start(ctx); err != nil {
		b.Rates.Stop()
		stopLoop()
		return fmt.Errorf("start gas coordinator: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", b.Server.Addr))
		if err := b.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("ratekeeper fully operational. Press Ctrl+C to exit.")

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	slog.Info("Shutting down gracefully...")
	b.Rates.Stop()
	b.Gas.Stop()

	b.Stream.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}

	stopLoop()
	<-loopDone
	b.Close()
	return runErr
}

// Close releases storage and node connections.
func (b *Bootstrap) Close() {
	if b.Node != nil {
		b.Node.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}
