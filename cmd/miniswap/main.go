package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/efreitasn/miniswap/internal/config"
	"github.com/efreitasn/miniswap/internal/domain"
	"github.com/efreitasn/miniswap/internal/engine"
	"github.com/efreitasn/miniswap/internal/handler"
	"github.com/efreitasn/miniswap/internal/logging"
	"github.com/efreitasn/miniswap/internal/registry"
	"github.com/efreitasn/miniswap/internal/service"
	"github.com/efreitasn/miniswap/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Durable trade journal (optional).
	var journal *store.Journal
	if cfg.JournalDir != "" {
		journal, err = store.OpenJournal(cfg.JournalDir)
		if err != nil {
			logger.Fatal("failed to open journal", zap.Error(err))
		}
		defer journal.Close()
	}

	ledger, err := store.NewLedger(cfg.TradeTimeout, journal)
	if err != nil {
		logger.Fatal("failed to build ledger", zap.Error(err))
	}
	if n := ledger.Len(); n > 0 {
		logger.Info("journal replayed", zap.Int("trades", n))
	}

	registries, operator, err := buildRegistries(cfg.Registry)
	if err != nil {
		logger.Fatal("failed to build registries", zap.Error(err))
	}

	// Notification sinks.
	var sinks []service.Sink
	hub := handler.NewHub(logger)
	defer hub.Close()
	sinks = append(sinks, hub)

	if cfg.Webhook.URL != "" {
		sinks = append(sinks, service.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Timeout, logger))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := service.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	notifier := service.NewNotifier(sinks...)

	lifecycle := engine.NewLifecycle(ledger, registries, operator, cfg.TradeTimeout, notifier, logger)
	tradeSvc := service.NewTradeService(lifecycle)
	router := handler.NewRouter(tradeSvc, cfg.TradeTimeout, hub, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("registry_mode", cfg.Registry.Mode),
			zap.Duration("trade_timeout", cfg.TradeTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	if n := hub.ClientCount(); n > 0 {
		logger.Info("disconnecting websocket clients", zap.Int("clients", n))
	}
	logger.Info("server stopped")
}

// buildRegistries assembles the registry set and the operator principal
// that approvals must target.
func buildRegistries(cfg config.RegistryConfig) (registry.Set, domain.Party, error) {
	switch cfg.Mode {
	case config.RegistryModeMemory:
		return registry.Set{"memory": registry.NewMemory()}, domain.Party(cfg.Operator), nil

	case config.RegistryModeEth:
		set := make(registry.Set, len(cfg.Contracts))
		var operator domain.Party
		for name, contractAddr := range cfg.Contracts {
			adapter, err := registry.NewERC721(cfg.RPCURL, contractAddr, cfg.OperatorKey)
			if err != nil {
				return nil, "", fmt.Errorf("registry %q: %w", name, err)
			}
			set[name] = adapter
			operator = adapter.Operator()
		}
		return set, operator, nil

	default:
		return nil, "", fmt.Errorf("unknown registry mode %q", cfg.Mode)
	}
}
