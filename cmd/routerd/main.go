package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/api"
	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/config"
	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/jsonrpc"
	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/kv"
	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/router"
	"github.com/SynergiaOS/MojoRust-Polyglot-Trading-Bot-sub001/internal/store"
)

var (
	// Set at build time via -ldflags
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath  = flag.String("config", getEnv("CONFIG_PATH", "config.yaml"), "Path to YAML config file")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

// getEnv retrieves environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("routerd %s, build %s\n", version, buildTime)
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	kvStore := kv.NewMemoryStore()
	defer kvStore.Close()

	rt, err := buildRouter(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}
	defer rt.Close()

	if cfg.Cache.Enabled {
		rt.SetCache(kvStore, cfg.Cache.Methods, cfg.Cache.TTL())
		logger.Info("response cache enabled",
			zap.Strings("methods", cfg.Cache.Methods),
			zap.Duration("ttl", cfg.Cache.TTL()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var auditStore *store.AuditStore
	if cfg.DatabaseURL != "" {
		auditStore, err = store.NewAuditStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect audit store", zap.Error(err))
		}
		defer auditStore.Close()

		rt.SetTransitionHook(func(tr router.Transition) {
			go func() {
				persistCtx, persistCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer persistCancel()
				if err := auditStore.LogProviderTransition(persistCtx, &store.ProviderTransition{
					Provider:  tr.Provider,
					FromState: tr.From,
					ToState:   tr.To,
					Reason:    tr.Reason,
					At:        tr.At,
				}); err != nil {
					logger.Warn("failed to persist provider transition", zap.Error(err))
				}
			}()
		})

		go startCleanupLoop(ctx, auditStore, logger)
	}

	var auditDB api.AuditDB
	if auditStore != nil {
		auditDB = auditStore
	}
	handlers := api.NewHandlers(rt, auditDB, logger)
	authMiddleware := api.NewAuthMiddleware(cfg.Server.AuthToken)
	rateLimiter := api.NewRateLimiter(kvStore, cfg.Server.RateLimitPerMinute)

	mux := http.NewServeMux()

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/v1/rpc", handlers.RPCHandler)
	apiMux.HandleFunc("/v1/health", handlers.HealthHandler)
	apiMux.HandleFunc("/v1/metrics", handlers.MetricsHandler)

	mux.Handle("/v1/", authMiddleware.Middleware(rateLimiter.Middleware(apiMux)))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("routerd listening",
			zap.String("port", cfg.Server.Port),
			zap.String("policy", cfg.Routing.Policy),
			zap.Int("providers", len(cfg.Providers)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func buildRouter(cfg *config.Config, logger *zap.Logger) (*router.Router, error) {
	providers := make([]router.ProviderConfig, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		var handle router.Provider
		if pc.IsWebSocket() {
			ws := jsonrpc.NewWSClient(pc.URL, logger)
			if pc.HealthMethod != "" {
				ws.SetHealthMethod(pc.HealthMethod)
			}
			handle = ws
		} else {
			hc := jsonrpc.NewHTTPClient(pc.URL, logger)
			if pc.HealthMethod != "" {
				hc.SetHealthMethod(pc.HealthMethod)
			}
			handle = hc
		}

		cost, err := pc.Cost()
		if err != nil {
			return nil, err
		}

		providers = append(providers, router.ProviderConfig{
			Name:           pc.Name,
			Handle:         handle,
			Priority:       pc.Priority,
			Enabled:        pc.IsEnabled(),
			CostPerRequest: cost,
			Timeout:        pc.Timeout(),
		})
	}

	return router.New(router.Config{
		Providers: providers,
		Routing:   cfg.Routing.ToRouter(),
	}, logger)
}

func startCleanupLoop(ctx context.Context, auditStore *store.AuditStore, logger *zap.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupCtx, cleanupCancel := context.WithTimeout(ctx, 30*time.Second)
			count, err := auditStore.CleanupCallAudit(cleanupCtx, 7*24*time.Hour)
			cleanupCancel()

			if err != nil {
				logger.Warn("audit cleanup failed", zap.Error(err))
			} else if count > 0 {
				logger.Info("audit cleanup", zap.Int64("rows_removed", count))
			}
		}
	}
}
