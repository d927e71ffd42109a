package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credential-authorizer/internal/authorization"
	"credential-authorizer/internal/cache"
	"credential-authorizer/internal/config"
	"credential-authorizer/internal/database"
	"credential-authorizer/internal/handlers"
	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/logger"
	"credential-authorizer/internal/metrics"
	"credential-authorizer/internal/middleware"
	"credential-authorizer/internal/provider"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Env:         cfg.LogEnv,
		Level:       cfg.LogLevel,
		ServiceName: "credential-authorizer",
		Version:     version,
	})
	defer log.Sync()

	log.Info("Starting credential authorizer")

	mt, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Initialize database
	ctx := context.Background()
	sealer, err := database.NewSealer(cfg.TokenEncryptionKey)
	if err != nil {
		log.Fatal("Failed to initialize token sealer", zap.Error(err))
	}
	repo, err := database.NewRepository(ctx, cfg.DatabaseURL, sealer, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to create schema", zap.Error(err))
	}

	// Provider registrations: the YAML catalogue first, then oauth_clients.
	sources := provider.Chain{}
	if cfg.ProvidersFile != "" {
		catalog, err := provider.LoadCatalog(cfg.ProvidersFile)
		if err != nil {
			log.Fatal("Failed to load provider catalog", zap.Error(err))
		}
		log.Info("Provider catalog loaded", zap.Strings("providers", catalog.IDs()))
		sources = append(sources, catalog)
	}
	sources = append(sources, repo)

	httpClient := &http.Client{Timeout: cfg.ProviderHTTPTimeout}
	client := provider.NewClient(httpClient, provider.NewDiscovery(httpClient, log), cfg.RedirectURI(), log,
		provider.WithMetrics(mt))

	codec, err := handoff.NewCodec([]byte(cfg.HandoffSecret), cfg.AuthorizeTimeout)
	if err != nil {
		log.Fatal("Failed to initialize handoff codec", zap.Error(err))
	}

	// Redis relays callbacks between instances and backs rate limiting.
	// Without it a single instance keeps handoff in memory.
	var (
		broker  handoff.Broker
		limiter middleware.RateLimiter
		deps    = map[string]handlers.Pinger{"database": repo}
	)
	if cfg.RedisURL != "" {
		cacheClient, err := cache.NewCache(cfg.RedisURL, log)
		if err != nil {
			log.Fatal("Failed to initialize cache", zap.Error(err))
		}
		defer cacheClient.Close()
		broker = handoff.NewRedisBroker(cacheClient, mt, log)
		limiter = cacheClient
		deps["redis"] = cacheClient
	} else {
		log.Warn("REDIS_URL not set; handoff is in-process and callbacks are not rate limited")
		broker = handoff.NewMemoryBroker(mt, log)
	}

	manager := authorization.NewManager(repo, sources, client, codec, broker, log,
		authorization.WithAuthorizeTimeout(cfg.AuthorizeTimeout),
		authorization.WithManagerMetrics(mt))
	defer manager.Shutdown()

	router := SetupRouter(
		handlers.NewFlowHandler(manager, log),
		handlers.NewCallbackHandler(codec, broker, log),
		handlers.NewHealthHandler(deps, log),
		limiter,
		cfg.CallbackRateLimit,
		log,
	)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("port", cfg.ServerPort), zap.String("redirect_uri", cfg.RedirectURI()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
