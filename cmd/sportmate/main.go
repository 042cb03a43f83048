package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sportmate/internal/bridge"
	"sportmate/internal/config"
	"sportmate/internal/crypto"
	"sportmate/internal/gate"
	"sportmate/internal/httpapi"
	"sportmate/internal/providers/registry"
	"sportmate/internal/queue"
	"sportmate/internal/storage"
	"sportmate/internal/token"
	"sportmate/internal/tools"
	"sportmate/internal/tools/tavily"
	"sportmate/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("mode", cfg.AppMode).
		Str("provider", cfg.Provider.Kind).
		Str("model", cfg.Provider.Model).
		Msg("starting sportmate")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	runAPI := cfg.AppMode == config.ModeAPI || cfg.AppMode == config.ModeAll
	runBridge := cfg.AppMode == config.ModeBridge || cfg.AppMode == config.ModeAll
	runWorker := cfg.AppMode == config.ModeWorker || cfg.AppMode == config.ModeAll

	var store *storage.Store
	if runAPI || runWorker {
		store, err = storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
		defer store.Close()
	}

	jobQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}

	errCh := make(chan error, 4)
	var servers []*http.Server

	if runAPI {
		cryptoManager, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize crypto manager")
		}
		tokens, err := token.NewManager(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize token manager")
		}

		api := httpapi.NewServer(httpapi.Options{
			Store:      store,
			Gate:       gate.New(rdb, store, cfg.Gate.FreeTurnLimit, cfg.Redis.PlanTTL),
			Queue:      jobQueue,
			Tokens:     tokens,
			Crypto:     cryptoManager,
			Payments:   httpapi.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.API.BaseURL),
			BridgeURL:   cfg.Bridge.BaseURL,
			HTTPClient:  httpClient,
			HealthPath:  cfg.API.HealthPath,
			MetricsPath: cfg.API.MetricsPath,
			Log:         log.Logger,
		})
		srv := &http.Server{
			Addr:              cfg.API.ListenAddr,
			Handler:           api,
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)
		go func() {
			log.Info().Str("addr", cfg.API.ListenAddr).Msg("api server started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	if runBridge {
		provider, err := registry.Build(registry.BuildOptions{
			Kind:        cfg.Provider.Kind,
			BaseURL:     cfg.Provider.BaseURL,
			APIKey:      cfg.Provider.APIKey,
			HTTPClient:  httpClient,
			MaxRetries:  cfg.HTTP.MaxRetries,
			BackoffBase: cfg.HTTP.BackoffBase,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build provider")
		}

		reg := tools.NewRegistry()
		if cfg.Tavily.APIKey != "" {
			reg.Register(tavily.New(tavily.Config{
				BaseURL:    cfg.Tavily.BaseURL,
				APIKey:     cfg.Tavily.APIKey,
				MaxResults: cfg.Tavily.MaxResults,
			}), tools.QuerySchema())
		} else {
			log.Warn().Msg("TAVILY_API_KEY not set, search tool disabled")
		}

		apiClient := bridge.NewAPIClient(cfg.API.BaseURL, httpClient)
		b := bridge.New(bridge.Config{
			Model:         cfg.Provider.Model,
			MaxTokens:     cfg.Provider.MaxTokens,
			Temperature:   cfg.Provider.Temperature,
			MaxToolRounds: cfg.Provider.MaxToolRounds,
		}, provider, reg, apiClient, apiClient, apiClient, log.Logger)

		srv := &http.Server{
			Addr:              cfg.Bridge.ListenAddr,
			Handler:           bridge.NewServer(b, log.Logger, cfg.API.HealthPath, cfg.API.MetricsPath),
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, srv)
		go func() {
			log.Info().Str("addr", cfg.Bridge.ListenAddr).Msg("bridge server started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("bridge server: %w", err)
			}
		}()
	}

	if runWorker {
		w := worker.New(worker.Config{
			Store:         store,
			Queue:         jobQueue,
			MaxJobRetries: cfg.Worker.MaxRetries,
			Logger:        log.Logger,
		})
		go func() {
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("worker failed: %w", err)
			}
		}()
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("failed to stop http server")
		}
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
