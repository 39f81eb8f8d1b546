package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/api"
	"bybit-trading-bot/internal/bot"
	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/logging"
	"bybit-trading-bot/internal/market"
	"bybit-trading-bot/internal/performance"
	"bybit-trading-bot/internal/position"
	"bybit-trading-bot/internal/predictor"
	"bybit-trading-bot/internal/sentiment"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().
		Strs("symbols", cfg.TradingConfig.Symbols).
		Str("timeframe", cfg.TradingConfig.Timeframe).
		Bool("dry_run", cfg.BybitConfig.DryRun).
		Msg("starting trading agent")

	eventBus := events.NewEventBus()

	// Ledger: PostgreSQL when configured, in-memory otherwise.
	var (
		ledger database.Ledger
		db     *database.DB
	)
	if cfg.DatabaseConfig.Host != "" {
		db, err = database.NewDB(cfg.DatabaseConfig.ConnString())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.RunMigrations(migrateCtx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		cancel()
		ledger = db
		logger.Info().Str("host", cfg.DatabaseConfig.Host).Msg("database connected")
	} else {
		ledger = database.NewMemoryLedger()
		logger.Warn().Msg("no database configured, trades held in memory only")
	}

	var riskStore *database.RiskStateStore
	if cfg.RedisConfig.Enabled {
		riskStore = database.NewRiskStateStore(
			cfg.RedisConfig.Address,
			cfg.RedisConfig.Password,
			cfg.RedisConfig.DB,
			logger,
		)
		defer riskStore.Close()
	}

	baseURL := cfg.BybitConfig.BaseURL
	if baseURL == "" {
		if cfg.BybitConfig.Demo {
			baseURL = bybit.DemoURL
		} else {
			baseURL = bybit.MainnetURL
		}
	}

	var venue bybit.Client
	if cfg.BybitConfig.DryRun {
		venue = bybit.NewMockClient()
		logger.Info().Msg("dry run, using mock venue client")
	} else {
		venue = bybit.NewRestClient(
			cfg.BybitConfig.APIKey,
			cfg.BybitConfig.APISecret,
			baseURL,
			strconv.Itoa(cfg.BybitConfig.RecvWindow),
			cfg.RiskConfig.MinNotional,
			logger,
		)
	}

	leverage := ""
	if !cfg.TradingConfig.UseMaxLeverage {
		leverage = strconv.Itoa(cfg.TradingConfig.Leverage)
	}

	tracker := performance.NewTracker(cfg.RiskConfig, ledger, logger)
	manager := position.NewManager(
		cfg.RiskConfig,
		ledger,
		venue,
		riskStore,
		eventBus,
		tracker,
		leverage,
		cfg.BybitConfig.DryRun,
		logger,
	)

	fetcher := market.NewFetcher(baseURL, market.RetryPolicy{
		Attempts: cfg.TradingConfig.FetchRetries,
		Delay:    cfg.TradingConfig.FetchDelay(),
	}, logger)

	var sentimentClient *sentiment.Client
	if cfg.SentimentConfig.Enabled {
		sentimentClient = sentiment.New(cfg.SentimentConfig, logger)
		logger.Info().Str("url", cfg.SentimentConfig.BaseURL).Msg("sentiment lookups enabled")
	}

	model := predictor.New(cfg.StrategyConfig, logger)

	tradingBot, err := bot.New(cfg, fetcher, model, manager, sentimentClient, eventBus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create bot")
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := tradingBot.Start(startCtx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("failed to start bot")
	}
	cancel()

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, ledger, db, riskStore, eventBus, tradingBot, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	// Block until shutdown is requested.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	tradingBot.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second,
		)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status server shutdown failed")
		}
		cancel()
	}

	logger.Info().Msg("shutdown complete")
}
