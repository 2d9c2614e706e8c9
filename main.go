package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gap-trading-bot/config"
	"gap-trading-bot/internal/api"
	"gap-trading-bot/internal/cache"
	"gap-trading-bot/internal/confluence"
	"gap-trading-bot/internal/cycle"
	"gap-trading-bot/internal/engine"
	"gap-trading-bot/internal/events"
	"gap-trading-bot/internal/exec"
	"gap-trading-bot/internal/gap"
	"gap-trading-bot/internal/market"
	"gap-trading-bot/internal/ops"
	"gap-trading-bot/internal/prediction"
	"gap-trading-bot/internal/quality"
	"gap-trading-bot/internal/record"
	"gap-trading-bot/internal/secrets"
	"gap-trading-bot/internal/session"
	"gap-trading-bot/internal/sizing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := buildLogger(cfg.Logging)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Msg("gap trading bot starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretStore, err := secrets.NewClient(&secrets.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		MountPath:  cfg.Vault.MountPath,
		SecretPath: cfg.Vault.SecretPath,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize secrets client")
	}
	if cfg.Server.JWTSecret != "" {
		secretStore.Seed(secrets.SecretJWTSigningKey, cfg.Server.JWTSecret)
	}
	if cfg.Database.DSN != "" {
		secretStore.Seed(secrets.SecretDatabaseDSN, cfg.Database.DSN)
	}
	if cfg.Redis.Password != "" {
		secretStore.Seed(secrets.SecretRedisPassword, cfg.Redis.Password)
	}

	bus := events.NewBus()

	var cacheService *cache.Service
	if cfg.Redis.Enabled {
		cacheService = cache.NewService(&cache.Config{
			Addr:        cfg.Redis.Addr,
			Password:    secretStore.GetOrDefault(ctx, secrets.SecretRedisPassword, ""),
			DB:          cfg.Redis.DB,
			SnapshotTTL: 30 * time.Second,
		}, logger.With().Str("component", "cache").Logger())
		defer cacheService.Close()
	}

	var store *record.Store
	if cfg.Database.Enabled {
		dsn, err := secretStore.Get(ctx, secrets.SecretDatabaseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("database enabled but no DSN available")
		}
		store, err = record.New(ctx, dsn, logger.With().Str("component", "record").Logger())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	cycleCfg := &cycle.Config{
		ProfitTarget:  cfg.Cycle.ProfitTarget,
		LossLimit:     cfg.Cycle.LossLimit,
		MaxTrades:     cfg.Cycle.MaxTrades,
		Duration:      cfg.Cycle.Duration,
		NearThreshold: 0.75,
	}
	if err := cycleCfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid cycle configuration")
	}
	cycles := cycle.NewTracker(cycleCfg)
	sessions := session.NewTracker(cfg.Sessions)

	var predictor prediction.Predictor = prediction.NewHeuristicPredictor()
	if cfg.Gates.InferenceURL != "" {
		apiKey := secretStore.GetOrDefault(ctx, secrets.SecretInferenceAPIKey, "")
		model := prediction.NewModelPredictor(prediction.NewHTTPInference(cfg.Gates.InferenceURL, apiKey), 2*time.Second)
		predictor = prediction.NewFallbackPredictor(model, prediction.NewHeuristicPredictor(),
			logger.With().Str("component", "prediction").Logger())
	}

	opsConfig := ops.DefaultConfig()
	opsConfig.MinQualityLevel = quality.Level(cfg.Gates.MinQualityLevel)
	opsConfig.MinFillProbability = cfg.Gates.MinFillProbability
	opsConfig.AccountEquity = cfg.Account.Equity
	opsConfig.FreeMargin = cfg.Account.FreeMargin
	opsConfig.MarginPerLot = cfg.Account.MarginPerLot
	if err := opsConfig.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid controller configuration")
	}

	// The paper executor reports closed trades back into the controller, so
	// the controller variable is captured before it is assigned.
	var controller *ops.Controller
	var paper *exec.Paper
	if cfg.Engine.PaperTrading {
		paper = exec.NewPaper(cfg.Engine.SlippageBps, func(trade exec.ClosedTrade) {
			controller.RecordTradeClosed(trade.PnL)
			bus.Publish(events.Event{
				Type: events.EventTradeClosed,
				Payload: map[string]interface{}{
					"order_id": trade.Order.ID,
					"pnl":      trade.PnL,
					"outcome":  trade.Outcome,
				},
			})
			if store != nil {
				if err := store.SaveTradeOutcome(context.Background(), trade); err != nil {
					logger.Warn().Err(err).Msg("failed to persist trade outcome")
				}
			}
		}, logger.With().Str("component", "exec").Logger())
	}

	deps := ops.Deps{
		Cycles:    cycles,
		Sessions:  sessions,
		Scorer:    quality.NewScorer(cfg.Quality),
		Predictor: predictor,
		Sizer:     sizing.NewSizer(cfg.Sizing, logger.With().Str("component", "sizing").Logger()),
		Recorder:  recorderFor(store),
		Bus:       bus,
		Logger:    logger.With().Str("component", "ops").Logger(),
	}
	if paper != nil {
		deps.Exec = paper
	}
	controller = ops.NewController(opsConfig, deps)

	source := buildSource(cfg.Engine, logger)
	timeframes := parseTimeframes(cfg.Engine.Timeframes, logger)

	gapTracker := gap.NewTracker(cfg.Detection.MaxAge)
	eng := engine.New(&engine.Config{
		Symbols:      cfg.Engine.Symbols,
		Timeframes:   timeframes,
		PollInterval: cfg.Engine.PollInterval,
		CandleCount:  cfg.Engine.CandleCount,
		DedupTTL:     48 * time.Hour,
	}, engine.Deps{
		Source:     source,
		Detector:   gap.NewDetector(cfg.Detection, logger),
		Tracker:    gapTracker,
		Scorer:     confluence.NewScorer(cfg.Confluence),
		Controller: controller,
		Deduper:    dedupFor(cacheService),
		Recorder:   gapRecorderFor(store),
		Bus:        bus,
		Logger:     logger.With().Str("component", "engine").Logger(),
	})

	jwtSecret := secretStore.GetOrDefault(ctx, secrets.SecretJWTSigningKey, "")
	if jwtSecret == "" {
		logger.Fatal().Msg("JWT secret is required; set JWT_SECRET or provision it in vault")
	}
	server := api.NewServer(&api.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TokenTTL:       cfg.Server.TokenTTL,
	}, controller, cacheService, gapTracker, bus, buildOperators(cfg.Server, logger), jwtSecret,
		logger.With().Str("component", "api").Logger())

	if err := controller.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start controller")
	}

	go eng.Run(ctx)
	if paper != nil {
		go markPaperPositions(ctx, source, cfg.Engine, timeframes[0], paper, logger)
	}

	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("api server exited")
	}

	if controller.State() != ops.StateShutdown {
		_ = controller.Shutdown("process exit")
	}
	logger.Info().Msg("gap trading bot stopped")
}

// markPaperPositions feeds fresh closes to the paper executor so open
// positions can hit their stops and targets
func markPaperPositions(ctx context.Context, source market.Source, cfg config.EngineConfig, tf market.Timeframe, paper *exec.Paper, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range cfg.Symbols {
				candles, err := source.GetRecentCandles(ctx, symbol, tf, 1)
				if err != nil || len(candles) == 0 {
					continue
				}
				if closed := paper.MarkPrice(symbol, candles[len(candles)-1].Close); len(closed) > 0 {
					logger.Info().Str("symbol", symbol).Int("closed", len(closed)).Msg("paper positions closed")
				}
			}
		}
	}
}

func buildLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func buildSource(cfg config.EngineConfig, logger zerolog.Logger) market.Source {
	if cfg.MockSource {
		logger.Warn().Msg("using synthetic candle source")
		return market.NewMockSource()
	}
	// Live feed integration lands behind the same Source interface; until a
	// venue adapter is configured the synthetic source keeps the pipeline
	// exercising end to end.
	logger.Warn().Msg("no live feed configured, falling back to synthetic candles")
	return market.NewMockSource()
}

func parseTimeframes(raw []string, logger zerolog.Logger) []market.Timeframe {
	var out []market.Timeframe
	for _, r := range raw {
		tf := market.Timeframe(r)
		if tf.Duration() == 0 {
			logger.Warn().Str("timeframe", r).Msg("unknown timeframe skipped")
			continue
		}
		out = append(out, tf)
	}
	if len(out) == 0 {
		out = []market.Timeframe{market.Timeframe5m}
	}
	return out
}

func buildOperators(cfg config.ServerConfig, logger zerolog.Logger) []api.Operator {
	if cfg.AdminUser == "" || cfg.AdminPassHash == "" {
		logger.Warn().Msg("no admin operator provisioned; control endpoints will be unreachable")
		return nil
	}
	return []api.Operator{{
		Username:     cfg.AdminUser,
		PasswordHash: cfg.AdminPassHash,
		Role:         api.RoleAdmin,
	}}
}

// recorderFor avoids handing the controller a typed-nil interface
func recorderFor(store *record.Store) ops.Recorder {
	if store == nil {
		return record.Noop{}
	}
	return store
}

func gapRecorderFor(store *record.Store) engine.GapRecorder {
	if store == nil {
		return record.Noop{}
	}
	return store
}

func dedupFor(cacheService *cache.Service) engine.Deduper {
	if cacheService == nil {
		return nil
	}
	return cacheService
}
