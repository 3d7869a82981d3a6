// Package main provides the entry point for the trading engine: a bar-driven
// decision pipeline over streaming candlesticks with structure detection,
// structure-first exit planning, risk sizing, a pre-execution gate chain, and
// adaptive broker execution.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlasfx/trading-engine/internal/api"
	"github.com/atlasfx/trading-engine/internal/broker"
	"github.com/atlasfx/trading-engine/internal/config"
	"github.com/atlasfx/trading-engine/internal/datafeed"
	"github.com/atlasfx/trading-engine/internal/execution"
	"github.com/atlasfx/trading-engine/internal/gates"
	"github.com/atlasfx/trading-engine/internal/journal"
	"github.com/atlasfx/trading-engine/internal/onboarding"
	"github.com/atlasfx/trading-engine/internal/pipeline"
	"github.com/atlasfx/trading-engine/internal/risk"
	"github.com/atlasfx/trading-engine/internal/session"
	"github.com/atlasfx/trading-engine/internal/structure"
	"github.com/atlasfx/trading-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "configs/engine.yaml", "Path to engine configuration")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	maxBars := flag.Int("max-bars", 0, "Stop after N bars per symbol (0 = run until feed exhausts)")
	seedBars := flag.Int("seed-bars", 100, "Historical bars to preload per symbol")
	flag.Parse()

	// .env bootstrap before config so ENGINE_* overrides resolve.
	_ = godotenv.Load()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	runID := uuid.NewString()
	logger.Info("engine_starting",
		zap.String("run_id", runID),
		zap.String("config", *configPath))

	cfg, err := config.Load(logger, *configPath)
	if err != nil {
		logger.Fatal("config_load_failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broker symbol metadata. Symbols without explicit metadata get FX-major
	// defaults, which is sufficient for dry-run.
	symbolMeta := make(map[string]types.SymbolMeta, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if in, ok := cfg.BrokerSymbols[sym]; ok {
			symbolMeta[sym] = config.SymbolMeta(sym, in)
		} else {
			symbolMeta[sym] = defaultSymbolMeta(sym)
		}
	}

	// Gateway: the simulator serves dry-run and paper; live mode would swap
	// in a real transport behind the same interface.
	gateway := broker.NewSimGateway(logger, decimal.NewFromInt(10000))
	for _, meta := range symbolMeta {
		gateway.RegisterSymbol(meta)
	}

	manager, err := structure.NewManager(logger, cfg.Detectors)
	if err != nil {
		logger.Fatal("detector_init_failed", zap.Error(err))
	}

	sessions, err := session.NewManager(logger, cfg.Sessions)
	if err != nil {
		logger.Fatal("session_manager_init_failed", zap.Error(err))
	}
	filter := session.NewFilter(logger, cfg.SessionFilter)

	guards := risk.NewGuards(logger, cfg.Risk, cfg.FTMO)
	ledger := risk.NewLedger()

	onboardingMgr, err := onboarding.NewManager(logger, cfg.Onboarding)
	if err != nil {
		logger.Fatal("onboarding_init_failed", zap.Error(err))
	}
	onboardingMgr.LogStates(cfg.Symbols)

	htf := gates.NewHTFBias(logger, gateway, cfg.HTF)
	conflict := gates.NewConflictResolver(logger, cfg.Conflict)
	chain := gates.NewChain(logger, gateway, guards, ledger,
		cfg.Thresholds, cfg.Limits, cfg.Risk, cfg.Mode == "live",
		conflict, htf, filter)

	executor := execution.New(logger, gateway, execution.Mode(cfg.Mode),
		cfg.Execution, cfg.StopGuard, cfg.InvalidStops)

	tradeJournal := journal.New(logger, cfg.Journal)

	p := pipeline.New(logger, cfg, gateway, manager, sessions, filter,
		guards, onboardingMgr, chain, executor, ledger, tradeJournal, symbolMeta)

	// Feed: deterministic synthetic walk; CSV replay when configured via env.
	var feed datafeed.Feed
	if csvDir := os.Getenv("ENGINE_CSV_DIR"); csvDir != "" {
		paths := make(map[string]string, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			paths[sym] = csvDir + "/" + sym + ".csv"
		}
		feed, err = datafeed.NewCSVFeed(paths)
		if err != nil {
			logger.Fatal("csv_feed_init_failed", zap.Error(err))
		}
	} else {
		base := make(map[string]decimal.Decimal, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			base[sym] = decimal.NewFromFloat(1.10000)
		}
		feed = datafeed.NewSyntheticFeed(time.Now().UTC().Truncate(24*time.Hour), 15*time.Minute, base)

		// Publish a starting tick per symbol so pre-checks have quotes.
		for _, sym := range cfg.Symbols {
			meta := symbolMeta[sym]
			mid := base[sym]
			half := meta.Point.Mul(decimal.NewFromInt(10))
			gateway.SetTick(types.Tick{
				Symbol:    sym,
				Bid:       mid.Sub(half),
				Ask:       mid.Add(half),
				Timestamp: time.Now().UTC(),
			})
		}
	}

	runner := pipeline.NewRunner(logger, p, feed)
	if err := runner.SeedHistory(cfg.Symbols, *seedBars); err != nil {
		logger.Fatal("history_seed_failed", zap.Error(err))
	}

	// Status server and event hub.
	var server *api.Server
	hub := api.NewHub(logger)
	if cfg.Server.Enabled {
		go hub.Run()
		p.SetDecisionCallback(func(d types.Decision) {
			hub.Publish(api.MsgTypeDecision, d)
		})
		p.SetOutcomeCallback(func(o journal.Outcome) {
			hub.Publish(api.MsgTypeOutcome, o)
		})
		server = api.NewServer(logger, cfg.Server, hub, statsAdapter{p: p, m: manager, o: onboardingMgr, symbols: cfg.Symbols})
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("api_server_error", zap.Error(err))
			}
		}()
	}

	// Shutdown drain on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown_signal_received")
		cancel()
	}()

	if err := runner.Run(ctx, cfg.Symbols, *maxBars); err != nil && err != context.Canceled {
		logger.Error("runner_error", zap.Error(err))
	}

	p.Shutdown(context.Background(), cfg.Sessions.ClosePositionsOnSessionEnd)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("api_server_shutdown_error", zap.Error(err))
		}
		hub.Stop()
	}

	stats := p.Stats()
	logger.Info("engine_stopped",
		zap.String("run_id", runID),
		zap.Int("processed_bars", stats.ProcessedBars),
		zap.Int("decisions_generated", stats.DecisionsGenerated),
		zap.Int("orders_executed", stats.OrdersExecuted))
}

// statsAdapter exposes engine internals to the status server.
type statsAdapter struct {
	p       *pipeline.Pipeline
	m       *structure.Manager
	o       *onboarding.Manager
	symbols []string
}

func (a statsAdapter) PipelineStats() any { return a.p.Stats() }
func (a statsAdapter) DetectorStats() any { return a.m.StatsSummary() }
func (a statsAdapter) OnboardingStates() any {
	states := make(map[string]onboarding.SymbolState, len(a.symbols))
	for _, sym := range a.symbols {
		states[sym] = a.o.GetState(sym)
	}
	return states
}

// defaultSymbolMeta supplies FX-major metadata for symbols without broker
// configuration; only usable outside live mode.
func defaultSymbolMeta(symbol string) types.SymbolMeta {
	return types.SymbolMeta{
		Symbol:       symbol,
		Point:        decimal.NewFromFloat(0.00001),
		Digits:       5,
		ContractSize: decimal.NewFromInt(100000),
		VolumeMin:    decimal.NewFromFloat(0.01),
		VolumeStep:   decimal.NewFromFloat(0.01),
		VolumeMax:    decimal.NewFromInt(100),
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
