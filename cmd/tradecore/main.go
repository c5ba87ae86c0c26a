package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"tradecore/internal/api"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/market"
	"tradecore/internal/mode"
	"tradecore/internal/monitor"
	"tradecore/internal/order"
	"tradecore/internal/persistence"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
	"tradecore/internal/state"
	"tradecore/internal/strategy"
	"tradecore/pkg/config"
	"tradecore/pkg/db"
	"tradecore/pkg/exchange"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting trading core (mode=%s, port=%s)", cfg.TradingMode, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("database migrations failed: %v", err)
	}

	// Audit trail: batched writes of orders, reports and violations.
	writer := persistence.NewBatchWriter(database.DB, 100, 2*time.Second)
	writer.SetMetrics(metrics)
	defer writer.Close()
	auditor := persistence.NewAuditor(bus, writer)

	// In-memory positions, seeded from DB during engine init.
	positions := state.NewManager(database)

	// Market data cache feeds price lookups for every consumer.
	cache := market.NewCache()
	cache.SetMetrics(metrics)
	cache.Start(ctx, bus)

	// Risk manager
	rules, err := risk.LoadRules(cfg.RiskRulesPath)
	if err != nil {
		log.Printf("risk rules load failed (%v); using defaults", err)
		rules = risk.DefaultRules()
	}
	riskMgr := risk.NewManager(risk.Config{
		InitialBalance: cfg.InitialBalance,
		Rules:          rules,
	}, bus)

	// Execution modes
	modes := mode.NewManager(bus)
	modes.Register(mode.NewPaper(mode.PaperConfig{
		InitialBalance: cfg.InitialBalance,
		FeeRate:        cfg.FeeRate,
		Slippage:       cfg.Slippage,
		QuoteAsset:     cfg.QuoteAsset,
	}, cache))
	if cfg.ExchangeAPIKey != "" && cfg.ExchangeAPISecret != "" {
		client := exchange.NewClient(exchange.Config{
			BaseURL:           cfg.ExchangeBaseURL,
			APIKey:            cfg.ExchangeAPIKey,
			APISecret:         cfg.ExchangeAPISecret,
			RequestsPerSecond: cfg.ExchangeRPS,
		})
		modes.Register(mode.NewLive(client))
	} else {
		log.Println("no exchange credentials; live mode unavailable")
	}
	if cfg.BacktestStart != "" && cfg.BacktestEnd != "" && cfg.BacktestDataPath != "" {
		start, err := time.Parse(time.RFC3339, cfg.BacktestStart)
		if err != nil {
			log.Fatalf("bad BACKTEST_START: %v", err)
		}
		end, err := time.Parse(time.RFC3339, cfg.BacktestEnd)
		if err != nil {
			log.Fatalf("bad BACKTEST_END: %v", err)
		}
		history, err := market.LoadHistory(cfg.BacktestDataPath)
		if err != nil {
			log.Fatalf("backtest history load failed: %v", err)
		}
		modes.Register(mode.NewBacktest(mode.BacktestConfig{
			StartDate:      start,
			EndDate:        end,
			InitialBalance: cfg.InitialBalance,
			FeeRate:        cfg.FeeRate,
			Slippage:       cfg.Slippage,
			TimeStep:       cfg.BacktestTimeStep,
		}, history))
		log.Printf("backtest mode available (%s .. %s, %d symbols)",
			cfg.BacktestStart, cfg.BacktestEnd, len(history.Symbols()))
	}
	riskMgr.SetBalanceSource(modes)

	// Order scheduler
	orders := order.NewManager(order.Config{
		MaxConcurrentExecutions: cfg.OrderWorkers,
		ExecutionTimeout:        cfg.ExecutionTimeout,
		RetryDelay:              cfg.RetryDelay,
		MaxRetries:              cfg.MaxRetries,
	}, modes, bus)
	orders.SetMetrics(metrics)
	modes.SetDrainer(orders)

	// The auditor mirrors each completed order's fills, so it needs
	// the report source before it starts consuming.
	auditor.SetReportSource(orders)
	auditor.Start(ctx)

	if err := modes.SetMode(ctx, mode.Mode(cfg.TradingMode)); err != nil {
		log.Fatalf("activate %s mode: %v", cfg.TradingMode, err)
	}

	// Signal pipeline
	signals := signal.NewProcessor(signal.DefaultConfig(), bus)

	// Strategies
	registry := strategy.DefaultRegistry()
	runner := strategy.NewRunner(bus, signals, func(symbol string) signal.Context {
		snap, ok := cache.Snapshot(symbol)
		if !ok {
			return signal.Context{}
		}
		return signal.Context{
			CurrentVolume: snap.Volume,
			AvgVolume:     snap.AvgVolume,
			PreviousPrice: snap.PrevPrice,
		}
	}, database)
	stratConfigs, err := strategy.LoadConfig(cfg.StrategiesPath)
	if err != nil {
		log.Printf("strategy config load failed (%v); starting with none", err)
	} else {
		built, err := registry.BuildAll(stratConfigs)
		if err != nil {
			log.Fatalf("strategy build failed: %v", err)
		}
		for _, s := range built {
			runner.Add(s)
			log.Printf("strategy registered: %s (%s on %s)", s.ID(), s.Name(), s.Symbol())
		}
	}

	// Monitoring
	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}, Metrics: metrics}
	mon.Start(ctx)

	// Engine
	eng := engine.New(engine.Config{
		TickInterval: cfg.TickInterval,
		StopGrace:    cfg.StopGrace,
		TradeAmount:  cfg.TradeAmount,
		Version:      cfg.Version,
	}, engine.Deps{
		Bus:       bus,
		Modes:     modes,
		Orders:    orders,
		Risk:      riskMgr,
		Signals:   signals,
		Runner:    runner,
		Positions: positions,
		Market:    cache,
		Metrics:   metrics,
	})
	if err := eng.Initialize(ctx); err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine start failed: %v", err)
	}

	// Market data (mock first, real later)
	if cfg.UseMockFeed {
		mock := market.MockFeed{
			Bus:      bus,
			Symbols:  cfg.Symbols,
			Interval: time.Second,
		}
		mock.Start(ctx)
		log.Println("mock price feed started")
	} else {
		feed := market.Feed{
			Stream:  exchange.NewStreamClient(cfg.ExchangeStreamURL),
			Bus:     bus,
			Symbols: cfg.Symbols,
		}
		feed.Start(ctx)
		log.Println("exchange price feed started")
	}

	// API
	passwordHash := cfg.OperatorPasswordHash
	if passwordHash == "" {
		hash, err := api.HashPassword(cfg.OperatorDevPassword)
		if err != nil {
			log.Fatalf("hash dev password: %v", err)
		}
		passwordHash = hash
		log.Println("no OPERATOR_PASSWORD_HASH set; using dev password")
	}
	server := api.NewServer(api.Deps{
		Bus:       bus,
		Engine:    eng,
		Modes:     modes,
		Orders:    orders,
		RiskMgr:   riskMgr,
		Signals:   signals,
		Runner:    runner,
		Positions: positions,
		Metrics:   metrics,
		Audit:     database,
		JWTSecret: cfg.JWTSecret,
		Creds: api.Credentials{
			Operator:     cfg.Operator,
			PasswordHash: passwordHash,
		},
		BaseCtx: ctx,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	if err := eng.Stop(); err != nil {
		log.Printf("engine stop: %v", err)
	}
	cancel()
	writer.Flush()
}
