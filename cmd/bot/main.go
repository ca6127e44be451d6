package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nopeig/nopebot/internal/audit"
	"github.com/nopeig/nopebot/internal/broker"
	"github.com/nopeig/nopebot/internal/config"
	"github.com/nopeig/nopebot/internal/dashboard"
	"github.com/nopeig/nopebot/internal/engine"
	"github.com/nopeig/nopebot/internal/mock"
	"github.com/nopeig/nopebot/internal/orders"
	"github.com/nopeig/nopebot/internal/positions"
	"github.com/nopeig/nopebot/internal/quote"
	"github.com/nopeig/nopebot/internal/retry"
	"github.com/nopeig/nopebot/internal/scheduler"
	"github.com/nopeig/nopebot/internal/selector"
	signalstore "github.com/nopeig/nopebot/internal/signal"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)
	mode := "live"
	if cfg.IsPaperTrading() {
		mode = "paper"
	}
	logger.Printf("Starting %s bot in %s mode", cfg.Strategy.Symbol, mode)
	if cfg.HasAccountFilter() {
		logger.Printf("Buying-power check enabled for account %s", cfg.Broker.AccountFilter)
	}

	sink, err := audit.NewSink(cfg.Environment.LogDir)
	if err != nil {
		log.Fatalf("Failed to open audit logs: %v", err)
	}

	b, err := buildBroker(cfg)
	if err != nil {
		log.Fatalf("Failed to build broker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(ctx, logger, sink)
	provider := quote.NewNopeProvider(b, cfg.Strategy.Symbol, sink, logger)
	store := signalstore.NewStore(provider, logger)
	view := positions.NewView(b, cfg.Strategy.Symbol)
	sel := selector.New(b, cfg.Strategy.Symbol, cfg.Contracts, logger)
	eng := engine.New(
		engine.Thresholds{
			LongEnter:  cfg.Strategy.LongEnter,
			ShortEnter: cfg.Strategy.ShortEnter,
			LongExit:   cfg.Strategy.LongExit,
			ShortExit:  cfg.Strategy.ShortExit,
		},
		engine.Limits{CallLimit: cfg.Strategy.CallLimit, PutLimit: cfg.Strategy.PutLimit},
	)
	stopLoss := orders.NewStopLoss(b, view, sched, logger, orders.StopLossConfig{
		Pct:       cfg.Risk.StopLossPct,
		Interval:  cfg.StopLossInterval(),
		CallLimit: cfg.Strategy.CallLimit,
		PutLimit:  cfg.Strategy.PutLimit,
	})
	manager := orders.NewManager(b, view, sel, stopLoss, sink, logger, orders.Config{
		SubmitAttempts: orders.DefaultConfig.SubmitAttempts,
		SubmitInterval: orders.DefaultConfig.SubmitInterval,
		Quantity:       cfg.Strategy.Quantity,
		AccountFilter:  cfg.Broker.AccountFilter,
		TickSize:       orders.DefaultConfig.TickSize,
	})
	reaper := orders.NewReaper(view, retry.NewClient(b, logger), sink, logger,
		time.Duration(cfg.Risk.MaxOrderAgeMin)*time.Minute)

	bot := &Bot{
		config:   cfg,
		broker:   b,
		store:    store,
		sched:    sched,
		view:     view,
		engine:   eng,
		manager:  manager,
		reaper:   reaper,
		provider: provider,
		logger:   logger,
	}

	bot.registerCoreTasks()
	bot.registerMarketTasks()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.watchConnection(gctx) })

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(
			dashboard.Config{Listen: cfg.Dashboard.Listen, AuthToken: cfg.Dashboard.AuthToken},
			store, sched, view, b, newLogrus(cfg.Environment.LogLevel),
		)
		g.Go(func() error {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	<-ctx.Done()
	logger.Println("Shutdown signal received, stopping tasks...")

	sched.CancelAll()
	sched.Wait()

	if dash != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := dash.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Status server shutdown: %v", err)
		}
	}

	if err := g.Wait(); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}
	logger.Println("Bot stopped")
}

// buildBroker constructs the configured broker provider and wraps it in the
// circuit breaker. Live gateway providers hook in here.
func buildBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.Broker.Provider {
	case "paper":
		return broker.NewCircuitBreakerBroker(mock.NewPaperBroker(cfg.Strategy.Symbol)), nil
	default:
		return nil, fmt.Errorf("unknown broker provider %q", cfg.Broker.Provider)
	}
}

func newLogrus(level string) *logrus.Logger {
	l := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	return l
}
