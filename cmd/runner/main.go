package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trigger-engine-go/config"
	"trigger-engine-go/executor"
	"trigger-engine-go/logging"
	"trigger-engine-go/metrics"
	"trigger-engine-go/oracle"
	"trigger-engine-go/order"
	"trigger-engine-go/store"
	"trigger-engine-go/supervisor"
)

// dryRunExecutor reports success without touching any chain.
type dryRunExecutor struct {
	logger *zap.Logger
}

func (d *dryRunExecutor) Execute(_ context.Context, o *order.Order) (executor.Result, error) {
	d.logger.Info("dry-run swap",
		zap.String("order_id", o.ID),
		zap.String("from", o.FromToken),
		zap.String("to", o.ToToken),
		zap.String("amount", o.Amount.String()))
	return executor.Result{
		Success:        true,
		RealizedAmount: o.Amount,
		Reference:      "dry-run",
	}, nil
}

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	dryPrice := flag.String("dryPrice", "", "fixed oracle price for dry runs (overrides the feed)")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logLevel, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	mset := metrics.New("trigger_engine")
	if cfg.Metrics.Addr != "" {
		if err := mset.Serve(cfg.Metrics.Addr); err != nil {
			logger.Fatal("metrics endpoint", zap.Error(err))
		}
		logger.Info("metrics endpoint up", zap.String("addr", cfg.Metrics.Addr))
	}

	var orderStore store.OrderStore
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(cfg.Store.DSN)
		if err != nil {
			logger.Fatal("open order store", zap.Error(err))
		}
		orderStore = pg
	default:
		logger.Warn("using in-memory order store, orders will not survive restarts")
		orderStore = store.NewMemory()
	}

	var priceOracle oracle.PriceOracle
	var wsOracle *oracle.WSOracle
	if *dryPrice != "" {
		p, err := decimal.NewFromString(*dryPrice)
		if err != nil {
			logger.Fatal("bad dryPrice", zap.Error(err))
		}
		priceOracle = oracle.Fixed{Price: p}
	} else {
		wsOracle = &oracle.WSOracle{
			URL:    cfg.Oracle.URL,
			Symbol: cfg.Oracle.Symbol,
			MaxAge: time.Duration(cfg.Oracle.MaxAgeSecs) * time.Second,
			Logger: logger,
		}
		if cfg.Oracle.RetryBackoff > 0 {
			wsOracle.RetryBackoff = time.Duration(cfg.Oracle.RetryBackoff) * time.Second
		}
		if err := wsOracle.Start(); err != nil {
			logger.Fatal("start price feed", zap.Error(err))
		}
		priceOracle = wsOracle
	}

	var swapExecutor executor.SwapExecutor
	if cfg.Executor.DryRun {
		swapExecutor = &dryRunExecutor{logger: logger}
	} else {
		swapExecutor = executor.RateLimited{
			Inner: &executor.HTTPExecutor{
				BaseURL:    cfg.Executor.BaseURL,
				APIKey:     cfg.Executor.APIKey,
				HTTPClient: executor.NewDefaultHTTPClient(),
			},
			Limiter: executor.NewTokenBucketLimiter(cfg.Executor.RatePerSec, cfg.Executor.Burst),
		}
	}

	sup := supervisor.New(priceOracle, orderStore, swapExecutor, supervisor.Config{
		MonitoringInterval:      time.Duration(cfg.Engine.MonitoringIntervalSecs) * time.Second,
		HealthCheckInterval:     time.Duration(cfg.Engine.HealthCheckIntervalSecs) * time.Second,
		MaxConcurrentExecutions: cfg.Engine.MaxConcurrentExecutions,
		EnableAutoRestart:       cfg.Engine.EnableAutoRestart,
		LogLevel:                cfg.Logging.Level,
	}, supervisor.WithLogger(logger), supervisor.WithMetrics(mset), supervisor.WithLogLevel(logLevel))

	if err := sup.Start(); err != nil {
		logger.Fatal("start executor", zap.Error(err))
	}

	watcher, err := config.NewWatcher(*cfgPath, 2*time.Second)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		watcher.Start(func(next config.AppConfig) {
			// only the log level is applied live; interval changes need a
			// restart and are called out so they are not silently ignored
			if next.Logging.Level != cfg.Logging.Level {
				sup.SetLogLevel(next.Logging.Level)
			}
			if next.Engine.MonitoringIntervalSecs != cfg.Engine.MonitoringIntervalSecs {
				logger.Warn("monitoringIntervalSeconds changed on disk, restart to apply")
			}
			cfg = next
		}, func(err error) {
			logger.Error("config reload failed", zap.Error(err))
		})
		defer watcher.Stop()
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	logger.Info("trigger engine ready", zap.String("env", cfg.Env))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info("shutting down", zap.String("signal", sig.String()))

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sup.Stop()
	if wsOracle != nil {
		wsOracle.Stop()
	}
}
