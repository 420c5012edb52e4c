package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cascadeflow/config"
	"cascadeflow/internal/channel"
	"cascadeflow/internal/dashboard"
	"cascadeflow/internal/engine"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/notifier"
	"cascadeflow/internal/processor"
	"cascadeflow/internal/reader/binance"
	"cascadeflow/internal/reader/bybit"
	"cascadeflow/internal/reader/kucoin"
	"cascadeflow/internal/reader/okx"
	"cascadeflow/internal/writer"
	"cascadeflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Cascadeflow.Name,
		"version":     cfg.Cascadeflow.Version,
		"environment": env,
	}).Info("starting cascadeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init(cfg.Metrics.PrometheusListen)
	if cfg.Metrics.ChannelSize {
		metrics.EnableFeature(metrics.FeatureChannelSize)
	}
	if cfg.Metrics.UsedWeight {
		metrics.EnableFeature(metrics.FeatureUsedWeight)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.SetCloudWatchPublishInterval(cfg.Metrics.CloudWatch.Interval)
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Cascadeflow.Name)
	}

	flow := channel.NewFlow(cfg.Channels)
	defer flow.Close()

	eng := engine.New(cfg, log)
	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start cascade engine")
		os.Exit(1)
	}

	var binanceLiq *binance.Binance_LIQ_Reader
	var binanceDeriv *binance.Binance_DERIV_Reader
	var binanceProfile *binance.Binance_PROFILE_Reader
	var bybitLiq *bybit.Bybit_LIQ_Reader
	var bybitDeriv *bybit.Bybit_DERIV_Reader
	var okxLiq *okx.OKX_LIQ_Reader
	var kucoinLiq *kucoin.Kucoin_LIQ_Reader

	if cfg.Feeds.Binance.Liquidations {
		binanceLiq = binance.Binance_LIQ_NewReader(cfg, flow.Liq)
	}
	if cfg.Feeds.Binance.Funding {
		binanceDeriv = binance.Binance_DERIV_NewReader(cfg, flow.Deriv)
	}
	if cfg.Feeds.Binance.Profile {
		binanceProfile = binance.Binance_PROFILE_NewReader(cfg, flow.Profile)
	}
	if cfg.Feeds.Bybit.Liquidations {
		bybitLiq = bybit.Bybit_LIQ_NewReader(cfg, flow.Liq)
	}
	if cfg.Feeds.Bybit.Derivatives {
		bybitDeriv = bybit.Bybit_DERIV_NewReader(cfg, flow.Deriv)
	}
	if cfg.Feeds.Okx.Liquidations {
		okxLiq = okx.OKX_LIQ_NewReader(cfg, flow.Liq)
	}
	if cfg.Feeds.Kucoin.Liquidations {
		kucoinLiq = kucoin.Kucoin_LIQ_NewReader(cfg, flow.Liq)
	}

	liqProcessor := processor.NewLiquidationProcessor(cfg, flow.Liq, eng)
	derivProcessor := processor.NewDerivProcessor(cfg, flow.Deriv, eng)
	profileProcessor := processor.NewProfileProcessor(cfg, flow.Profile, eng)

	if err := liqProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start liquidation processor")
		os.Exit(1)
	}
	if err := derivProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start derivatives processor")
		os.Exit(1)
	}
	if err := profileProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start profile processor")
		os.Exit(1)
	}

	alerter := notifier.New(cfg, eng)
	if err := alerter.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start notifier")
		os.Exit(1)
	}
	if config.IsProductionLike(env) && !cfg.Notifier.Telegram.Enabled {
		log.Warn("telegram alerts are disabled in a production-like environment")
	}

	var signalWriter *writer.SignalWriter
	if cfg.Archive.Enabled {
		signalWriter, err = writer.NewSignalWriter(cfg, eng)
		if err != nil {
			log.WithError(err).Error("failed to create signal archive writer")
			os.Exit(1)
		}
		if err := signalWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start signal archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("signal archive disabled; skipping writer")
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, eng, flow, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard server")
		os.Exit(1)
	}
	if dash != nil {
		go func() {
			if err := dash.Run(ctx, cfg.Cascadeflow.Name); err != nil {
				log.WithError(err).Error("dashboard server exited")
			}
		}()
	}

	startReader := func(name string, start func(context.Context) error) {
		go func() {
			if err := start(ctx); err != nil {
				log.WithError(err).WithFields(logger.Fields{"reader": name}).Warn("reader failed to start")
			}
		}()
	}

	if binanceLiq != nil {
		startReader("binance_liq", binanceLiq.Binance_LIQ_Start)
	}
	if binanceDeriv != nil {
		startReader("binance_deriv", binanceDeriv.Binance_DERIV_Start)
	}
	if binanceProfile != nil {
		startReader("binance_profile", binanceProfile.Binance_PROFILE_Start)
	}
	if bybitLiq != nil {
		startReader("bybit_liq", bybitLiq.Bybit_LIQ_Start)
	}
	if bybitDeriv != nil {
		startReader("bybit_deriv", bybitDeriv.Bybit_DERIV_Start)
	}
	if okxLiq != nil {
		startReader("okx_liq", okxLiq.OKX_LIQ_Start)
	}
	if kucoinLiq != nil {
		startReader("kucoin_liq", kucoinLiq.Kucoin_LIQ_Start)
	}

	metrics.StartChannelSizeMetrics(ctx, flow, time.Second)
	metrics.StartReport(ctx, log, cfg.Logging.ReportInterval, func() metrics.EngineSnapshot {
		stats := eng.Stats()
		return metrics.EngineSnapshot{
			ActiveSymbols:     stats.ActiveSymbols,
			Ingested:          stats.Ingested,
			RejectedLate:      stats.RejectedLate,
			RejectedMalformed: stats.RejectedMalformed,
			RejectedInputs:    stats.RejectedInputs,
			OverflowDrops:     stats.OverflowDrops,
			SlowTicks:         stats.SlowTicks,
			Published:         stats.Published,
			SubscriberDrops:   stats.SubscriberDrops,
			SignalsByLevel:    stats.SignalsByLevel,
		}
	})

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)

		log.Info("stopping readers")
		if binanceLiq != nil {
			binanceLiq.Binance_LIQ_Stop()
		}
		if binanceDeriv != nil {
			binanceDeriv.Binance_DERIV_Stop()
		}
		if binanceProfile != nil {
			binanceProfile.Binance_PROFILE_Stop()
		}
		if bybitLiq != nil {
			bybitLiq.Bybit_LIQ_Stop()
		}
		if bybitDeriv != nil {
			bybitDeriv.Bybit_DERIV_Stop()
		}
		if okxLiq != nil {
			okxLiq.OKX_LIQ_Stop()
		}
		if kucoinLiq != nil {
			kucoinLiq.Kucoin_LIQ_Stop()
		}

		log.Info("stopping processors")
		liqProcessor.Stop()
		derivProcessor.Stop()
		profileProcessor.Stop()

		log.Info("stopping cascade engine")
		eng.Stop()

		log.Info("stopping notifier")
		alerter.Stop()

		if signalWriter != nil {
			log.Info("stopping signal archive writer")
			signalWriter.Stop()
		}
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("cascadeflow stopped")
}
