package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prilive-com/ezsticker"
	"github.com/prilive-com/ezsticker/internal/broadcast"
	"github.com/prilive-com/ezsticker/internal/config"
	"github.com/prilive-com/ezsticker/internal/cooldown"
	"github.com/prilive-com/ezsticker/internal/coordinator"
	"github.com/prilive-com/ezsticker/internal/fetch"
	"github.com/prilive-com/ezsticker/internal/handler"
	"github.com/prilive-com/ezsticker/internal/i18n"
	"github.com/prilive-com/ezsticker/internal/logging"
	"github.com/prilive-com/ezsticker/internal/metrics"
	"github.com/prilive-com/ezsticker/internal/scrub"
	"github.com/prilive-com/ezsticker/internal/transform"
	"github.com/prilive-com/ezsticker/internal/userstore"
)

var configPath = flag.String("config", "config.yaml", "Path to the YAML configuration file")

func main() {
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(conf.Log, os.Stdout)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(conf, logger); err != nil {
		logger.Error("bot stopped with error", "error", scrub.TokenFromError(err, conf.Token))
		os.Exit(1)
	}
}

func run(conf *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	catalog, err := i18n.Load()
	if err != nil {
		return err
	}

	st, err := openStorage(ctx, conf.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Error("close storage", "error", err)
		}
	}()

	recorder := metrics.New(conf.Metrics.Enabled, prometheus.DefaultRegisterer, st.count)
	if conf.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, conf.Metrics.Listen, prometheus.DefaultGatherer, logger); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}
	st.start(ctx, recorder)

	bot, err := ezsticker.New(conf.Token.Value(),
		ezsticker.WithLogger(logger),
		ezsticker.WithBaseURL(conf.Telegram.BaseURL),
		ezsticker.WithPolling(conf.Telegram.PollingTimeout, 100),
		ezsticker.WithRequestTimeout(conf.Telegram.RequestTimeout),
		ezsticker.WithRateLimit(conf.Telegram.GlobalRPS, 10),
		ezsticker.WithPerChatRateLimit(conf.Telegram.PerChatRPS, 3),
	)
	if err != nil {
		return fmt.Errorf("ezsticker: create bot: %w", err)
	}
	defer bot.Close()

	me, err := bot.Me(ctx)
	if err != nil {
		return fmt.Errorf("ezsticker: getMe: %w", err)
	}
	logger.Info("bot identity", "username", me.Username, "id", me.ID)

	tracker := cooldown.New(conf.Cooldown.MaxUses, conf.Cooldown.Window, cooldown.WithLogger(logger))
	defer tracker.Close()
	sessions := &userstore.Sessions{}

	coord := coordinator.New(coordinator.Config{
		MaxFileSize:     conf.Media.MaxFileSize,
		DeliveryTimeout: conf.Media.DeliveryTimeout,
		TempDir:         conf.Media.TempDir,
		DonateInterval:  conf.Donate.SuggestInterval,
	}, coordinator.Deps{
		Bot:      bot.Sender(),
		Store:    st.store,
		Sessions: sessions,
		Tracker:  tracker,
		Catalog:  catalog,
	},
		coordinator.WithLogger(logger),
		coordinator.WithFetcher(fetch.New(fetch.Config{
			MaxSize:      conf.Media.MaxFileSize,
			HeadTimeout:  conf.Media.HeadTimeout,
			FetchTimeout: conf.Media.FetchTimeout,
			HostRPS:      2,
			HostBurst:    4,
			UserAgent:    "EzStickerBot/" + me.Username,
		}, fetch.WithLogger(logger))),
		coordinator.WithTranscoder(transform.NewVideoTranscoder(conf.Media.FFmpegPath, conf.Media.FFprobePath)),
		coordinator.WithCache(coordinator.NewCache(conf.Media.CacheSizeMB, conf.Media.CacheTTL)),
		coordinator.WithMetrics(recorder),
	)

	dispatcher := broadcast.New(broadcast.Config{
		BatchSize:         conf.Broadcast.BatchSize,
		Interval:          conf.Broadcast.Interval,
		StartDelay:        conf.Broadcast.StartDelay,
		OverrideOptOut:    conf.Broadcast.OverrideOptOut,
		SendOptOutMessage: conf.Broadcast.SendOptOutMessage,
	}, bot.Sender(), st.store, catalog,
		broadcast.WithLogger(logger),
		broadcast.WithMetrics(recorder),
	)

	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	h := handler.New(handler.Config{
		Admins:         conf.Admins,
		AllowedChatIDs: conf.AllowedChatIDs,
		BotUsername:    me.Username,
		Token:          conf.Token,
		LogFile:        conf.Log.File,
		Links:          conf.Links,
		Donate:         conf.Donate,
		Workers:        conf.Handler.Workers,
	}, handler.Deps{
		Bot:       bot.Sender(),
		Store:     st.store,
		Sessions:  sessions,
		Catalog:   catalog,
		Media:     coord,
		Broadcast: dispatcher,
	},
		handler.WithLogger(logger),
		handler.WithMetrics(recorder),
		handler.WithShutdown(shutdown),
	)

	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("ezsticker: start polling: %w", err)
	}
	logger.Info("bot started", "storage", conf.Storage.Driver, "workers", conf.Handler.Workers)

	h.Run(ctx, bot.Updates())

	logger.Info("shutting down")
	bot.Stop()
	return nil
}
