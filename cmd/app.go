package main

import (
	"context"
	"time"

	"fund-arbitrage-bot/config"
	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/chart"
	"fund-arbitrage-bot/internal/commands"
	"fund-arbitrage-bot/internal/crawler"
	"fund-arbitrage-bot/internal/database"
	"fund-arbitrage-bot/internal/metrics"
	"fund-arbitrage-bot/internal/notifier"
	"fund-arbitrage-bot/internal/pipeline"
	"fund-arbitrage-bot/internal/scheduler"
	"fund-arbitrage-bot/internal/telegram"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// App wires the store, the upstream client, the channels and the pipeline
type App struct {
	Config     config.Config
	Location   *time.Location
	Store      *database.Store
	Client     *crawler.Client
	Dispatcher *alert.Dispatcher
	Metrics    *metrics.PipelineMetrics
	Service    *pipeline.Service
	Thresholds alert.Thresholds
}

func newApp(cfg config.Config) (*App, error) {
	loc := scheduler.LoadLocation(cfg.Schedule.Timezone)

	store, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	pipelineMetrics := metrics.New(prometheus.DefaultRegisterer)
	pipelineMetrics.Load(store)

	client := crawler.NewClient(crawler.Config{
		BaseURL:       cfg.Upstream.BaseURL,
		Token:         cfg.Upstream.Token,
		CategoryParam: cfg.Upstream.CategoryParam,
		Timeout:       cfg.Upstream.Timeout,
	})
	if cfg.Upstream.Token == "" {
		log.Warn("API_TOKEN is not set, the upstream source may reject requests")
	}

	channels := notifier.Build(cfg.Notify, notifier.Deps{
		Location: loc,
		Debug:    cfg.Debug,
	})
	dispatcher := alert.NewDispatcher(channels,
		alert.WithRecorder(store),
		alert.WithObserver(pipelineMetrics.ObserveChannel),
		alert.WithLocation(loc),
	)

	thresholds := alert.NewThresholds(cfg.Thresholds.Positive, cfg.Thresholds.Negative)
	service := pipeline.NewService(client, store, dispatcher, thresholds,
		pipeline.WithNormalizer(crawler.Normalizer{Location: loc}),
		pipeline.WithMetrics(pipelineMetrics),
		pipeline.WithRetentionDays(cfg.RetentionDays),
	)

	log.WithFields(log.Fields{
		"channels":  dispatcher.Channels(),
		"positive":  thresholds.Positive.String(),
		"negative":  thresholds.Negative.String(),
		"timezone":  loc.String(),
		"retention": cfg.RetentionDays,
	}).Info("application initialized")

	return &App{
		Config:     cfg,
		Location:   loc,
		Store:      store,
		Client:     client,
		Dispatcher: dispatcher,
		Metrics:    pipelineMetrics,
		Service:    service,
		Thresholds: thresholds,
	}, nil
}

// startCommands answers fund queries sent to the bot until the returned
// stop function is called or ctx is done.
func (a *App) startCommands(ctx context.Context) (func(), error) {
	tg := a.Config.Notify.Telegram
	if tg.Token == "" {
		return nil, errors.New("TELEGRAM_COMMANDS needs TELEGRAM_BOT_TOKEN")
	}

	bot, err := telegram.NewBot(telegram.BotConfig{
		Token:             tg.Token,
		Debug:             a.Config.Debug,
		UpdatesTimeout:    60,
		MessagesPerSecond: 20,
	})
	if err != nil {
		return nil, err
	}
	updates, err := bot.GetUpdatesChannel()
	if err != nil {
		return nil, err
	}

	opts := []commands.Option{commands.WithLocation(a.Location)}
	if tg.ChartFont != "" {
		font, err := chart.LoadFont(tg.ChartFont)
		if err != nil {
			log.WithError(err).Warn("using the default chart font")
		} else {
			opts = append(opts, commands.WithChartFont(font))
		}
	}
	handler := commands.NewHandler(a.Store, a.Thresholds.Sweep(), opts...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		commands.Listen(ctx, updates, bot, handler, a.Metrics.ObserveCommand)
	}()

	log.Info("answering telegram commands")
	return func() {
		bot.StopUpdates()
		<-done
	}, nil
}

// Close persists the metrics and releases the connections
func (a *App) Close() {
	a.Metrics.Save(a.Store)
	if err := a.Client.Close(); err != nil {
		log.WithError(err).Warn("failed to close upstream client")
	}
	if err := a.Store.Close(); err != nil {
		log.WithError(err).Warn("failed to close database")
	}
}
