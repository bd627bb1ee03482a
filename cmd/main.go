package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"fund-arbitrage-bot/config"
	"fund-arbitrage-bot/internal/pipeline"
	"fund-arbitrage-bot/internal/scheduler"
	"fund-arbitrage-bot/internal/server"
	"fund-arbitrage-bot/lib/translation"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	metricsSaveInterval = 5 * time.Minute
	// a full crawl paces its category requests a minute apart
	scheduledRunDrainTimeout = 10 * time.Minute
)

func init() {
	config.InitConfig()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           "fund-arbitrage-bot",
		Short:         "Harvests fund premium/discount listings and alerts on outliers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			setupLogging(cfg)
			translation.Configure("locales", cfg.Lang)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}

	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	root.PersistentFlags().String("db", "", "database path, overrides DB_PATH")
	viper.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("db_path", root.PersistentFlags().Lookup("db"))

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the scheduler and the HTTP API until interrupted",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cfg)
			},
		},
		&cobra.Command{
			Use:   "crawl",
			Short: "Fetch every category once, store the new records and alert on them",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(cmd.Context(), cfg, (*pipeline.Service).Ingest)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Alert on every stored fund outside the thresholds",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(cmd.Context(), cfg, (*pipeline.Service).Sweep)
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete records older than the retention window",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(cmd.Context(), cfg, (*pipeline.Service).Cleanup)
			},
		},
		&cobra.Command{
			Use:   "test-notifications",
			Short: "Send a test message through every configured channel",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTestNotifications(cmd.Context(), cfg, cmd.OutOrStdout())
			},
		},
	)

	return root
}

func setupLogging(cfg config.Config) {
	log.SetLevel(log.ErrorLevel)
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LogLevel != "" {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.WithError(err).Warn("ignoring LOG_LEVEL")
		} else {
			log.SetLevel(level)
		}
	}

	if cfg.LogFile != "" {
		log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}))
	}
	log.Debug("Starting fund arbitrage bot...")
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runOnce(ctx context.Context, cfg config.Config, run func(*pipeline.Service, context.Context) (pipeline.Report, error)) error {
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext(ctx)
	defer stop()

	report, err := run(app.Service, ctx)
	fmt.Printf("%s %s: fetched=%d inserted=%d skipped=%d failed=%d alerts=%d purged=%d\n",
		report.Task, report.RunID, report.Fetched, report.Stored.Inserted, report.Stored.Skipped,
		report.Stored.Failed, report.Alerts, report.Purged)
	return err
}

func runTestNotifications(ctx context.Context, cfg config.Config, out io.Writer) error {
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	failed := 0
	for name, err := range app.Dispatcher.TestChannels(ctx) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "%-10s FAILED %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "%-10s ok\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d channel(s) failed", failed)
	}
	return nil
}

func runServe(cfg config.Config) error {
	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	sched := scheduler.NewDefault(cfg.Schedule, app.Location, app.Service.Jobs())
	sched.Start()

	srv := server.New(server.Deps{
		Funds:          app.Store,
		Runner:         app.Service,
		Notifier:       app.Dispatcher,
		Scheduler:      sched,
		Upstream:       app.Client,
		SweepThreshold: app.Thresholds.Sweep(),
	})

	ctx, stop := signalContext(context.Background())
	defer stop()

	stopCommands := func() {}
	if cfg.Notify.Telegram.Commands {
		if stopFn, err := app.startCommands(ctx); err != nil {
			log.WithError(err).Error("telegram commands disabled")
		} else {
			stopCommands = stopFn
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe(cfg.Port)
	}()

	go func() {
		ticker := time.NewTicker(metricsSaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				app.Metrics.Save(app.Store)
			}
		}
	}()

	log.Infof("fund arbitrage bot started, health check on http://localhost:%d/health", cfg.Port)

	shutdown := func(reason string) {
		log.Infof("%s, shutting down...", reason)

		repeated := make(chan os.Signal, 1)
		signal.Notify(repeated, os.Interrupt, syscall.SIGTERM)
		done := make(chan struct{})
		defer close(done)
		go ignoreRepeatedSignals(repeated, done)
		stop()

		stopCommands()
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("failed to stop api server")
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), scheduledRunDrainTimeout)
		defer cancelDrain()
		if err := sched.Wait(drainCtx); err != nil {
			log.WithError(err).Warn("closing the store before the scheduled run finished")
		}

		app.Close()
		log.Info("Metrics saved, shut down cleanly")
	}

	select {
	case <-ctx.Done():
		shutdown("signal received")
		return nil
	case err := <-serverErr:
		shutdown("api server stopped")
		return err
	}
}

func ignoreRepeatedSignals(sig chan os.Signal, done <-chan struct{}) {
	defer signal.Stop(sig)
	for {
		select {
		case <-done:
			return
		case <-sig:
			log.Warn("shutdown already in progress, ignoring repeated signal")
		}
	}
}
