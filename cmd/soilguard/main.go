package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"soilguard/internal/alerts"
	"soilguard/internal/api"
	"soilguard/internal/backend"
	"soilguard/internal/config"
	"soilguard/internal/engine"
	"soilguard/internal/ingest"
	"soilguard/internal/logging"
	"soilguard/internal/metrics"
	"soilguard/internal/model"
	"soilguard/internal/normalize"
	"soilguard/internal/notify"
	"soilguard/internal/refresh"
	"soilguard/internal/storage"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:          "soilguard",
	Short:        "Soil telemetry classification and alert notification service",
	Version:      Version,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingest, the HTTP API and the periodic alert refresh",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one alert refresh cycle and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRefresh(cmd.Context())
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <metric> <value>",
	Short: "Classify one metric value against the active threshold table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClassify(cmd, args[0], args[1])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SOILGUARD_CONFIG"), "path to a YAML, JSON or TOML config file")
	rootCmd.AddCommand(serveCmd, refreshCmd, classifyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Manager, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if configPath == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, err
		}
		return config.NewStaticManager(cfg), nil
	}
	return config.NewManager(config.ResolvePath(configPath))
}

// components holds everything the serve and refresh commands share.
type components struct {
	cfgMgr     *config.Manager
	logger     *slog.Logger
	store      storage.Store
	client     *backend.Client
	feed       *alerts.Store
	refresher  *refresh.Refresher
	dispatcher *notify.Multi
	closers    []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func build(ctx context.Context) (*components, error) {
	cfgMgr, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := cfgMgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	c := &components{cfgMgr: cfgMgr, logger: logger, feed: alerts.NewStore(cfg.Notify.FeedLimit)}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	c.store = store
	c.closers = append(c.closers, func() { _ = store.Close() })

	var dispatchers []notify.Dispatcher
	if cfg.Notify.LogEnabled {
		dispatchers = append(dispatchers, notify.NewLogDispatcher(logger))
	}
	if cfg.Notify.MQTT.Enabled {
		mq, err := notify.NewMQTTDispatcher(cfg.Notify.MQTT, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		dispatchers = append(dispatchers, mq)
		c.closers = append(c.closers, mq.Close)
	}
	if len(dispatchers) == 0 {
		dispatchers = append(dispatchers, notify.NewLogDispatcher(logger))
	}
	c.dispatcher = notify.NewMulti(dispatchers...)

	if cfg.Backend.BaseURL != "" {
		client, err := backend.New(cfg.Backend, normalize.Location(cfg.Ingest.Parser.Timezone))
		if err != nil {
			c.Close()
			return nil, err
		}
		c.client = client
		c.refresher = refresh.New(client, store, c.dispatcher, c.feed, logger, refresh.Options{
			SeenKey:      cfg.Notify.SeenKey,
			SeenCapacity: cfg.Notify.SeenCapacity,
			Concurrency:  cfg.Backend.Concurrency,
		})
	}
	logger.Info("soilguard configured",
		"version", Version,
		"config_path", cfgMgr.Path(),
		"storage", cfg.Storage.Driver,
		"backend", cfg.Backend.BaseURL != "",
		"dispatchers", c.dispatcher.Len(),
	)
	return c, nil
}

func runServe(ctx context.Context) error {
	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg := c.cfgMgr.Get()
	logger := c.logger

	statusStore := metrics.NewStore(cfg.Status.StoreLimit)
	eng := engine.NewEngine(cfg, logger, statusStore)
	readings := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, readings)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go c.cfgMgr.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", c.cfgMgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stopWatch)

	ingest.StartREST(ctx, c.cfgMgr, readings, logger)
	ingest.StartKafka(ctx, c.cfgMgr, readings, logger)

	deps := api.Deps{
		Config:  c.cfgMgr,
		Status:  statusStore,
		Feed:    c.feed,
		Engine:  eng,
		Logger:  logger,
		Version: Version,
	}
	if c.client != nil {
		deps.Backend = c.client
		deps.Refresher = c.refresher
	}
	api.Start(ctx, deps)

	if c.refresher != nil {
		go refreshLoop(ctx, c.refresher, cfg.Notify.RefreshInterval.Std(), logger)
	} else {
		logger.Info("backend not configured, alert refresh disabled")
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func refreshLoop(ctx context.Context, r *refresh.Refresher, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = time.Minute
	}
	run := func() {
		if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("refresh failed", "err", err)
		}
	}
	run()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}

func runRefresh(ctx context.Context) error {
	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if c.refresher == nil {
		return fmt.Errorf("backend.base_url is not configured")
	}
	res, err := c.refresher.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("feed=%d notified=%d seen=%d warnings=%d\n", len(res.Feed), len(res.Notified), len(res.Seen), len(res.Warnings))
	for _, w := range res.Warnings {
		fmt.Printf("warning: %v\n", w)
	}
	return nil
}

func runClassify(cmd *cobra.Command, metricArg, valueArg string) error {
	metric, err := model.ParseMetric(metricArg)
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(valueArg, 64)
	if err != nil {
		return fmt.Errorf("parse value %q: %w", valueArg, err)
	}
	cfgMgr, err := loadConfig()
	if err != nil {
		return err
	}
	eng := engine.NewEngine(cfgMgr.Get(), nil, nil)
	level := eng.Classify(metric, value)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %g %s %s\n", metric, value, level, engine.Color(level))
	if text, ok := eng.Suggest(metric, value, level); ok {
		fmt.Fprintln(out, text)
	}
	return nil
}
