package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cgradwohl/backend-services-2-sub001/internal/api"
	"github.com/cgradwohl/backend-services-2-sub001/internal/engine"
	"github.com/cgradwohl/backend-services-2-sub001/internal/logging"
	"github.com/cgradwohl/backend-services-2-sub001/internal/queue"
	"github.com/cgradwohl/backend-services-2-sub001/internal/scheduler"
	"github.com/cgradwohl/backend-services-2-sub001/internal/services"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
	mcpserver "github.com/cgradwohl/backend-services-2-sub001/pkg/mcp"
)

func newServeCmd() *cobra.Command {
	var (
		withMCP  bool
		httpAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the step consumer, delay sweeper and job scheduler",
		Long: `Run the engine until interrupted. With --mcp (or mcp: true in the
settings file) the MCP tool surface is served over stdio as well. With
--http (or http_addr) the run API and its event streams are served over HTTP.
SIGHUP reloads the settings file; only log_level applies without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if withMCP {
				cfg.MCP = true
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "serve MCP tools over stdio")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve the HTTP API on this address")
	return cmd
}

func serve(ctx context.Context, cfg Config) error {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.New(os.Stderr, level)
	slog.SetDefault(logger)

	primary, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer primary.Close()

	var st store.Store = primary
	if cfg.LegacyDBPath != "" {
		legacy, err := openStore(ctx, cfg.LegacyDBPath)
		if err != nil {
			return err
		}
		defer legacy.Close()
		st = store.NewFallbackStore(primary, legacy)
	}

	sessions := mcpserver.NewSessionRegistry()
	reporter := mcpserver.NewNotifyingReporter(sessions, engine.LogReporter{Logger: logger})

	eng, err := engine.New(engine.Options{
		Store: st,
		Queue: queue.NewLibSQLQueue(primary.DB()),
		Webhook: services.NewHTTPWebhook(services.WebhookConfig{
			DefaultTimeout: cfg.WebhookTimeout,
			AllowPrivate:   cfg.AllowPrivateWebhooks,
		}),
		ConditionEngine: cfg.ConditionEngine,
		PoolSize:        cfg.PoolSize,
		SweepInterval:   cfg.SweepInterval,
		Consumer:        engine.ConsumerConfig{MaxAttempts: cfg.MaxAttempts},
		Reporter:        reporter,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	sched := scheduler.NewScheduler(st, eng.Service, cfg.ScheduleInterval, nil, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return sched.Stop()
	})
	g.Go(func() error {
		watchReload(gctx, cfg, level, logger)
		return nil
	})

	if cfg.HTTPAddr != "" {
		httpSrv := api.NewServer(api.Deps{Service: eng.Service, Hub: eng.Events, Logger: logger})
		g.Go(func() error { return httpSrv.ListenAndServe(gctx, cfg.HTTPAddr) })
	}

	if cfg.MCP {
		srv := mcpserver.NewAutomationServer(mcpserver.AutomationServerDeps{
			Service:   eng.Service,
			Templates: st,
			Scheduler: sched,
			Sessions:  sessions,
			Logger:    logger,
		})
		reporter.Attach(srv.MCPServer())
		g.Go(func() error { return reporter.ForwardRunEvents(gctx, eng.Events) })
		g.Go(func() error {
			if err := srv.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	logger.Info("automations started",
		slog.String("db_path", cfg.DBPath),
		slog.Bool("legacy", cfg.LegacyDBPath != ""),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Bool("mcp", cfg.MCP),
		slog.String("http_addr", cfg.HTTPAddr),
	)
	err = g.Wait()
	logger.Info("automations stopped")
	return err
}

// watchReload re-reads the settings file on SIGHUP until ctx is done.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := loadConfig(configPath)
			if err != nil {
				logger.Error("config reload failed", slog.String("error", err.Error()))
				continue
			}
			diff := diffConfigs(current, next)
			if diff.LogLevelChanged {
				level.Set(logging.ParseLevel(next.LogLevel))
				logger.Info("log level changed", slog.String("level", next.LogLevel))
			}
			if len(diff.RestartNeeded) > 0 {
				logger.Warn("config changes need a restart", slog.Any("fields", diff.RestartNeeded))
			}
			current.LogLevel = next.LogLevel
		}
	}
}
