package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copperline-io/opswatch/internal/alerting"
	"github.com/copperline-io/opswatch/internal/api"
	"github.com/copperline-io/opswatch/internal/events"
	"github.com/copperline-io/opswatch/internal/notifier"
	"github.com/copperline-io/opswatch/internal/scheduler"
	"github.com/copperline-io/opswatch/internal/ws"
	"github.com/copperline-io/opswatch/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "opswatch-server",
	Short: "OpsWatch Server - Device monitoring and automation server",
	Long: `OpsWatch Server ingests device metrics from agents, evaluates alert
rules, dispatches notifications, schedules script executions, and pushes
realtime updates to subscribed clients.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opswatch-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Get JWT secret from environment
	jwtSecret := os.Getenv("OPSWATCH_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("OPSWATCH_JWT_SECRET environment variable is required")
	}

	// Wire the core components around a shared event bus
	bus := events.NewBus(logger)
	defer bus.Close()

	engine := alerting.NewEngine(bus, logger)
	if cfg.Alerting.RulesFile != "" {
		rules, err := alerting.LoadRulesFromFile(cfg.Alerting.RulesFile)
		if err != nil {
			return fmt.Errorf("load alert rules: %w", err)
		}
		if err := engine.LoadRules(rules); err != nil {
			return fmt.Errorf("load alert rules: %w", err)
		}
		logger.Info("alert rules loaded",
			zap.String("file", cfg.Alerting.RulesFile),
			zap.Int("rules", len(engine.Rules())))
	}

	dispatcher := notifier.NewDispatcherWithRateLimit(bus, logger, cfg.dispatcherRateLimit())
	defer dispatcher.Close()
	if err := dispatcher.LoadChannels(cfg.Notifications.Channels); err != nil {
		return fmt.Errorf("load notification channels: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.NewSimulatedRunner(), bus, logger, cfg.Scheduler.MaxConcurrent)
	defer sched.Close()

	hub := ws.NewHub(logger)

	apiServer, err := api.New(&api.Config{
		Address:        cfg.Server.Address,
		JWTSecret:      []byte(jwtSecret),
		AccessTokenTTL: time.Duration(cfg.Server.AccessTokenTTL) * time.Minute,
		Verbose:        cfg.Verbose,
	}, engine, dispatcher, sched, hub, logger)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting opswatch-server", zap.String("version", config.Version))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Run(ctx)
	})

	g.Go(func() error {
		return routeEvents(ctx, bus, dispatcher, hub, logger)
	})

	if cfg.Alerting.RulesFile != "" && cfg.Alerting.WatchRules {
		g.Go(func() error {
			return alerting.WatchRulesFile(ctx, cfg.Alerting.RulesFile, engine, logger)
		})
	}

	g.Go(func() error {
		return purgeLoop(ctx, sched, cfg.retention(), cfg.purgeInterval())
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("run server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// routeEvents consumes the bus and fans events out to their consumers:
// fired alerts go to the dispatcher and the realtime hub, execution
// transitions go to the executions topic.
func routeEvents(ctx context.Context, bus *events.Bus, dispatcher *notifier.Dispatcher, hub *ws.Hub, logger *zap.Logger) error {
	sub := bus.Subscribe("server", events.DefaultBufferSize)
	defer bus.Unsubscribe("server")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			switch v := ev.(type) {
			case events.AlertFired:
				if err := dispatcher.Dispatch(ctx, v.Alert, v.Channels, v.Alert.OrganizationID); err != nil {
					logger.Warn("dispatch alert", zap.String("alert_id", v.Alert.ID), zap.Error(err))
				}
				hub.BroadcastAlert(v.Alert)

			case events.NotificationResult:
				if v.Err != nil {
					logger.Warn("notification failed",
						zap.String("alert_id", v.Alert.ID),
						zap.String("channel_id", v.ChannelID),
						zap.Error(v.Err))
				}

			case events.ExecutionTransition:
				hub.BroadcastToTopic(ws.TopicExecutions, ws.OutboundMessage{
					Type:      ws.TypeExecution,
					DeviceID:  v.Execution.DeviceID,
					Status:    string(v.Execution.Status),
					Data:      v.Execution,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
	}
}

// purgeLoop removes old finished executions on an interval.
func purgeLoop(ctx context.Context, sched *scheduler.Scheduler, retention, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sched.Purge(retention)
		}
	}
}
