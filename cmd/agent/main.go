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

	"github.com/copperline-io/opswatch/internal/collector"
	"github.com/copperline-io/opswatch/pkg/config"
)

var (
	configFile string
	serverURL  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "opswatch-agent",
	Short: "OpsWatch Agent - Device metrics collector",
	Long: `OpsWatch Agent samples CPU, memory, disk, network and uptime metrics
from the local device and ships them to an OpsWatch server for
alert evaluation.`,
	RunE: runAgent,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opswatch-agent %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "agent.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if serverURL != "" {
		cfg.Server.URL = serverURL
	}

	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	col := collector.New(cfg.Agent.DiskPath, logger)
	shipper := collector.NewShipper(cfg.Server.URL, cfg.Server.Token, cfg.Agent.DeviceID)
	agent := collector.NewAgent(col, shipper, cfg.Agent.Interval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting opswatch-agent",
		zap.String("version", config.Version),
		zap.String("server", cfg.Server.URL),
		zap.String("device_id", cfg.Agent.DeviceID),
		zap.Duration("interval", cfg.Agent.Interval),
	)

	// Verify the server is reachable before entering the collection loop.
	healthCtx, healthCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := shipper.Healthcheck(healthCtx); err != nil {
		healthCancel()
		return fmt.Errorf("server healthcheck: %w", err)
	}
	healthCancel()

	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("run agent: %w", err)
	}

	logger.Info("agent stopped")
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
