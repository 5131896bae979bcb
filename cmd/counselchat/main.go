package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"counselchat/internal/app"
	"counselchat/internal/config"
	"counselchat/internal/logging"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool
	var checkOnly bool

	rootCmd := &cobra.Command{
		Use:          "counselchat",
		Short:        "Real-time counselor/client chat relay",
		Version:      fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkOnly {
				cfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("config validation failed: %w", err)
				}
				printSummary(cmd.OutOrStdout(), cfg)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, configPath, verbose)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&checkOnly, "check-config", false, "Validate config and exit")
	return rootCmd
}

func printSummary(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Configuration is valid.\n")
	fmt.Fprintf(out, "  Listen: %s\n", cfg.Address())
	fmt.Fprintf(out, "  Storage: %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "  Counselor: %s\n", cfg.Counseling.CounselorID)
	fmt.Fprintf(out, "  Metrics: %v\n", cfg.Monitoring.MetricsEnabled)
}

// runServer blocks until ctx is cancelled, then drains and shuts down
func runServer(ctx context.Context, configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if closer := logging.Setup(cfg.Logging); closer != nil {
		defer closer.Close()
	}

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return err
	}
	if err := application.Start(ctx); err != nil {
		slog.Error("failed to start", "error", err)
		return err
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)

	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go watchdog(watchdogCtx)

	<-ctx.Done()
	slog.Info("received shutdown signal, draining connections",
		"shutdown_timeout", cfg.HTTP.ShutdownTimeout.String())

	watchdogCancel()
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}

// watchdog pings systemd at half the configured interval; a no-op outside systemd
func watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				slog.Warn("failed to notify watchdog", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
