// Package cli implements the tensorbridge command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strand-protocol/tensorbridge/pkg/bridge"
	"github.com/strand-protocol/tensorbridge/pkg/config"
	"github.com/strand-protocol/tensorbridge/pkg/logging"
	"github.com/strand-protocol/tensorbridge/pkg/observability"
	"github.com/strand-protocol/tensorbridge/pkg/output"
	"github.com/strand-protocol/tensorbridge/pkg/telemetry"
)

var (
	// Global flags
	cfgFile      string
	outputFormat string
	hostFlag     string
	portFlag     int
	logLevel     string
	metricsAddr  string

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	logger    *zap.Logger
	formatter output.Formatter
	providers *telemetry.Providers

	// Injected by tests; take precedence over the values built from cfg.
	injectedLogger    *zap.Logger
	injectedFormatter output.Formatter
)

// rootCmd is the base command for tensorbridge.
var rootCmd = &cobra.Command{
	Use:   "tensorbridge",
	Short: "Stream multi-tensor frames between pipelines over gRPC",
	Long: `tensorbridge carries multi-tensor frames between two processes over a
gRPC client stream. The server role delivers every received frame to a local
consumer; the client role replays buffers from a data repository.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if cmd.Flags().Changed("host") {
			cfg.Host = hostFlag
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = portFlag
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if metricsAddr != "" {
			cfg.Metrics.Addr = metricsAddr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger = injectedLogger
		if logger == nil {
			if logger, err = logging.New(cfg.Log); err != nil {
				return err
			}
		}

		formatter = injectedFormatter
		if formatter == nil {
			formatter = output.NewFormatter(outputFormat)
		}

		providers, err = telemetry.Init(cmd.Context(), cfg.Tracing, logger, version)
		return err
	},
}

// shutdownTelemetry flushes pending spans once the command has finished.
func shutdownTelemetry() {
	if providers == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := providers.Shutdown(ctx); err != nil && logger != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}
	providers = nil
}

// Execute runs the root command until it returns or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// SetLogger allows tests to inject a logger.
func SetLogger(l *zap.Logger) {
	injectedLogger = l
}

// SetFormatter allows tests to inject a formatter.
func SetFormatter(f output.Formatter) {
	injectedFormatter = f
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

// bridgeOptions maps the loaded configuration onto bridge options.
func bridgeOptions(m *observability.Metrics) []bridge.Option {
	return []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithMetrics(m),
		bridge.WithShutdownTimeout(cfg.ShutdownTimeout),
		bridge.WithMaxMessageSize(cfg.MaxMessageSize),
		bridge.WithQueueLimits(cfg.Queue.MaxBuffers, cfg.Queue.MaxBytes),
		bridge.WithWaitForReady(cfg.WaitForReady),
		bridge.WithTracerProvider(providers.TracerProvider()),
	}
}

func init() {
	cobra.OnFinalize(shutdownTelemetry)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.tensorbridge/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: table, json, yaml (default \"table\")")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", bridge.DefaultHost, "peer host (client) or bind host (server)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", bridge.DefaultPort, "peer or bind port")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}
