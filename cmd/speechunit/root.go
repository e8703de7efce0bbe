package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hupe1980/speechunit"
	"github.com/hupe1980/speechunit/config"
	"github.com/hupe1980/speechunit/metrics"
)

var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "speechunit",
	Short: "Learn discrete speech units with k-means",
	Long: `speechunit trains a k-means codebook over frame embeddings of an audio
corpus and maps audio files to unit sequences with it.

Examples:
  speechunit train -c train.yaml
  speechunit quantize -c train.yaml ckpt/checkpoint_last.bin units/
  speechunit quantize -c train.yaml --split 2-8 --resume ckpt/checkpoint_last.bin units/`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads --config, or the defaults without one, and applies the
// global flag overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

// newLogger writes text to a terminal and JSON lines otherwise.
func newLogger(cfg config.Logging) (*speechunit.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	format := cfg.Format
	if format == "" || format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return speechunit.NewTextLogger(os.Stderr, level), nil
	case "json":
		return speechunit.NewJSONLogger(os.Stderr, level), nil
	default:
		return nil, fmt.Errorf("%w: logging.format %q", speechunit.ErrInvalidConfig, cfg.Format)
	}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// setup opens the pipeline and, when configured, the metrics endpoint.
func setup(ctx context.Context, cfg config.Config) (*speechunit.Pipeline, *speechunit.Logger, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	var collector metrics.Collector = &metrics.Basic{}
	if cfg.Metrics.Addr != "" {
		prom := metrics.NewPrometheus(cfg.Metrics.Namespace)
		collector = prom
		go func() {
			if err := prom.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.ErrorContext(ctx, "metrics server stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		logger.InfoContext(ctx, "serving metrics", "addr", cfg.Metrics.Addr)
	}

	p, err := speechunit.New(ctx, cfg,
		speechunit.WithLogger(logger),
		speechunit.WithMetrics(collector),
	)
	if err != nil {
		return nil, nil, err
	}
	return p, logger, nil
}
