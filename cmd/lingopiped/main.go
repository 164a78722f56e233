// Command lingopiped is the video processing daemon: it claims queued jobs,
// walks them through the pipeline stages, and serves the local control API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lingopipe/internal/config"
	"lingopipe/internal/daemon"
	"lingopipe/internal/logging"
	"lingopipe/internal/preflight"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:           "lingopiped",
		Short:         "Video processing pipeline daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, skipPreflight)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "start even when preflight checks fail")
	return cmd
}

func run(ctx context.Context, configPath string, skipPreflight bool) error {
	cfg, resolvedPath, exists, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("configuration loaded", logging.String("path", resolvedPath))
	} else {
		logger.Info("no configuration file found; using defaults", logging.String("path", resolvedPath))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := preflight.Run(ctx, cfg, logger)
	if !result.Passed() {
		for _, check := range result.Failures() {
			logger.Error("preflight check failed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
			)
		}
		if !skipPreflight {
			return fmt.Errorf("preflight failed; fix the reported checks or pass --skip-preflight")
		}
		logger.Warn("continuing despite preflight failures")
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Run(ctx)
}
