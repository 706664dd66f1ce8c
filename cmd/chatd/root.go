package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/windowchat/internal/config"
	logpkg "github.com/stupiduntilnot/windowchat/internal/log"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Windowed chat daemon",
		Long:          "chatd keeps the last k exchanges of each conversation and sends them with every prompt to a text-completion backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (overrides WINDOWCHAT_CONFIG)")
	root.AddCommand(newServeCmd(), newTelegramCmd(), newREPLCmd())
	return root
}

// loadConfig resolves configuration and builds the logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	if cfgFile != "" {
		if err := os.Setenv("WINDOWCHAT_CONFIG", cfgFile); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logpkg.Setup(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
