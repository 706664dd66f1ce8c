package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/windowchat/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr         string
		withTelegram bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if withTelegram {
				if err := cfg.ValidateTelegram(); err != nil {
					return err
				}
			}

			a, err := newApp(cfg, logger, "chatd")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			srv := server.New(a.registry, a.promReg, logger.Named("http-server"))
			g.Go(func() error {
				return srv.Start(gctx, cfg.ListenAddr)
			})
			if withTelegram {
				commander, err := newCommander(cfg)
				if err != nil {
					return err
				}
				b := newBridge(commander, a, logger.Named("telegram"))
				g.Go(func() error {
					return b.run(gctx)
				})
			}
			err = g.Wait()
			logger.Info("chatd stopped", zap.Error(err))
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides WINDOWCHAT_LISTEN_ADDR)")
	cmd.Flags().BoolVar(&withTelegram, "telegram", false, "also serve the Telegram bot")
	return cmd
}

func newTelegramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "telegram",
		Short: "Serve sessions as a Telegram bot, one session per chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if err := cfg.ValidateTelegram(); err != nil {
				return err
			}
			commander, err := newCommander(cfg)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, "chatd")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return newBridge(commander, a, logger.Named("telegram")).run(ctx)
		},
	}
}
