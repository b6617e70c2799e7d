package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"insta-mirror/server"
)

func newServeCmd() *cobra.Command {
	o := &options{}
	var port string
	cmd := &cobra.Command{
		Use:   "serve [username] [password]",
		Short: "Serve /health and /pollz; each POST to /pollz runs one check",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.credentials(args); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			logger, err := newLogger(cmd.ErrOrStderr(), o.logFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, o, logger)
			if err != nil {
				logger.Error("Startup failed", "error", err)
				return err
			}
			defer a.close()

			cfg := &server.Config{Runner: a.runner, Logger: logger}
			if a.reporter != nil {
				cfg.Reporter = a.reporter
			}
			return server.New(cfg).ListenAndServe(ctx, port)
		},
	}
	o.bind(cmd)
	cmd.Flags().StringVar(&port, "port", envOr("PORT", "8080"), "HTTP listen port")
	return cmd
}
