package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "run <username> <password>",
		Short: "Check every source once and mirror new posts",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.credentials(args); err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return runOnce(cmd.Context(), o, cmd)
		},
	}
	o.bind(cmd)
	return cmd
}

func runOnce(ctx context.Context, o *options, cmd *cobra.Command) error {
	logger, err := newLogger(cmd.ErrOrStderr(), o.logFormat)
	if err != nil {
		return err
	}

	a, err := build(ctx, o, logger)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		return err
	}
	defer a.close()

	r, err := a.runner.Run(ctx)
	if err != nil {
		logger.Error("Run failed", "error", err)
		return err
	}

	if a.reporter != nil {
		if err := a.reporter.Send(ctx, r); err != nil {
			logger.Warn("Failed to send run report", "error", err)
		}
	}
	return nil
}
