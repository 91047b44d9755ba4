package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/formsync/internal/devserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference backend (REST + websocket) in memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	return devserver.Run(ctx, devserver.Config{
		Addr:   cfg.ListenAddr,
		Logger: logger,
	})
}
