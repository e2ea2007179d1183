package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/iTrooz/offline-cache/internal/proxy"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Register the worker and start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := proxy.New(opts.config)
			if err != nil {
				return fmt.Errorf("create proxy server: %w", err)
			}
			defer func() {
				if err := server.Close(); err != nil {
					logrus.Errorf("Failed to close cache storage: %v", err)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logrus.Infof("Using config %s", opts.configPath)
			return server.Start(ctx)
		},
	}
}
