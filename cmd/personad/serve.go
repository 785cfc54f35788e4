package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/NethermindEth/chaoschain-persona/api"
	"github.com/NethermindEth/chaoschain-persona/api/handlers"
	"github.com/NethermindEth/chaoschain-persona/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the persona API and the upload workers",
	RunE:  runServe,
}

func init() {
	config.BindFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := buildNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.service.Start(); err != nil {
		return err
	}

	server := api.NewServer(cfg.APIPort, handlers.NewHandler(n.service, n.ws, logger), n.registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.ws.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// queued uploads drain before the process exits
		return n.service.Stop()
	})

	logger.Info("personad started", "api_port", cfg.APIPort, "content_store", cfg.ContentStore)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("personad stopped")
	return nil
}
