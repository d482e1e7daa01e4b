package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"example.com/backstage/contacts/internal/api"
	"example.com/backstage/contacts/internal/auth"
	"example.com/backstage/contacts/internal/broadcast"
	"example.com/backstage/contacts/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API and the worker in one process",
	Long: `Run the HTTP API, both consumers and the reconciliation sweep in a
single process. Live stats go straight to the in-process websocket hub.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	hub := broadcast.NewHub(cfg.Server.CorsOrigins)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	startWorkers(ctx, g, a, hub)

	server := api.NewServer(cfg.Server, api.Dependencies{
		Contacts:     a.contacts,
		Visitors:     a.visitorService(hub),
		Hub:          hub,
		Auth:         auth.New(cfg.Auth),
		Tracer:       a.tracer,
		Metrics:      metrics.Default(),
		HealthChecks: a.healthChecks(),
	})
	serveHTTP(ctx, g, server)

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service error")
		return err
	}
	log.Info().Msg("Service shut down gracefully")
	return nil
}
