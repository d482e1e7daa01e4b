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

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API serving contact submissions, admin queries and visitor tracking`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	if a.memoryBus {
		log.Warn().Msg("API is using the in-process bus and no worker will receive its events; use serve for a single-process setup")
	}

	hub := broadcast.NewHub(cfg.Server.CorsOrigins)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	if a.cache.Enabled() {
		g.Go(func() error {
			return broadcast.Relay(ctx, a.cache.Client(), hub, broadcast.ChannelLiveStats)
		})
	}

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
		log.Error().Err(err).Msg("API server error")
		return err
	}
	log.Info().Msg("Shutting down API server")
	return nil
}

// serveHTTP runs server on g and shuts it down when ctx ends
func serveHTTP(ctx context.Context, g *errgroup.Group, server *api.Server) {
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})
}
