package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"example.com/backstage/contacts/internal/broadcast"
	"example.com/backstage/contacts/internal/services"
	"example.com/backstage/contacts/internal/stats"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Consume the contact and visitor topics and run the reconciliation sweep`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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
		log.Warn().Msg("Worker is using the in-process bus and will only see its own events; use serve for a single-process setup")
	}

	var broadcaster broadcast.Publisher = broadcast.Nop{}
	if a.cache.Enabled() {
		broadcaster = broadcast.NewRedisPublisher(a.cache.Client())
	} else {
		log.Warn().Msg("Redis disabled, live stats will not reach the API process")
	}

	g, ctx := errgroup.WithContext(ctx)
	startWorkers(ctx, g, a, broadcaster)

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// startWorkers runs both consumers and the reconciliation scheduler on g
func startWorkers(ctx context.Context, g *errgroup.Group, a *app, broadcaster broadcast.Publisher) {
	azure := a.cfg.Azure
	contactConsumer := a.contactConsumer()
	visitorConsumer := services.NewVisitorConsumer(stats.NewAggregator(), broadcaster)

	g.Go(func() error {
		return a.bus.Consume(ctx, azure.ContactTopic, azure.ContactSubscription, contactConsumer)
	})
	g.Go(func() error {
		return a.bus.Consume(ctx, azure.VisitorTopic, azure.VisitorSubscription, visitorConsumer)
	})
	g.Go(func() error {
		return runReconciler(ctx, a)
	})
}

// runReconciler republishes stale contacts on the configured interval until
// ctx is cancelled
func runReconciler(ctx context.Context, a *app) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(a.cfg.Reconcile.Interval),
		gocron.NewTask(func() {
			n, err := a.contacts.ReconcileContacts(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reconcile contacts")
				return
			}
			if n > 0 {
				log.Info().Int("republished", n).Msg("Reconciliation republished stale contacts")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	log.Info().Dur("interval", a.cfg.Reconcile.Interval).Msg("Starting contact reconciliation scheduler")
	scheduler.Start()

	<-ctx.Done()
	return scheduler.Shutdown()
}
