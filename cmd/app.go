package cmd

import (
	"context"
	"time"

	"example.com/backstage/contacts/config"
	"example.com/backstage/contacts/internal/api/handlers"
	"example.com/backstage/contacts/internal/broadcast"
	"example.com/backstage/contacts/internal/cache"
	"example.com/backstage/contacts/internal/database"
	"example.com/backstage/contacts/internal/geo"
	"example.com/backstage/contacts/internal/messaging"
	"example.com/backstage/contacts/internal/metrics"
	"example.com/backstage/contacts/internal/notify"
	"example.com/backstage/contacts/internal/repositories"
	"example.com/backstage/contacts/internal/search"
	"example.com/backstage/contacts/internal/services"
	"example.com/backstage/contacts/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// app holds the collaborators shared by every command
type app struct {
	cfg       config.Config
	db        *database.Database
	repo      *repositories.GormContactRepository
	cache     *cache.RedisCache
	index     search.Index
	tracer    tracing.Tracer
	bus       messaging.Bus
	memoryBus bool
	publisher *messaging.Publisher
	contacts  *services.ContactService
}

// newApp connects to every backing service. Optional backends that fail to
// connect are logged and replaced by their disabled variants.
func newApp(cfg config.Config) (*app, error) {
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	metrics.Default().SetHealth("database", true)

	a := &app{
		cfg:  cfg,
		db:   db,
		repo: repositories.NewContactRepository(db.Write, db.Read),
	}

	a.cache, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		a.cache, _ = cache.NewRedisCache(config.RedisConfig{Enabled: false})
	}

	a.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		a.tracer = tracing.Noop()
	}

	a.index, err = search.NewIndex(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		a.index = search.Disabled{}
	}

	policy := messaging.Policy{
		MaxDeliveries: uint32(cfg.Azure.MaxDeliveries),
		BaseBackoff:   cfg.Azure.RetryBackoff,
		MaxBackoff:    30 * time.Second,
	}
	if cfg.Azure.ConnectionString == "" {
		log.Warn().Msg("Azure Service Bus connection string not set, using in-process bus")
		a.bus = messaging.NewMemoryBus(policy)
		a.memoryBus = true
	} else {
		a.bus, err = messaging.NewServiceBus(messaging.ServiceBusOptions{
			ConnectionString: cfg.Azure.ConnectionString,
			Source:           cfg.Tracing.AppName,
			Policy:           policy,
			MaxSessions:      cfg.Azure.MaxSessions,
		})
		if err != nil {
			a.Close(context.Background())
			return nil, errors.Wrap(err, "failed to initialize Azure Service Bus")
		}
	}

	a.publisher = messaging.NewPublisher(a.bus, messaging.PublisherOptions{
		Workers:     cfg.Azure.PublishWorkers,
		SendTimeout: cfg.Azure.PublishTimeout,
		MaxRetries:  cfg.Azure.PublishRetries,
	})

	a.contacts = services.NewContactService(a.repo, a.publisher, a.cache, a.index, a.tracer, services.ContactServiceOptions{
		Topic:      cfg.Azure.ContactTopic,
		StaleAfter: cfg.Reconcile.StaleAfter,
		BatchSize:  cfg.Reconcile.BatchSize,
	})
	return a, nil
}

func (a *app) visitorService(last broadcast.LastValue) *services.VisitorService {
	return services.NewVisitorService(a.publisher, geo.NewHeaderLocator(a.cfg.Geo.CountryHeader), last, a.cfg.Azure.VisitorTopic)
}

func (a *app) contactConsumer() *services.ContactConsumer {
	return services.NewContactConsumer(a.repo, a.publisher, notify.New(a.cfg.Notify), a.index, a.cache, a.tracer, a.cfg.Azure.ContactTopic)
}

func (a *app) healthChecks() map[string]handlers.HealthCheck {
	return map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return a.db.Ping() },
		"redis":    a.cache.Ping,
	}
}

// Close drains the publisher and releases every connection
func (a *app) Close(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to drain publisher")
		}
	} else if a.bus != nil {
		_ = a.bus.Close(ctx)
	}
	if a.tracer != nil {
		a.tracer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
