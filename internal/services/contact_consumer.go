package services

import (
	"context"
	"time"

	"example.com/backstage/contacts/internal/cache"
	"example.com/backstage/contacts/internal/classifier"
	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/messaging"
	"example.com/backstage/contacts/internal/metrics"
	"example.com/backstage/contacts/internal/models"
	"example.com/backstage/contacts/internal/notify"
	"example.com/backstage/contacts/internal/repositories"
	"example.com/backstage/contacts/internal/search"
	"example.com/backstage/contacts/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ContactConsumer analyses submitted contacts. It is the only place a
// contact notification is sent from.
type ContactConsumer struct {
	repo      repositories.ContactRepository
	publisher EventPublisher
	notifier  notify.Dispatcher
	index     search.Index
	cache     cache.Cache
	tracer    tracing.Tracer
	topic     string
	now       func() time.Time
}

// NewContactConsumer creates a consumer for the contact stream. Processed
// events are published back on topic.
func NewContactConsumer(
	repo repositories.ContactRepository,
	publisher EventPublisher,
	notifier notify.Dispatcher,
	index search.Index,
	cache cache.Cache,
	tracer tracing.Tracer,
	topic string,
) *ContactConsumer {
	if topic == "" {
		topic = events.TopicContactEvents
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &ContactConsumer{
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		index:     index,
		cache:     cache,
		tracer:    tracer,
		topic:     topic,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements messaging.Handler
func (c *ContactConsumer) Handle(ctx context.Context, msg *messaging.Message) messaging.Outcome {
	ctx, txn := c.tracer.StartTransaction(ctx, "consume/"+c.topic)
	defer txn.End()

	start := time.Now()
	outcome := c.dispatch(ctx, msg)
	metrics.Default().RecordTimer(metrics.HandleLatency, time.Since(start))
	return outcome
}

func (c *ContactConsumer) dispatch(ctx context.Context, msg *messaging.Message) messaging.Outcome {
	eventType, err := events.PeekType(msg.Body)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed contact event")
		return messaging.Poison
	}

	switch eventType {
	case events.TypeContactSubmitted:
		var ev events.ContactSubmittedEvent
		if err := events.Decode(msg.Body, &ev); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed contact event")
			return messaging.Poison
		}
		return c.handleSubmitted(ctx, msg, &ev)

	case events.TypeContactProcessed:
		var ev events.ContactProcessedEvent
		if err := events.Decode(msg.Body, &ev); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed contact event")
			return messaging.Poison
		}
		log.Info().
			Str("contact_id", ev.ContactID).
			Str("status", ev.Status).
			Str("analysis", ev.AnalysisResult).
			Msg("Contact processing completed")
		return messaging.Success
	}

	log.Warn().Str("event_type", eventType).Str("message_id", msg.ID).Msg("Ignoring unknown contact event type")
	return messaging.Success
}

func (c *ContactConsumer) handleSubmitted(ctx context.Context, msg *messaging.Message, ev *events.ContactSubmittedEvent) messaging.Outcome {
	logger := log.With().Str("contact_id", ev.ContactID).Str("event_id", ev.EventID).Logger()
	if ev.ContactID == "" {
		logger.Error().Msg("Contact event has no contact id")
		return messaging.Poison
	}
	c.tracer.AddAttribute(ctx, "contact_id", ev.ContactID)

	contact, err := c.repo.GetByID(ctx, ev.ContactID)
	if errors.Is(err, repositories.ErrNotFound) {
		logger.Error().Msg("Contact from event does not exist")
		return messaging.Poison
	}
	if err != nil {
		return c.retry(ctx, logger, err, "Failed to load contact")
	}

	switch {
	case contact.Status == models.StatusNew:
		now := c.now()
		won, err := c.repo.TransitionStatus(ctx, contact.ID, models.StatusNew, models.StatusProcessing, now)
		if err != nil {
			return c.retry(ctx, logger, err, "Failed to claim contact")
		}
		if !won {
			logger.Info().Msg("Contact claimed by another consumer, skipping")
			metrics.Default().IncrementCounter(metrics.ContactsDuplicate)
			return messaging.Success
		}
		contact.Status = models.StatusProcessing
		contact.ProcessedAt = &now

	case contact.Status == models.StatusProcessing && msg.DeliveryCount > 1:
		// an earlier delivery of this message claimed the contact and failed
		// before analysis was stored; nothing has been sent yet
		logger.Info().Uint32("delivery_count", msg.DeliveryCount).Msg("Resuming contact analysis")

	default:
		logger.Info().Str("status", string(contact.Status)).Msg("Contact already processed, skipping")
		metrics.Default().IncrementCounter(metrics.ContactsDuplicate)
		return messaging.Success
	}

	analysis := classifier.Analyze(contact.Message, contact.Priority)
	analysedAt := c.now()
	stored, err := c.repo.StoreAnalysis(ctx, contact.ID, analysis.Priority, analysedAt)
	if err != nil {
		return c.retry(ctx, logger, err, "Failed to store contact analysis")
	}
	if !stored {
		logger.Info().Msg("Contact left PROCESSING before analysis was stored, skipping")
		metrics.Default().IncrementCounter(metrics.ContactsDuplicate)
		return messaging.Success
	}
	contact.Priority = analysis.Priority
	contact.Status = models.StatusAnalyzed
	contact.ProcessedAt = &analysedAt
	metrics.Default().IncrementCounter(metrics.ContactsProcessed)

	c.notify(ctx, contact)

	summary := analysis.Summary()
	c.publisher.Publish(ctx, c.topic, contact.ID, events.NewContactProcessed(contact.ID, contact.Status, summary))

	if err := c.index.IndexContact(ctx, contact, summary); err != nil && !errors.Is(err, search.ErrDisabled) {
		logger.Warn().Err(err).Msg("Failed to index contact")
	}
	if err := c.cache.Delete(ctx, cache.ContactKey(contact.ID), cache.AnalyticsKey); err != nil && !errors.Is(err, cache.ErrDisabled) {
		logger.Warn().Err(err).Msg("Failed to invalidate contact cache")
	}

	logger.Info().
		Str("priority", string(contact.Priority)).
		Str("analysis", summary).
		Msg("Contact analysed")
	return messaging.Success
}

func (c *ContactConsumer) notify(ctx context.Context, contact *models.Contact) {
	seg := c.tracer.StartSegment(ctx, "contact.notify")
	defer seg.End()

	var err error
	if contact.Priority.IsUrgentTier() {
		err = c.notifier.NotifyUrgent(ctx, contact.Email, contact.Name, contact.Message)
		metrics.Default().IncrementCounter(metrics.UrgentNotifications)
	} else {
		err = c.notifier.NotifyStandard(ctx, contact)
		metrics.Default().IncrementCounter(metrics.StandardNotices)
	}
	if err != nil {
		c.tracer.RecordError(ctx, err)
		log.Warn().Err(err).Str("contact_id", contact.ID).Msg("Failed to send contact notification")
	}
}

func (c *ContactConsumer) retry(ctx context.Context, logger zerolog.Logger, err error, msg string) messaging.Outcome {
	c.tracer.RecordError(ctx, err)
	metrics.Default().RecordResult(metrics.HandleErrors, err)
	logger.Error().Err(err).Msg(msg)
	return messaging.Retry
}
