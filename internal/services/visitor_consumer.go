package services

import (
	"context"
	"strings"

	"example.com/backstage/contacts/internal/broadcast"
	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/messaging"
	"example.com/backstage/contacts/internal/metrics"
	"example.com/backstage/contacts/internal/stats"

	"github.com/rs/zerolog/log"
)

// VisitorConsumer folds visitor events into the live stats and broadcasts
// every change.
type VisitorConsumer struct {
	stats       *stats.Aggregator
	broadcaster broadcast.Publisher
}

// NewVisitorConsumer creates a consumer for the visitor stream
func NewVisitorConsumer(agg *stats.Aggregator, broadcaster broadcast.Publisher) *VisitorConsumer {
	if broadcaster == nil {
		broadcaster = broadcast.Nop{}
	}
	return &VisitorConsumer{stats: agg, broadcaster: broadcaster}
}

// Handle implements messaging.Handler
func (c *VisitorConsumer) Handle(ctx context.Context, msg *messaging.Message) messaging.Outcome {
	eventType, err := events.PeekType(msg.Body)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed visitor event")
		return messaging.Poison
	}

	switch eventType {
	case events.TypeVisitorSession:
		var ev events.VisitorSessionEvent
		if err := events.Decode(msg.Body, &ev); err != nil || ev.SessionID == "" {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed visitor session event")
			return messaging.Poison
		}
		c.publish(ctx, c.stats.RecordSession(ev.SessionID, ev.Location))
		return messaging.Success

	case events.TypePageView:
		var ev events.PageViewEvent
		if err := events.Decode(msg.Body, &ev); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed page view event")
			return messaging.Poison
		}
		if !isExitPage(ev.Page) {
			return messaging.Success
		}
		if snapshot, removed := c.stats.EndSession(ev.SessionID); removed {
			c.publish(ctx, snapshot)
		}
		return messaging.Success
	}

	log.Warn().Str("event_type", eventType).Str("message_id", msg.ID).Msg("Ignoring unknown visitor event type")
	return messaging.Success
}

func (c *VisitorConsumer) publish(ctx context.Context, snapshot events.LiveStats) {
	metrics.Default().SetGauge(metrics.ActiveViewers, snapshot.ActiveViewers)
	if err := c.broadcaster.Publish(ctx, broadcast.ChannelLiveStats, snapshot); err != nil {
		log.Warn().Err(err).Msg("Failed to broadcast live stats")
		return
	}
	metrics.Default().IncrementCounter(metrics.StatsBroadcasts)
}

func isExitPage(page string) bool {
	switch strings.ToLower(strings.TrimSpace(page)) {
	case "exit", "close":
		return true
	}
	return false
}
