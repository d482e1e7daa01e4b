package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/backstage/contacts/internal/metrics"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// ServiceBusOptions configures the Azure transport
type ServiceBusOptions struct {
	ConnectionString string
	Source           string
	Policy           Policy
	MaxSessions      int
	ReceiveBatch     int
	SessionIdleAfter time.Duration
}

// ServiceBus carries events over Azure Service Bus topics. The partition key
// travels as the session ID so every message for one key is delivered in
// order to a single receiver.
type ServiceBus struct {
	client *azservicebus.Client
	opts   ServiceBusOptions

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewServiceBus creates a new Azure Service Bus transport
func NewServiceBus(opts ServiceBusOptions) (*ServiceBus, error) {
	if opts.ConnectionString == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 8
	}
	if opts.ReceiveBatch <= 0 {
		opts.ReceiveBatch = 10
	}
	if opts.SessionIdleAfter <= 0 {
		opts.SessionIdleAfter = 30 * time.Second
	}
	if opts.Policy.MaxDeliveries == 0 {
		opts.Policy = DefaultPolicy()
	}

	client, err := azservicebus.NewClientFromConnectionString(opts.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	return &ServiceBus{
		client:  client,
		opts:    opts,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

func (s *ServiceBus) sender(topic string) (*azservicebus.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sender, ok := s.senders[topic]; ok {
		return sender, nil
	}
	sender, err := s.client.NewSender(topic, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender for topic %s: %w", topic, err)
	}
	s.senders[topic] = sender
	return sender, nil
}

// Send delivers msg to its topic
func (s *ServiceBus) Send(ctx context.Context, msg *Message) error {
	sender, err := s.sender(msg.Topic)
	if err != nil {
		return err
	}

	messageID := msg.ID
	sessionID := msg.PartitionKey
	contentType := "application/json"
	subject := msg.EventType

	sbMsg := &azservicebus.Message{
		Body:        msg.Body,
		MessageID:   &messageID,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]interface{}{
			"eventType": msg.EventType,
			"source":    s.opts.Source,
			"time":      time.Now().UTC().Format(time.RFC3339),
		},
	}
	if sessionID != "" {
		sbMsg.SessionID = &sessionID
	}

	if err := sender.SendMessage(ctx, sbMsg, nil); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", msg.Topic, err)
	}
	return nil
}

// Consume accepts sessions on the subscription one after another and hands
// each to its own goroutine, bounded by MaxSessions. It returns when ctx is
// cancelled or the broker reports a non-recoverable error.
func (s *ServiceBus) Consume(ctx context.Context, topic, subscription string, h Handler) error {
	log.Info().Str("topic", topic).Str("subscription", subscription).Msg("Starting session consumer")

	sem := semaphore.NewWeighted(int64(s.opts.MaxSessions))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		receiver, err := s.client.AcceptNextSessionForSubscription(ctx, topic, subscription, nil)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Str("subscription", subscription).Msg("No session available, waiting...")
				continue
			}
			if IsTransient(err) {
				log.Warn().Err(err).Str("subscription", subscription).Msg("Session accept failed, retrying")
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return fmt.Errorf("failed to accept session on %s/%s: %w", topic, subscription, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.handleSession(ctx, topic, receiver, h)
		}()
	}
}

func (s *ServiceBus) handleSession(ctx context.Context, topic string, receiver *azservicebus.SessionReceiver, h Handler) {
	sessionID := receiver.SessionID()
	logger := log.With().Str("topic", topic).Str("session_id", sessionID).Logger()
	logger.Debug().Msg("Session accepted")

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := receiver.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("Error closing session")
		}
	}()

	for {
		receiveCtx, cancel := context.WithTimeout(ctx, s.opts.SessionIdleAfter)
		messages, err := receiver.ReceiveMessages(receiveCtx, s.opts.ReceiveBatch, nil)
		cancel()

		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error().Err(err).Msg("Error receiving messages")
			}
			return
		}
		if len(messages) == 0 {
			return
		}

		for _, received := range messages {
			s.dispatch(ctx, topic, receiver, received, h)
		}
	}
}

func (s *ServiceBus) dispatch(ctx context.Context, topic string, receiver *azservicebus.SessionReceiver, received *azservicebus.ReceivedMessage, h Handler) {
	msg := &Message{
		ID:            received.MessageID,
		Topic:         topic,
		Body:          received.Body,
		DeliveryCount: received.DeliveryCount,
	}
	if received.SessionID != nil {
		msg.PartitionKey = *received.SessionID
	}
	if received.EnqueuedTime != nil {
		msg.EnqueuedAt = *received.EnqueuedTime
	}
	if et, ok := received.ApplicationProperties["eventType"].(string); ok {
		msg.EventType = et
	}

	start := time.Now()
	outcome := safeHandle(ctx, h, msg)
	metrics.Default().RecordTimer(metrics.HandleLatency, time.Since(start))

	settlement, reason := s.opts.Policy.Settle(outcome, msg.DeliveryCount)
	logger := log.With().
		Str("message_id", msg.ID).
		Str("event_type", msg.EventType).
		Uint32("delivery_count", msg.DeliveryCount).
		Stringer("outcome", outcome).
		Logger()

	// Settlement must survive shutdown or the lock simply expires
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var err error
	switch settlement {
	case Complete:
		err = receiver.CompleteMessage(settleCtx, received, nil)
		metrics.Default().IncrementCounter(metrics.SettledComplete)
	case Abandon:
		if wait := s.opts.Policy.Backoff(msg.DeliveryCount); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
		}
		err = receiver.AbandonMessage(settleCtx, received, nil)
		metrics.Default().IncrementCounter(metrics.SettledAbandon)
		logger.Warn().Msg("Message abandoned for redelivery")
	case DeadLetter:
		description := fmt.Sprintf("handler outcome %s after %d deliveries", outcome, msg.DeliveryCount)
		err = receiver.DeadLetterMessage(settleCtx, received, &azservicebus.DeadLetterOptions{
			Reason:           &reason,
			ErrorDescription: &description,
		})
		metrics.Default().IncrementCounter(metrics.SettledDeadLetter)
		logger.Error().Str("reason", reason).Msg("Message dead-lettered")
	}
	if err != nil {
		logger.Error().Err(err).Stringer("settlement", settlement).Msg("Failed to settle message")
	}
}

// Close closes every sender and the client
func (s *ServiceBus) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, sender := range s.senders {
		if err := sender.Close(ctx); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Error closing sender")
		}
	}
	s.senders = map[string]*azservicebus.Sender{}
	return s.client.Close(ctx)
}
