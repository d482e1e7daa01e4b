package messaging

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"example.com/backstage/contacts/internal/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrBusClosed is returned by a MemoryBus after Close
var ErrBusClosed = errors.New("message bus closed")

// DeadLetterRecord is a message the in-memory bus gave up on
type DeadLetterRecord struct {
	Message      Message
	Subscription string
	Reason       string
	At           time.Time
}

// MemoryBus is an in-process transport used when no Service Bus connection
// is configured. Messages sharing a partition key land on the same lane and
// are handled in order. Undelivered messages are lost on shutdown.
type MemoryBus struct {
	policy    Policy
	lanes     int
	laneDepth int

	mu      sync.Mutex
	subs    map[string][]*memorySubscription
	backlog map[string][]*Message
	dead    []DeadLetterRecord
	closed  bool

	pending atomic.Int64
}

type memorySubscription struct {
	name  string
	lanes []chan *Message
}

// NewMemoryBus creates an in-memory bus settling messages with policy
func NewMemoryBus(policy Policy) *MemoryBus {
	if policy.MaxDeliveries == 0 {
		policy = DefaultPolicy()
	}
	return &MemoryBus{
		policy:    policy,
		lanes:     4,
		laneDepth: 256,
		subs:      make(map[string][]*memorySubscription),
		backlog:   make(map[string][]*Message),
	}
}

func (b *MemoryBus) lane(sub *memorySubscription, key string) chan *Message {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return sub.lanes[int(h.Sum32()%uint32(len(sub.lanes)))]
}

// Send fans msg out to every subscription on its topic. With no subscriber
// yet, the message waits for the first one.
func (b *MemoryBus) Send(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	subs := append([]*memorySubscription(nil), b.subs[msg.Topic]...)
	if len(subs) == 0 {
		b.backlog[msg.Topic] = append(b.backlog[msg.Topic], b.stamp(msg))
		b.pending.Add(1)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.pending.Add(1)
		select {
		case b.lane(sub, msg.PartitionKey) <- b.stamp(msg):
		case <-ctx.Done():
			b.pending.Add(-1)
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) stamp(msg *Message) *Message {
	m := *msg
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.DeliveryCount = 1
	m.EnqueuedAt = time.Now().UTC()
	return &m
}

// Consume registers a subscription and handles its messages until ctx is
// cancelled.
func (b *MemoryBus) Consume(ctx context.Context, topic, subscription string, h Handler) error {
	sub := &memorySubscription{name: subscription, lanes: make([]chan *Message, b.lanes)}
	for i := range sub.lanes {
		sub.lanes[i] = make(chan *Message, b.laneDepth)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.subs[topic] = append(b.subs[topic], sub)
	backlog := b.backlog[topic]
	delete(b.backlog, topic)
	b.mu.Unlock()

	log.Info().Str("topic", topic).Str("subscription", subscription).Msg("Starting in-memory consumer")

	var wg sync.WaitGroup
	for _, lane := range sub.lanes {
		wg.Add(1)
		go func(lane chan *Message) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case m := <-lane:
					b.deliver(ctx, subscription, m, h)
				}
			}
		}(lane)
	}

	for _, m := range backlog {
		select {
		case b.lane(sub, m.PartitionKey) <- m:
		case <-ctx.Done():
		}
	}

	<-ctx.Done()
	wg.Wait()

	b.mu.Lock()
	remaining := b.subs[topic][:0]
	for _, s := range b.subs[topic] {
		if s != sub {
			remaining = append(remaining, s)
		}
	}
	b.subs[topic] = remaining
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, subscription string, m *Message, h Handler) {
	defer b.pending.Add(-1)

	for {
		start := time.Now()
		outcome := safeHandle(ctx, h, m)
		metrics.Default().RecordTimer(metrics.HandleLatency, time.Since(start))

		settlement, reason := b.policy.Settle(outcome, m.DeliveryCount)
		switch settlement {
		case Complete:
			metrics.Default().IncrementCounter(metrics.SettledComplete)
			return
		case DeadLetter:
			metrics.Default().IncrementCounter(metrics.SettledDeadLetter)
			log.Error().
				Str("message_id", m.ID).
				Str("event_type", m.EventType).
				Str("subscription", subscription).
				Uint32("delivery_count", m.DeliveryCount).
				Str("reason", reason).
				Msg("Message dead-lettered")
			b.mu.Lock()
			b.dead = append(b.dead, DeadLetterRecord{
				Message:      *m,
				Subscription: subscription,
				Reason:       reason,
				At:           time.Now().UTC(),
			})
			b.mu.Unlock()
			return
		case Abandon:
			metrics.Default().IncrementCounter(metrics.SettledAbandon)
			select {
			case <-time.After(b.policy.Backoff(m.DeliveryCount)):
			case <-ctx.Done():
				return
			}
			m.DeliveryCount++
		}
	}
}

// Pending returns the number of messages accepted but not yet settled
func (b *MemoryBus) Pending() int64 {
	return b.pending.Load()
}

// DeadLetters returns a copy of every dead-lettered message
func (b *MemoryBus) DeadLetters() []DeadLetterRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetterRecord(nil), b.dead...)
}

// Close rejects further sends
func (b *MemoryBus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
