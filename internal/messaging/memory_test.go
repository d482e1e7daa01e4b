package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"example.com/backstage/contacts/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startConsumer(t *testing.T, bus *MemoryBus, topic string, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Consume(ctx, topic, "test", h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMemoryBusPreservesOrderPerKey(t *testing.T) {
	bus := NewMemoryBus(Policy{MaxDeliveries: 3})

	var mu sync.Mutex
	seen := map[string][]string{}
	startConsumer(t, bus, "orders", HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		mu.Lock()
		seen[msg.PartitionKey] = append(seen[msg.PartitionKey], string(msg.Body))
		mu.Unlock()
		return Success
	}))

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, bus.Send(ctx, &Message{Topic: "orders", PartitionKey: key, Body: []byte(fmt.Sprint(i))}))
		}
	}

	assert.Eventually(t, func() bool { return bus.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, key := range []string{"a", "b", "c"} {
		require.Len(t, seen[key], 20)
		for i, body := range seen[key] {
			assert.Equal(t, fmt.Sprint(i), body)
		}
	}
}

func TestMemoryBusRetriesThenDeadLetters(t *testing.T) {
	bus := NewMemoryBus(Policy{MaxDeliveries: 3})

	var attempts atomic.Int32
	startConsumer(t, bus, "t", HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		attempts.Add(1)
		return Retry
	}))

	require.NoError(t, bus.Send(context.Background(), &Message{ID: "m1", Topic: "t", PartitionKey: "k"}))

	assert.Eventually(t, func() bool { return len(bus.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())

	dl := bus.DeadLetters()[0]
	assert.Equal(t, ReasonMaxDeliveries, dl.Reason)
	assert.Equal(t, "m1", dl.Message.ID)
	assert.Equal(t, uint32(3), dl.Message.DeliveryCount)
}

func TestMemoryBusPoisonSkipsRetry(t *testing.T) {
	bus := NewMemoryBus(Policy{MaxDeliveries: 5})

	var attempts atomic.Int32
	startConsumer(t, bus, "t", HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		attempts.Add(1)
		return Poison
	}))

	require.NoError(t, bus.Send(context.Background(), &Message{Topic: "t", PartitionKey: "k"}))

	assert.Eventually(t, func() bool { return len(bus.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, ReasonPoison, bus.DeadLetters()[0].Reason)
}

func TestMemoryBusRecoversAfterTransientFailure(t *testing.T) {
	bus := NewMemoryBus(Policy{MaxDeliveries: 5})

	var attempts atomic.Int32
	startConsumer(t, bus, "t", HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		if attempts.Add(1) == 1 {
			panic("first delivery blows up")
		}
		return Success
	}))

	require.NoError(t, bus.Send(context.Background(), &Message{Topic: "t", PartitionKey: "k"}))

	assert.Eventually(t, func() bool { return bus.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Empty(t, bus.DeadLetters())
}

func TestMemoryBusHoldsBacklogUntilSubscribed(t *testing.T) {
	bus := NewMemoryBus(Policy{MaxDeliveries: 3})
	require.NoError(t, bus.Send(context.Background(), &Message{Topic: "t", PartitionKey: "k", Body: []byte("early")}))
	assert.Equal(t, int64(1), bus.Pending())

	got := make(chan string, 1)
	startConsumer(t, bus, "t", HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		got <- string(msg.Body)
		return Success
	}))

	select {
	case body := <-got:
		assert.Equal(t, "early", body)
	case <-time.After(2 * time.Second):
		t.Fatal("backlog was not delivered")
	}
}

func TestMemoryBusRejectsAfterClose(t *testing.T) {
	bus := NewMemoryBus(Policy{})
	require.NoError(t, bus.Close(context.Background()))
	assert.ErrorIs(t, bus.Send(context.Background(), &Message{Topic: "t"}), ErrBusClosed)
}

func TestPublisherDeliversThroughSender(t *testing.T) {
	bus := NewMemoryBus(Policy{MaxDeliveries: 3})

	received := make(chan *Message, 1)
	startConsumer(t, bus, events.TopicVisitorEvents, HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		received <- msg
		return Success
	}))

	pub := NewPublisher(bus, PublisherOptions{Workers: 2, SendTimeout: time.Second})
	event := events.PageViewEvent{EventID: "ev-1", EventType: events.TypePageView, SessionID: "s1", Page: "/about"}

	res := <-pub.Publish(context.Background(), events.TopicVisitorEvents, "s1", event)
	require.NoError(t, res.Err)
	assert.Equal(t, "ev-1", res.MessageID)

	select {
	case msg := <-received:
		assert.Equal(t, "s1", msg.PartitionKey)
		assert.Equal(t, events.TypePageView, msg.EventType)
		var decoded events.PageViewEvent
		require.NoError(t, events.Decode(msg.Body, &decoded))
		assert.Equal(t, "/about", decoded.Page)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not consumed")
	}

	require.NoError(t, pub.Close(context.Background()))
	res = <-pub.Publish(context.Background(), events.TopicVisitorEvents, "s1", event)
	assert.ErrorIs(t, res.Err, ErrPublisherClosed)
}

type slowSender struct {
	mu    sync.Mutex
	delay map[string]time.Duration
	sent  []string
}

func (s *slowSender) Send(ctx context.Context, msg *Message) error {
	time.Sleep(s.delay[msg.EventType])
	s.mu.Lock()
	s.sent = append(s.sent, msg.PartitionKey+":"+msg.EventType)
	s.mu.Unlock()
	return nil
}

func (s *slowSender) Close(ctx context.Context) error { return nil }

func TestPublisherKeepsKeyOrderAcrossWorkers(t *testing.T) {
	sender := &slowSender{delay: map[string]time.Duration{events.TypeVisitorSession: 50 * time.Millisecond}}
	pub := NewPublisher(sender, PublisherOptions{Workers: 4, SendTimeout: time.Second})

	first := pub.Publish(context.Background(), events.TopicVisitorEvents, "s1",
		events.VisitorSessionEvent{EventID: "ev-1", EventType: events.TypeVisitorSession, SessionID: "s1"})
	second := pub.Publish(context.Background(), events.TopicVisitorEvents, "s1",
		events.PageViewEvent{EventID: "ev-2", EventType: events.TypePageView, SessionID: "s1", Page: "exit"})

	require.NoError(t, (<-first).Err)
	require.NoError(t, (<-second).Err)
	require.NoError(t, pub.Close(context.Background()))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"s1:" + events.TypeVisitorSession, "s1:" + events.TypePageView}, sender.sent)
}
