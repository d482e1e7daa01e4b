package messaging

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/metrics"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrPublisherClosed is returned once Close has been called
	ErrPublisherClosed = errors.New("publisher closed")
	// ErrBacklogFull is returned when the send queue has no room
	ErrBacklogFull = errors.New("publish backlog full")
	// ErrBusUnavailable marks a transport that cannot currently accept sends
	ErrBusUnavailable = errors.New("message bus unavailable")
)

// PublishResult reports how an asynchronous publish ended
type PublishResult struct {
	MessageID string
	Topic     string
	Err       error
}

// PublisherOptions tunes the send pool
type PublisherOptions struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
}

func (o *PublisherOptions) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
}

type publishJob struct {
	msg    *Message
	result chan PublishResult
}

// Publisher sends events through a bounded worker pool so request paths
// never wait on the broker. Each worker owns one lane and a partition key
// always maps to the same lane, so events sharing a key are sent in
// publish order.
type Publisher struct {
	sender Sender
	opts   PublisherOptions
	lanes  []chan publishJob
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPublisher starts the send workers
func NewPublisher(sender Sender, opts PublisherOptions) *Publisher {
	opts.withDefaults()
	p := &Publisher{
		sender: sender,
		opts:   opts,
		lanes:  make([]chan publishJob, opts.Workers),
	}
	depth := opts.QueueSize / opts.Workers
	if depth < 1 {
		depth = 1
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan publishJob, depth)
		p.wg.Add(1)
		go p.worker(i, p.lanes[i])
	}
	log.Info().Int("workers", opts.Workers).Msg("Started event publisher")
	return p
}

// Publish serializes event and queues it for delivery on topic, keyed by
// partitionKey. The returned channel receives exactly one result. The
// caller's cancellation does not abort a send already queued.
func (p *Publisher) Publish(ctx context.Context, topic, partitionKey string, event events.Event) <-chan PublishResult {
	result := make(chan PublishResult, 1)

	body, err := json.Marshal(event)
	if err != nil {
		result <- PublishResult{MessageID: event.ID(), Topic: topic, Err: errors.Wrap(err, "failed to marshal event")}
		return result
	}

	job := publishJob{
		msg: &Message{
			ID:           event.ID(),
			Topic:        topic,
			PartitionKey: partitionKey,
			EventType:    event.Type(),
			Body:         body,
		},
		result: result,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		result <- PublishResult{MessageID: event.ID(), Topic: topic, Err: ErrPublisherClosed}
		return result
	}

	select {
	case p.lane(partitionKey) <- job:
		metrics.Default().SetGauge(metrics.PublishBacklog, int64(p.backlog()))
	default:
		log.Warn().Str("topic", topic).Str("event_id", event.ID()).Msg("Publish backlog full, dropping event")
		result <- PublishResult{MessageID: event.ID(), Topic: topic, Err: ErrBacklogFull}
	}
	return result
}

// PublishSync queues event and waits for its result
func (p *Publisher) PublishSync(ctx context.Context, topic, partitionKey string, event events.Event) error {
	select {
	case res := <-p.Publish(ctx, topic, partitionKey, event):
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) lane(key string) chan publishJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return p.lanes[int(h.Sum32()%uint32(len(p.lanes)))]
}

func (p *Publisher) backlog() int {
	n := 0
	for _, lane := range p.lanes {
		n += len(lane)
	}
	return n
}

func (p *Publisher) worker(id int, jobs <-chan publishJob) {
	defer p.wg.Done()
	for job := range jobs {
		start := time.Now()
		err := p.send(job.msg)

		m := metrics.Default()
		m.RecordTimer(metrics.PublishLatency, time.Since(start))
		m.RecordResult(metrics.PublishErrors, err)

		if err != nil {
			log.Error().Err(err).
				Int("worker", id).
				Str("topic", job.msg.Topic).
				Str("event_type", job.msg.EventType).
				Str("event_id", job.msg.ID).
				Msg("Failed to publish event")
		} else {
			log.Debug().
				Str("topic", job.msg.Topic).
				Str("event_type", job.msg.EventType).
				Str("event_id", job.msg.ID).
				Dur("elapsed", time.Since(start)).
				Msg("Event published")
		}
		job.result <- PublishResult{MessageID: job.msg.ID, Topic: job.msg.Topic, Err: err}
	}
}

func (p *Publisher) send(msg *Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
	defer cancel()

	return RetryWithBackoff(ctx, func() error {
		return p.sender.Send(ctx, msg)
	}, p.opts.MaxRetries, p.opts.BaseBackoff)
}

// Close stops accepting events, waits for queued sends to finish and closes
// the underlying sender.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Int("pending", p.backlog()).Msg("Publisher drain interrupted")
	}
	return p.sender.Close(ctx)
}
