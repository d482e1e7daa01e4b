package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Message is a transport-neutral envelope for one event on a stream
type Message struct {
	ID            string
	Topic         string
	PartitionKey  string
	EventType     string
	Body          []byte
	DeliveryCount uint32
	EnqueuedAt    time.Time
}

// Outcome is what a handler decided about a message
type Outcome int

const (
	// Success settles the message
	Success Outcome = iota
	// Retry hands the message back for redelivery
	Retry
	// Poison routes the message straight to dead-letter
	Poison
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Poison:
		return "poison"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Handler processes messages from a subscription
type Handler interface {
	Handle(ctx context.Context, msg *Message) Outcome
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *Message) Outcome

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) Outcome {
	return f(ctx, msg)
}

// Sender delivers one message to a topic
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	Close(ctx context.Context) error
}

// Consumer feeds a subscription to a handler until ctx is cancelled
type Consumer interface {
	Consume(ctx context.Context, topic, subscription string, h Handler) error
}

// Bus is a transport able to both send and consume
type Bus interface {
	Sender
	Consumer
}

// safeHandle runs h and turns a panic into Retry
func safeHandle(ctx context.Context, h Handler, msg *Message) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("message_id", msg.ID).
				Str("event_type", msg.EventType).
				Interface("panic", r).
				Msg("Handler panicked, message will be retried")
			outcome = Retry
		}
	}()
	return h.Handle(ctx, msg)
}
