package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettle(t *testing.T) {
	p := Policy{MaxDeliveries: 3}

	tests := []struct {
		name     string
		outcome  Outcome
		delivery uint32
		want     Settlement
		reason   string
	}{
		{"success completes", Success, 1, Complete, ""},
		{"poison dead-letters immediately", Poison, 1, DeadLetter, ReasonPoison},
		{"retry abandons under budget", Retry, 2, Abandon, ""},
		{"retry dead-letters at budget", Retry, 3, DeadLetter, ReasonMaxDeliveries},
		{"unknown outcome is poison", Outcome(42), 1, DeadLetter, ReasonPoison},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := p.Settle(tt.outcome, tt.delivery)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := Policy{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, time.Duration(0), Policy{}.Backoff(3))
}

func TestSafeHandleRecoversPanic(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		panic("boom")
	})
	assert.Equal(t, Retry, safeHandle(context.Background(), h, &Message{ID: "m1"}))
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := RetryWithBackoff(ctx, func() error {
		calls++
		if calls < 3 {
			return ErrBusUnavailable
		}
		return nil
	}, 5, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryWithBackoff(ctx, func() error {
		calls++
		return ErrBusClosed
	}, 5, time.Millisecond)
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	calls = 0
	err = RetryWithBackoff(ctx, func() error {
		calls++
		return ErrBusUnavailable
	}, 2, time.Millisecond)
	assert.ErrorIs(t, err, ErrBusUnavailable)
	assert.Equal(t, 2, calls)
}
