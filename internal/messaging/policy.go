package messaging

import "time"

// Settlement is the broker action taken for a handled message
type Settlement int

const (
	Complete Settlement = iota
	Abandon
	DeadLetter
)

func (s Settlement) String() string {
	switch s {
	case Complete:
		return "complete"
	case Abandon:
		return "abandon"
	case DeadLetter:
		return "dead-letter"
	}
	return "unknown"
}

// Dead-letter reasons
const (
	ReasonPoison        = "poison-message"
	ReasonMaxDeliveries = "max-deliveries-exceeded"
)

// Policy maps handler outcomes to settlements: retry until the delivery
// budget is spent, then dead-letter.
type Policy struct {
	MaxDeliveries uint32
	// BaseBackoff is the delay before the first redelivery, doubled per attempt
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns the policy used when none is configured
func DefaultPolicy() Policy {
	return Policy{MaxDeliveries: 5, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// Settle decides what to do with a message after its deliveryCount-th
// delivery (1-based) produced outcome.
func (p Policy) Settle(outcome Outcome, deliveryCount uint32) (Settlement, string) {
	switch outcome {
	case Success:
		return Complete, ""
	case Poison:
		return DeadLetter, ReasonPoison
	case Retry:
		if p.MaxDeliveries > 0 && deliveryCount >= p.MaxDeliveries {
			return DeadLetter, ReasonMaxDeliveries
		}
		return Abandon, ""
	}
	return DeadLetter, ReasonPoison
}

// Backoff returns the wait before redelivering after deliveryCount attempts
func (p Policy) Backoff(deliveryCount uint32) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	if deliveryCount == 0 {
		deliveryCount = 1
	}
	shift := deliveryCount - 1
	if shift > 16 {
		shift = 16
	}
	d := p.BaseBackoff << shift
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
