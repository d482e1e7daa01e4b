// Package broadcast pushes live payloads to subscribers, in process through
// a websocket hub or across processes through redis pub/sub.
package broadcast

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ChannelLiveStats carries visitor LiveStats
const ChannelLiveStats = "live-stats"

// ErrNoValue is returned by Last when nothing was published yet
var ErrNoValue = errors.New("no value published")

// Publisher delivers a payload to every current subscriber of channel.
// Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// LastValue returns the most recent encoded payload of a channel
type LastValue interface {
	Last(ctx context.Context, channel string) ([]byte, error)
}

// Nop discards every payload
type Nop struct{}

func (Nop) Publish(ctx context.Context, channel string, payload interface{}) error {
	log.Debug().Str("channel", channel).Msg("Broadcast discarded, no publisher configured")
	return nil
}
