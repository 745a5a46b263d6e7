// README: Redis pub/sub implementation of the ride change feed.
package ride

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const changeChannel = "farebid:ride_changes"

// RedisFeed broadcasts ride changes over Redis pub/sub so every driver-facing
// process observes the shared pool without polling.
type RedisFeed struct {
	redis *redis.Client
	log   *slog.Logger
}

func NewRedisFeed(client *redis.Client, log *slog.Logger) *RedisFeed {
	return &RedisFeed{redis: client, log: log}
}

func (f *RedisFeed) Publish(ctx context.Context, ch Change) {
	payload, err := json.Marshal(ch)
	if err != nil {
		f.log.Error("feed: marshal change", "err", err)
		return
	}
	if err := f.redis.Publish(ctx, changeChannel, payload).Err(); err != nil {
		f.log.Warn("feed: publish change", "ride_id", ch.RideID, "err", err)
	}
}

func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan Change, func()) {
	pubsub := f.redis.Subscribe(ctx, changeChannel)
	out := make(chan Change, 64)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ch Change
			if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				f.log.Warn("feed: decode change", "err", err)
				continue
			}
			select {
			case out <- ch:
			default:
				// Subscribers reconcile by re-reading; dropping is safe.
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
