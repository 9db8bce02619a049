package stream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"near-buybot/shared/logger"
)

const (
	seenKeyPrefix  = "event:seen:"
	seenTTL        = 5 * time.Minute
	dedupOpTimeout = 2 * time.Second
)

// Deduplicator suppresses duplicate events across restarts and across
// instances reading the same streams. Keyed by stream id plus transaction
// hash with a short TTL.
type Deduplicator struct {
	client *redis.Client
	log    *logger.Logger
}

func NewDeduplicator(client *redis.Client, log *logger.Logger) *Deduplicator {
	return &Deduplicator{client: client, log: log}
}

// Seen records the event key and reports whether it was already present.
// Redis errors fail open: a missed dedup check must never drop live events.
func (d *Deduplicator) Seen(ctx context.Context, streamID, txID string) bool {
	if txID == "" {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, dedupOpTimeout)
	defer cancel()

	key := seenKeyPrefix + streamID + ":" + txID
	fresh, err := d.client.SetNX(opCtx, key, 1, seenTTL).Result()
	if err != nil {
		d.log.Warn("Dedup check failed, passing event through", "key", key, "error", err)
		return false
	}
	return !fresh
}
