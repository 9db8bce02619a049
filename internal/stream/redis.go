package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"near-buybot/internal/types"
	"near-buybot/shared/logger"
)

const (
	xreadBlock   = 5 * time.Second
	xreadCount   = 100
	readRetryGap = time.Second
)

// RedisSource reads indexer events from redis streams, one goroutine per
// stream id, and pushes decoded events into a shared channel.
type RedisSource struct {
	client *redis.Client
	dedup  *Deduplicator
	log    *logger.Logger
}

func NewRedisSource(redisURL string, log *logger.Logger) (*RedisSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisSource{
		client: client,
		dedup:  NewDeduplicator(client, log),
		log:    log,
	}, nil
}

// Start launches a reader per stream. Events arrive on out until ctx is
// cancelled.
func (s *RedisSource) Start(ctx context.Context, out chan<- types.Event) {
	for _, streamID := range AllStreams {
		go s.readStream(ctx, streamID, out)
	}
	s.log.Info("Redis event source started", "streams", len(AllStreams))
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

// Client exposes the underlying redis client so other components can share
// the connection.
func (s *RedisSource) Client() *redis.Client {
	return s.client
}

func (s *RedisSource) readStream(ctx context.Context, streamID string, out chan<- types.Event) {
	// "$" means only events published after we attach. Missed events during
	// downtime are accepted, stale notifications are worse than none.
	lastID := "$"

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamID, lastID},
			Count:   xreadCount,
			Block:   xreadBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing new
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Error("Redis stream read failed", "stream", streamID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryGap):
			}
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				lastID = msg.ID
				payload, ok := msg.Values["data"].(string)
				if !ok {
					s.log.Warn("Stream entry without data field", "stream", streamID, "id", msg.ID)
					continue
				}
				event, err := decodeEvent(streamID, []byte(payload))
				if err != nil {
					s.log.Warn("Dropping undecodable event", "stream", streamID, "id", msg.ID, "error", err)
					continue
				}
				if s.dedup.Seen(ctx, streamID, eventTxID(event)) {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- event:
				}
			}
		}
	}
}
