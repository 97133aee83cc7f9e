package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher appends events to a Redis stream with approximate trimming.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher connects to the Redis server described by url.
func NewRedisPublisher(url, stream string, maxLen int64) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisPublisherWithClient(redis.NewClient(opts), stream, maxLen), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	values := map[string]any{
		"type":     string(event.Type),
		"asset_id": event.AssetID,
		"from":     string(event.From),
		"to":       string(event.To),
		"job_id":   strconv.FormatInt(event.JobID, 10),
		"attempts": strconv.Itoa(event.Attempts),
		"at":       event.At.UTC().Format(time.RFC3339Nano),
	}
	if event.Variants > 0 {
		values["variants"] = strconv.Itoa(event.Variants)
	}
	if event.ErrorSummary != "" {
		values["error_summary"] = event.ErrorSummary
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
