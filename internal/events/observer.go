package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"resonate/internal/config"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
)

const publishTimeout = 5 * time.Second

// Sinks holds the publishers built from configuration.
type Sinks struct {
	Publisher Publisher
	closers   []io.Closer
}

// Close releases any connections held by the sinks.
func (s *Sinks) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewFromConfig builds the log publisher plus the Redis and ntfy publishers
// when their endpoints are configured.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Sinks, error) {
	sinks := &Sinks{}
	multi := Multi{NewLogPublisher(logger)}
	if url := cfg.Events.RedisURL; url != "" {
		redisPub, err := NewRedisPublisher(url, cfg.Events.Stream, cfg.Events.MaxLen)
		if err != nil {
			return nil, err
		}
		multi = append(multi, redisPub)
		sinks.closers = append(sinks.closers, redisPub)
	}
	if topic := cfg.Events.NtfyTopic; topic != "" {
		multi = append(multi, NewNtfyPublisher(topic, time.Duration(cfg.Events.RequestTimeout)*time.Second))
	}
	sinks.Publisher = multi
	return sinks, nil
}

// Observer adapts pub to a lifecycle observer. Delivery errors are logged.
func Observer(pub Publisher, logger *slog.Logger) lifecycle.Observer {
	logger = logging.NewComponentLogger(logger, "events")
	return func(ctx context.Context, t lifecycle.Transition) {
		if pub == nil {
			return
		}
		event := FromTransition(t)
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := pub.Publish(pubCtx, event); err != nil {
			logging.WarnWithContext(logger, "event publish failed", "event_publish_failed",
				logging.AssetID(event.AssetID),
				logging.String("type", string(event.Type)),
				logging.String(logging.FieldErrorHint, "check redis_url and ntfy_topic reachability"),
				logging.Error(err),
			)
		}
	}
}
