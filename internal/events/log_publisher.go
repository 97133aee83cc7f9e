package events

import (
	"context"
	"log/slog"

	"resonate/internal/logging"
)

// LogPublisher writes each event to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a LogPublisher tagged with the events component.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.NewComponentLogger(logger, "events")}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, string(event.Type)),
		logging.AssetID(event.AssetID),
		logging.String("from", string(event.From)),
		logging.String("to", string(event.To)),
		logging.JobID(event.JobID),
		logging.Int("attempts", event.Attempts),
	}
	if event.Variants > 0 {
		attrs = append(attrs, logging.Int("variants", event.Variants))
	}
	if event.ErrorSummary != "" {
		attrs = append(attrs, logging.String("error_summary", event.ErrorSummary))
	}
	logging.WithContext(ctx, p.logger).Debug("asset event", logging.Args(attrs...)...)
	return nil
}
