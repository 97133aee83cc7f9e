package events

import (
	"context"
	"errors"
	"time"

	"resonate/internal/lifecycle"
)

// Type names an outbound event.
type Type string

const (
	TypeProcessing Type = "asset.processing"
	TypeReady      Type = "asset.ready"
	TypeError      Type = "asset.error"
	TypePublished  Type = "asset.published"
	TypeArchived   Type = "asset.archived"
	TypeRestored   Type = "asset.restored"
)

// Event describes one committed lifecycle transition.
type Event struct {
	Type         Type
	AssetID      string
	From         lifecycle.State
	To           lifecycle.State
	JobID        int64
	Attempts     int
	Variants     int
	ErrorSummary string
	At           time.Time
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// FromTransition maps a committed transition to its event.
func FromTransition(t lifecycle.Transition) Event {
	event := Event{
		AssetID:      t.To.AssetID,
		From:         t.From.State,
		To:           t.To.State,
		JobID:        t.To.JobID,
		Attempts:     t.To.Attempts,
		Variants:     len(t.To.Manifest),
		ErrorSummary: t.To.ErrorSummary,
		At:           t.To.UpdatedAt,
	}
	if event.JobID == 0 {
		event.JobID = t.From.JobID
	}
	switch t.To.State {
	case lifecycle.StateProcessing:
		event.Type = TypeProcessing
	case lifecycle.StateReady:
		event.Type = TypeReady
		if t.Event == lifecycle.EventRestore {
			event.Type = TypeRestored
		}
	case lifecycle.StateError:
		event.Type = TypeError
	case lifecycle.StatePublished:
		event.Type = TypePublished
	case lifecycle.StateArchived:
		event.Type = TypeArchived
	default:
		event.Type = Type("asset." + string(t.To.State))
	}
	return event
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
