package events_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"resonate/internal/events"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/variant"
)

func readyTransition() lifecycle.Transition {
	return lifecycle.Transition{
		Event: lifecycle.EventVariantsSucceeded,
		From:  lifecycle.Snapshot{AssetID: "asset-1", State: lifecycle.StateProcessing, JobID: 4},
		To: lifecycle.Snapshot{
			AssetID:   "asset-1",
			State:     lifecycle.StateReady,
			Manifest:  variant.Manifest{{Name: "thumb256"}, {Name: "hero1024"}},
			Attempts:  2,
			UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestFromTransitionTypes(t *testing.T) {
	cases := []struct {
		event lifecycle.Event
		from  lifecycle.State
		to    lifecycle.State
		want  events.Type
	}{
		{lifecycle.EventSubmit, lifecycle.StateDraft, lifecycle.StateProcessing, events.TypeProcessing},
		{lifecycle.EventVariantsSucceeded, lifecycle.StateProcessing, lifecycle.StateReady, events.TypeReady},
		{lifecycle.EventTerminalFailure, lifecycle.StateProcessing, lifecycle.StateError, events.TypeError},
		{lifecycle.EventPublish, lifecycle.StateReady, lifecycle.StatePublished, events.TypePublished},
		{lifecycle.EventArchive, lifecycle.StatePublished, lifecycle.StateArchived, events.TypeArchived},
		{lifecycle.EventRestore, lifecycle.StateArchived, lifecycle.StateReady, events.TypeRestored},
	}
	for _, tc := range cases {
		got := events.FromTransition(lifecycle.Transition{
			Event: tc.event,
			From:  lifecycle.Snapshot{AssetID: "a", State: tc.from},
			To:    lifecycle.Snapshot{AssetID: "a", State: tc.to},
		})
		if got.Type != tc.want {
			t.Fatalf("%s -> %s: expected %s, got %s", tc.from, tc.to, tc.want, got.Type)
		}
	}

	ready := events.FromTransition(readyTransition())
	if ready.JobID != 4 || ready.Variants != 2 || ready.Attempts != 2 {
		t.Fatalf("unexpected ready event %#v", ready)
	}
}

func TestRedisPublisherAppendsToStream(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	pub := events.NewRedisPublisherWithClient(client, "resonate:assets", 100)
	t.Cleanup(func() { _ = pub.Close() })

	if err := pub.Publish(context.Background(), events.FromTransition(readyTransition())); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	entries, err := srv.Stream("resonate:assets")
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(entries))
	}
	fields := make(map[string]string)
	values := entries[0].Values
	for i := 0; i+1 < len(values); i += 2 {
		fields[values[i]] = values[i+1]
	}
	if fields["type"] != "asset.ready" || fields["asset_id"] != "asset-1" || fields["variants"] != "2" {
		t.Fatalf("unexpected stream fields %#v", fields)
	}
}

func TestNtfyPublisherOnlySendsErrors(t *testing.T) {
	var (
		calls int
		title string
		body  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		title = r.Header.Get("Title")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pub := events.NewNtfyPublisher(server.URL, time.Second)
	if err := pub.Publish(context.Background(), events.FromTransition(readyTransition())); err != nil {
		t.Fatalf("Publish ready failed: %v", err)
	}
	if calls != 0 {
		t.Fatalf("ready events should not notify, got %d calls", calls)
	}

	failed := events.Event{Type: events.TypeError, AssetID: "asset-9", Attempts: 1, ErrorSummary: "unsupported_format: gif"}
	if err := pub.Publish(context.Background(), failed); err != nil {
		t.Fatalf("Publish error failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
	if title != "Resonate - Processing Failed" || !strings.Contains(body, "asset-9") || !strings.Contains(body, "unsupported_format") {
		t.Fatalf("unexpected notification title=%q body=%q", title, body)
	}
}

func TestNtfyPublisherReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	pub := events.NewNtfyPublisher(server.URL, time.Second)
	err := pub.Publish(context.Background(), events.Event{Type: events.TypeError, AssetID: "a"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingPublisher{err: boom}
	second := &recordingPublisher{}
	multi := events.Multi{first, nil, second}

	err := multi.Publish(context.Background(), events.Event{Type: events.TypeReady})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatal("expected every publisher to receive the event")
	}
}

func TestObserverSwallowsPublishErrors(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("unreachable")}
	observe := events.Observer(rec, logging.NewNop())
	observe(context.Background(), readyTransition())
	if len(rec.events) != 1 || rec.events[0].Type != events.TypeReady {
		t.Fatalf("unexpected recorded events %#v", rec.events)
	}
}
