package events

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "Resonate-Go/0.1.0"

// NtfyPublisher posts operator alerts for assets that reach error.
type NtfyPublisher struct {
	endpoint string
	client   *http.Client
}

// NewNtfyPublisher posts to endpoint with the given request timeout.
func NewNtfyPublisher(endpoint string, timeout time.Duration) *NtfyPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfyPublisher{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

func (n *NtfyPublisher) Publish(ctx context.Context, event Event) error {
	if event.Type != TypeError {
		return nil
	}
	summary := strings.TrimSpace(event.ErrorSummary)
	if summary == "" {
		summary = "unknown"
	}
	data := payload{
		title:    "Resonate - Processing Failed",
		message:  fmt.Sprintf("Asset %s failed after %d attempt(s): %s", event.AssetID, event.Attempts, summary),
		tags:     []string{"resonate", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *NtfyPublisher) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil || n.endpoint == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
