package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"resonate/internal/api"
	"resonate/internal/config"
	"resonate/internal/delivery"
	"resonate/internal/variant"
)

// daemonClient moves asset bytes through a running daemon's API. The pebble
// blob store is held open by the daemon, so the CLI cannot open it alongside.
type daemonClient struct {
	baseURL string
	token   string
	links   *delivery.Builder
	client  *http.Client
}

func newDaemonClient(cfg *config.Config, links *delivery.Builder) (*daemonClient, error) {
	raw, err := os.ReadFile(cfg.APIAddressPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.New("daemon is running without an HTTP API and holds the pebble blob store; set paths.api_bind or stop the daemon")
	}
	if err != nil {
		return nil, fmt.Errorf("read daemon api address: %w", err)
	}
	addr := strings.TrimSpace(string(raw))
	if addr == "" {
		return nil, errors.New("daemon api address file is empty")
	}
	return &daemonClient{
		baseURL: "http://" + addr,
		token:   cfg.Paths.APIToken,
		links:   links,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *daemonClient) createAsset(ctx context.Context, kind, producer string, source []byte) (api.AssetResponse, error) {
	query := url.Values{}
	query.Set("kind", kind)
	if producer != "" {
		query.Set("producer", producer)
	}
	var out api.AssetResponse
	body, err := c.do(ctx, http.MethodPost, "/api/assets/?"+query.Encode(), source, true)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode asset response: %w", err)
	}
	return out, nil
}

func (c *daemonClient) fetchVariant(ctx context.Context, assetID string, spec variant.Spec) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.links.SignedPath(assetID, spec), nil, false)
}

func (c *daemonClient) do(ctx context.Context, method, target string, payload []byte, authorize bool) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, reader)
	if err != nil {
		return nil, fmt.Errorf("build daemon request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if authorize && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read daemon response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
