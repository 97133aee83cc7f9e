package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resonate/internal/api"
	"resonate/internal/blob"
	"resonate/internal/config"
	"resonate/internal/delivery"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/testsupport"
	"resonate/internal/variant"
)

type fixture struct {
	server  *httptest.Server
	manager *pipeline.Manager
	token   string
}

func newFixture(t *testing.T, token string, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithVariants(
		config.Variant{Name: "thumb256", Kind: "cover", Width: 256, Height: 256, Format: "webp", Quality: 80},
		config.Variant{Name: "thumb512", Kind: "cover", Width: 512, Height: 512, Format: "webp", Quality: 80},
	)}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	registry, err := variant.FromConfig(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := logging.NewNop()
	blobs := blob.NewMemoryStore()
	machine := lifecycle.NewMachine(store, store, logger)
	manager := pipeline.NewManager(cfg, store, blobs, registry, machine, logger)
	service := pipeline.NewService(store, blobs, registry, machine, manager.Wake, logger)

	handler := api.NewRouter(api.Options{
		Service:  service,
		Delivery: delivery.NewFromConfig(cfg, registry),
		Status:   manager,
		Health:   store,
		Token:    token,
		Logger:   logger,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, manager: manager, token: token}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(f.manager.Stop)
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func (f *fixture) createCover(t *testing.T) api.AssetResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/assets?kind=cover&producer=p1", testsupport.PNG(t, 800, 800))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, body)
	}
	return decode[api.AssetResponse](t, body)
}

func (f *fixture) waitForStatus(t *testing.T, id string, want lifecycle.State) api.AssetResponse {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	var last api.AssetResponse
	for time.Now().Before(deadline) {
		resp, body := f.do(t, http.MethodGet, "/api/assets/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get asset: %d: %s", resp.StatusCode, body)
		}
		last = decode[api.AssetResponse](t, body)
		if last.Status == want {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("asset %s did not reach %s; last %s", id, want, last.Status)
	return last
}

func TestCreateProcessAndServeSignedMedia(t *testing.T) {
	f := newFixture(t, "", testsupport.WithSigningSecret("s3cret"))
	created := f.createCover(t)
	if created.Status != lifecycle.StateDraft {
		t.Fatalf("expected draft, got %s", created.Status)
	}
	if len(created.URLs) != 0 {
		t.Fatalf("draft asset should have no urls, got %v", created.URLs)
	}

	resp, body := f.do(t, http.MethodPost, "/api/assets/"+created.AssetID+"/process", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("process: expected 202, got %d: %s", resp.StatusCode, body)
	}
	enq := decode[api.EnqueueResponse](t, body)
	if enq.JobID == 0 || enq.Superseded {
		t.Fatalf("unexpected enqueue response %+v", enq)
	}
	f.start(t)

	ready := f.waitForStatus(t, created.AssetID, lifecycle.StateReady)
	link := ready.URLs["thumb512"]
	if !strings.Contains(link, "sig=") || !strings.HasPrefix(link, delivery.MediaPrefix+created.AssetID+"/thumb512.webp") {
		t.Fatalf("unexpected link %q", link)
	}
	if !strings.Contains(ready.SrcSet, " 256w, ") || !strings.HasSuffix(ready.SrcSet, " 512w") {
		t.Fatalf("unexpected srcset %q", ready.SrcSet)
	}

	media, err := f.server.Client().Get(f.server.URL + link)
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	data, _ := io.ReadAll(media.Body)
	media.Body.Close()
	if media.StatusCode != http.StatusOK {
		t.Fatalf("media: expected 200, got %d: %s", media.StatusCode, data)
	}
	if ct := media.Header.Get("Content-Type"); ct != "image/webp" {
		t.Fatalf("expected image/webp, got %q", ct)
	}
	if len(data) == 0 {
		t.Fatal("expected media bytes")
	}

	tampered := strings.Replace(link, "sig=", "sig=00", 1)
	denied, err := f.server.Client().Get(f.server.URL + tampered)
	if err != nil {
		t.Fatalf("get tampered: %v", err)
	}
	denied.Body.Close()
	if denied.StatusCode != http.StatusForbidden {
		t.Fatalf("tampered link: expected 403, got %d", denied.StatusCode)
	}
}

func TestOperatorTransitionsOverHTTP(t *testing.T) {
	f := newFixture(t, "")
	created := f.createCover(t)

	resp, body := f.do(t, http.MethodPost, "/api/assets/"+created.AssetID+"/publish", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("publish draft: expected 409, got %d: %s", resp.StatusCode, body)
	}

	f.do(t, http.MethodPost, "/api/assets/"+created.AssetID+"/process", nil)
	f.start(t)
	f.waitForStatus(t, created.AssetID, lifecycle.StateReady)

	for _, step := range []struct {
		action string
		want   lifecycle.State
	}{
		{"publish", lifecycle.StatePublished},
		{"archive", lifecycle.StateArchived},
		{"restore", lifecycle.StateReady},
	} {
		resp, body := f.do(t, http.MethodPost, "/api/assets/"+created.AssetID+"/"+step.action, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", step.action, resp.StatusCode, body)
		}
		if got := decode[api.AssetResponse](t, body); got.Status != step.want {
			t.Fatalf("%s: expected %s, got %s", step.action, step.want, got.Status)
		}
	}

	resp, body = f.do(t, http.MethodPost, "/api/assets/"+created.AssetID+"/process", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("reprocess ready: expected 409, got %d: %s", resp.StatusCode, body)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, "")

	cases := []struct {
		method string
		path   string
		body   []byte
		want   int
	}{
		{http.MethodGet, "/api/assets/missing", nil, http.StatusNotFound},
		{http.MethodPost, "/api/assets/missing/process", nil, http.StatusNotFound},
		{http.MethodPost, "/api/assets?kind=poster", []byte("x"), http.StatusBadRequest},
		{http.MethodPost, "/api/assets?kind=cover", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/assets?status=bogus", nil, http.StatusBadRequest},
		{http.MethodGet, "/media/missing/thumb512.webp", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, body := f.do(t, tc.method, tc.path, tc.body)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.method, tc.path, tc.want, resp.StatusCode, body)
		}
		if got := decode[map[string]string](t, body); got["error"] == "" {
			t.Fatalf("%s %s: expected error body, got %s", tc.method, tc.path, body)
		}
	}
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t, "")
	first := f.createCover(t)
	second := f.createCover(t)
	f.do(t, http.MethodPost, "/api/assets/"+first.AssetID+"/process", nil)
	f.start(t)
	f.waitForStatus(t, first.AssetID, lifecycle.StateReady)

	resp, body := f.do(t, http.MethodGet, "/api/assets?status=ready", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d: %s", resp.StatusCode, body)
	}
	list := decode[api.AssetListResponse](t, body)
	if len(list.Assets) != 1 || list.Assets[0].AssetID != first.AssetID {
		t.Fatalf("expected only %s, got %+v", first.AssetID, list.Assets)
	}

	_, body = f.do(t, http.MethodGet, "/api/assets?status=draft,error", nil)
	drafts := decode[api.AssetListResponse](t, body)
	if len(drafts.Assets) != 1 || drafts.Assets[0].AssetID != second.AssetID {
		t.Fatalf("expected only %s, got %+v", second.AssetID, drafts.Assets)
	}

	_, body = f.do(t, http.MethodGet, "/api/assets", nil)
	if all := decode[api.AssetListResponse](t, body); len(all.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(all.Assets))
	}
}

func TestBearerTokenRequired(t *testing.T) {
	f := newFixture(t, "letmein")

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/health", nil)
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}

	ok, body := f.do(t, http.MethodGet, "/api/health", nil)
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", ok.StatusCode, body)
	}
	health := decode[api.HealthResponse](t, body)
	if !health.Healthy || health.SchemaVersion == 0 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestQueueStatus(t *testing.T) {
	f := newFixture(t, "")
	created := f.createCover(t)
	f.do(t, http.MethodPost, "/api/assets/"+created.AssetID+"/process", nil)

	resp, body := f.do(t, http.MethodGet, "/api/queue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue: %d: %s", resp.StatusCode, body)
	}
	q := decode[api.QueueResponse](t, body)
	if q.Running || q.Ready != 1 || q.Assets["draft"] != 1 {
		t.Fatalf("unexpected queue status %+v", q)
	}
}
