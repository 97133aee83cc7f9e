package testsupport

import (
	"path/filepath"
	"testing"

	"resonate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timing defaults are shortened so pipeline tests settle quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.BlobDir = filepath.Join(base, "blobs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Pipeline.Workers = 2
	cfgVal.Pipeline.LeaseSeconds = 30
	cfgVal.Pipeline.HeartbeatInterval = 1
	cfgVal.Pipeline.PollInterval = 1
	cfgVal.Pipeline.ReclaimInterval = 1
	cfgVal.Pipeline.BaseBackoffMillis = 1
	cfgVal.Pipeline.MaxBackoffMillis = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithWorkers sets the pipeline worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Workers = n
	}
}

// WithMaxAttempts sets the retry cap.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxAttempts = n
	}
}

// WithVariants replaces the variant registry.
func WithVariants(variants ...config.Variant) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Variants = variants
	}
}

// WithBlobBackend selects the blob backend.
func WithBlobBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Blob.Backend = backend
	}
}

// WithSigningSecret enables signed delivery URLs.
func WithSigningSecret(secret string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Delivery.SigningSecret = secret
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
