package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"resonate/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	BlobDir string `toml:"blob_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string `toml:"api_token"`
}

// Pipeline contains worker pool, lease, and retry configuration.
type Pipeline struct {
	Workers           int   `toml:"workers"`
	LeaseSeconds      int   `toml:"lease_seconds"`
	HeartbeatInterval int   `toml:"heartbeat_interval"`
	PollInterval      int   `toml:"poll_interval"`
	ReclaimInterval   int   `toml:"reclaim_interval"`
	BaseBackoffMillis int   `toml:"base_backoff_ms"`
	MaxBackoffMillis  int   `toml:"max_backoff_ms"`
	MaxAttempts       int   `toml:"max_attempts"`
	MaxSourceBytes    int64 `toml:"max_source_bytes"`
	MaxSourcePixels   int64 `toml:"max_source_pixels"`
}

// Blob selects the backend that stores source and variant bytes.
type Blob struct {
	Backend string `toml:"backend"`
}

// Events contains configuration for lifecycle event sinks.
type Events struct {
	RedisURL       string `toml:"redis_url"`
	Stream         string `toml:"stream"`
	MaxLen         int64  `toml:"max_len"`
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Delivery contains configuration for media URL construction.
type Delivery struct {
	BaseURL       string `toml:"base_url"`
	SigningSecret string `toml:"signing_secret"`
	URLTTLSeconds int    `toml:"url_ttl_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Variant is one entry of the optional [[variants]] registry override.
type Variant struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Width   int    `toml:"width"`
	Height  int    `toml:"height"`
	Format  string `toml:"format"`
	Quality int    `toml:"quality"`
}

// Config encapsulates all configuration values for resonate.
//
// Configuration sections by subsystem:
//   - Paths: database, blob, and log directories plus the API bind address
//   - Pipeline: worker count, lease/heartbeat timing, retry backoff, input bounds
//   - Blob: storage backend selection
//   - Events: Redis stream and ntfy sinks for lifecycle events
//   - Delivery: public base URL and URL signing
//   - Logging: log format and level
//   - Variants: optional replacement for the built-in variant registry
type Config struct {
	Paths    Paths     `toml:"paths"`
	Pipeline Pipeline  `toml:"pipeline"`
	Blob     Blob      `toml:"blob"`
	Events   Events    `toml:"events"`
	Delivery Delivery  `toml:"delivery"`
	Logging  Logging   `toml:"logging"`
	Variants []Variant `toml:"variants"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("resonate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.BlobDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "resonate.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "resonate.lock")
}

// APIAddressPath returns the file where a running daemon records its bound API address.
func (c *Config) APIAddressPath() string {
	return filepath.Join(c.Paths.DataDir, "resonate.api")
}

// LeaseDuration returns the job lease length.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Pipeline.LeaseSeconds) * time.Second
}

// HeartbeatInterval returns how often a running job renews its lease.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Pipeline.HeartbeatInterval) * time.Second
}

// PollInterval returns how long idle workers wait before leasing again.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollInterval) * time.Second
}

// ReclaimInterval returns how often expired leases are swept.
func (c *Config) ReclaimInterval() time.Duration {
	return time.Duration(c.Pipeline.ReclaimInterval) * time.Second
}

// BaseBackoff returns the first retry delay.
func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.Pipeline.BaseBackoffMillis) * time.Millisecond
}

// MaxBackoff returns the retry delay cap.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Pipeline.MaxBackoffMillis) * time.Millisecond
}

// URLTTL returns the lifetime of signed delivery URLs.
func (c *Config) URLTTL() time.Duration {
	return time.Duration(c.Delivery.URLTTLSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
