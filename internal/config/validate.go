package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateVariants(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.workers":            c.Pipeline.Workers,
		"pipeline.lease_seconds":      c.Pipeline.LeaseSeconds,
		"pipeline.heartbeat_interval": c.Pipeline.HeartbeatInterval,
		"pipeline.poll_interval":      c.Pipeline.PollInterval,
		"pipeline.reclaim_interval":   c.Pipeline.ReclaimInterval,
		"pipeline.base_backoff_ms":    c.Pipeline.BaseBackoffMillis,
		"pipeline.max_backoff_ms":     c.Pipeline.MaxBackoffMillis,
		"pipeline.max_attempts":       c.Pipeline.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Pipeline.HeartbeatInterval >= c.Pipeline.LeaseSeconds {
		return errors.New("pipeline.heartbeat_interval must be shorter than pipeline.lease_seconds")
	}
	if c.Pipeline.MaxBackoffMillis < c.Pipeline.BaseBackoffMillis {
		return errors.New("pipeline.max_backoff_ms must be at least pipeline.base_backoff_ms")
	}
	if c.Pipeline.MaxSourceBytes <= 0 {
		return errors.New("pipeline.max_source_bytes must be positive")
	}
	if c.Pipeline.MaxSourcePixels <= 0 {
		return errors.New("pipeline.max_source_pixels must be positive")
	}
	return nil
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case BlobBackendFS, BlobBackendPebble:
		return nil
	default:
		return fmt.Errorf("blob.backend: unsupported value %q (want %q or %q)", c.Blob.Backend, BlobBackendFS, BlobBackendPebble)
	}
}

func (c *Config) validateEvents() error {
	if c.Events.MaxLen < 0 {
		return errors.New("events.max_len must not be negative")
	}
	if c.Events.RequestTimeout <= 0 {
		return errors.New("events.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "tint":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateVariants() error {
	seen := make(map[string]struct{}, len(c.Variants))
	files := make(map[string]string, len(c.Variants))
	for i, v := range c.Variants {
		if v.Name == "" {
			return fmt.Errorf("variants[%d].name must be set", i)
		}
		key := v.Kind + "/" + v.Name
		if _, ok := seen[key]; ok {
			return fmt.Errorf("variants[%d]: duplicate name %q for kind %q", i, v.Name, v.Kind)
		}
		seen[key] = struct{}{}
		// Media URLs carry only "{name}.{format}", so file names must be unique across kinds.
		file := v.Name + "." + v.Format
		if other, ok := files[file]; ok && other != v.Kind {
			return fmt.Errorf("variants[%d]: duplicate file name %q shared by kinds %q and %q", i, file, other, v.Kind)
		}
		files[file] = v.Kind
		switch v.Kind {
		case "cover", "track":
		default:
			return fmt.Errorf("variants[%d].kind: unsupported value %q", i, v.Kind)
		}
		switch v.Format {
		case "webp", "jpeg", "png":
		default:
			return fmt.Errorf("variants[%d].format: unsupported value %q", i, v.Format)
		}
		if v.Width <= 0 || v.Height <= 0 {
			return fmt.Errorf("variants[%d]: width and height must be positive", i)
		}
		if v.Quality < 0 || v.Quality > 100 {
			return fmt.Errorf("variants[%d].quality must be between 0 and 100", i)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
