package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBlob()
	c.normalizeEvents()
	c.normalizeDelivery()
	c.normalizeLogging()
	c.normalizeVariants()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BlobDir) == "" {
		c.Paths.BlobDir = defaultBlobDir
	}
	if c.Paths.BlobDir, err = expandPath(c.Paths.BlobDir); err != nil {
		return fmt.Errorf("paths.blob_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("RESONATE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeBlob() {
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	if c.Blob.Backend == "" {
		c.Blob.Backend = defaultBlobBackend
	}
}

func (c *Config) normalizeEvents() {
	c.Events.RedisURL = strings.TrimSpace(c.Events.RedisURL)
	if c.Events.RedisURL == "" {
		if value, ok := os.LookupEnv("RESONATE_REDIS_URL"); ok {
			c.Events.RedisURL = strings.TrimSpace(value)
		}
	}
	c.Events.Stream = strings.TrimSpace(c.Events.Stream)
	if c.Events.Stream == "" {
		c.Events.Stream = defaultEventStream
	}
	c.Events.NtfyTopic = strings.TrimSpace(c.Events.NtfyTopic)
	if c.Events.NtfyTopic == "" {
		if value, ok := os.LookupEnv("RESONATE_NTFY_TOPIC"); ok {
			c.Events.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeDelivery() {
	c.Delivery.BaseURL = strings.TrimRight(strings.TrimSpace(c.Delivery.BaseURL), "/")
	if c.Delivery.SigningSecret == "" {
		if value, ok := os.LookupEnv("RESONATE_SIGNING_SECRET"); ok {
			c.Delivery.SigningSecret = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeVariants() {
	for i := range c.Variants {
		v := &c.Variants[i]
		v.Name = strings.TrimSpace(v.Name)
		v.Kind = strings.ToLower(strings.TrimSpace(v.Kind))
		v.Format = strings.ToLower(strings.TrimSpace(v.Format))
		if v.Format == "jpg" {
			v.Format = "jpeg"
		}
	}
}
