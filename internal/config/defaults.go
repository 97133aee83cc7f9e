package config

const (
	defaultConfigPath        = "~/.config/resonate/config.toml"
	defaultDataDir           = "~/.local/share/resonate"
	defaultBlobDir           = "~/.local/share/resonate/blobs"
	defaultLogDir            = "~/.local/share/resonate/logs"
	defaultAPIBind           = "127.0.0.1:7730"
	defaultWorkers           = 4
	defaultLeaseSeconds      = 120
	defaultHeartbeatInterval = 15
	defaultPollInterval      = 2
	defaultReclaimInterval   = 30
	defaultBaseBackoffMillis = 2000
	defaultMaxBackoffMillis  = 300000
	defaultMaxAttempts       = 5
	defaultMaxSourceBytes    = 64 << 20
	defaultMaxSourcePixels   = 64 << 20
	defaultBlobBackend       = BlobBackendFS
	defaultEventStream       = "resonate:assets"
	defaultEventMaxLen       = 10000
	defaultRequestTimeout    = 10
	defaultURLTTLSeconds     = 3600
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Blob backends.
const (
	BlobBackendFS     = "fs"
	BlobBackendPebble = "pebble"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			BlobDir: defaultBlobDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			Workers:           defaultWorkers,
			LeaseSeconds:      defaultLeaseSeconds,
			HeartbeatInterval: defaultHeartbeatInterval,
			PollInterval:      defaultPollInterval,
			ReclaimInterval:   defaultReclaimInterval,
			BaseBackoffMillis: defaultBaseBackoffMillis,
			MaxBackoffMillis:  defaultMaxBackoffMillis,
			MaxAttempts:       defaultMaxAttempts,
			MaxSourceBytes:    defaultMaxSourceBytes,
			MaxSourcePixels:   defaultMaxSourcePixels,
		},
		Blob: Blob{
			Backend: defaultBlobBackend,
		},
		Events: Events{
			Stream:         defaultEventStream,
			MaxLen:         defaultEventMaxLen,
			RequestTimeout: defaultRequestTimeout,
		},
		Delivery: Delivery{
			URLTTLSeconds: defaultURLTTLSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
