// Package config parses the engine's TOML configuration file into the
// exact shape of spec.md §6, after performing literal secret
// interpolation against a JSON secrets file. Parsing is handled by
// github.com/pelletier/go-toml/v2; the variant-shaped fields
// (response_mode, caching_mode, logbacks_allowed) implement go-toml's
// Unmarshaler/encoding.TextUnmarshaler hooks rather than a bespoke
// parser.
package config

import (
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level shape of the TOML configuration file.
type Config struct {
	APIs             map[string]APIConfig      `toml:"apis"`
	Data             []DataSourceConfig        `toml:"data"`
	ExecutionThreads int                       `toml:"execution_threads"`
	LogQueueSize     int                       `toml:"log_queue_size"`
	Storage          *StorageConfig            `toml:"storage"`
	Logging          LoggingConfig             `toml:"logging"`
	Webhooks         map[string]ListenerConfig `toml:"webhooks"`
	Loading          []ModuleConfig            `toml:"loading"`
}

// APIConfig is one entry of the "apis" table: an outbound namespace the
// host call surface may dispatch to (spec.md §4.4 item 1).
type APIConfig struct {
	BaseURL                string `toml:"base_url"`
	Secret                 string `toml:"secret"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	MaxRetries             int    `toml:"max_retries"`
	BreakerFailures        int    `toml:"breaker_failures"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

// DataSourceConfig configures a non-webhook event source adapter. The
// only adapter shipped in this repository is "timer" (internal/source/timer);
// other Type values are accepted but unused.
type DataSourceConfig struct {
	Type     string `toml:"type"`
	Channel  string `toml:"channel"`
	Schedule string `toml:"schedule"`
	Label    string `toml:"label"`
}

// StorageConfig selects and configures the KV backend (internal/kv).
type StorageConfig struct {
	Backend    string `toml:"backend"` // "memory" or "redis"
	RedisAddr  string `toml:"redis_addr"`
	AppKeyHex  string `toml:"app_key_hex"`
	QuotaBytes int64  `toml:"quota_bytes"`
}

// LoggingConfig configures the telemetry sink (internal/logging).
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or text
}

// ListenerConfig is one entry of the top-level "webhooks" map: a single
// HTTP listener serving a set of path-keyed webhook entries.
type ListenerConfig struct {
	ListenAddress string                  `toml:"listen_address"`
	Webhooks      map[string]WebhookEntry `toml:"webhooks"`
}

// WebhookEntry is spec.md §6's WebhookConfig.
type WebhookEntry struct {
	LogType         string        `toml:"log_type"`
	Headers         []string      `toml:"headers"`
	GetMode         *GetMode      `toml:"get_mode"`
	Label           *string       `toml:"label"`
	LogbacksAllowed *LogbackLimit `toml:"logbacks_allowed"`
}

// EffectiveLogbacksAllowed applies the spec's documented default of
// Limited(0) when the field is omitted from the TOML entry.
func (w WebhookEntry) EffectiveLogbacksAllowed() LogbackLimit {
	if w.LogbacksAllowed == nil {
		return LogbackLimit{Kind: LogbackLimited, N: 0}
	}
	return *w.LogbacksAllowed
}

// GetMode is spec.md §6's get_mode table.
type GetMode struct {
	ResponseMode ResponseMode `toml:"response_mode"`
	CachingMode  CachingMode  `toml:"caching_mode"`
}

// ModuleConfig is one "loading" table entry: the on-disk shape that
// internal/module.Loader compiles into a module.Config.
type ModuleConfig struct {
	Name                    string              `toml:"name"`
	Path                    string              `toml:"path"`
	Channels                []string            `toml:"channels"`
	FuelLimit               uint64              `toml:"fuel_limit"`
	MemoryPagesLimit        uint32              `toml:"memory_pages_limit"`
	TestModeAllowed         bool                `toml:"test_mode_allowed"`
	PersistentResponse      bool                `toml:"persistent_response"`
	LogbacksAllowedOverride *uint32             `toml:"logbacks_allowed_override"`
	InvocationTimeoutMillis int64               `toml:"invocation_timeout_millis"`
	AllowedAPIMethods       map[string][]string `toml:"allowed_api_methods"`
	StorageQuotaBytes       int64               `toml:"storage_quota_bytes"`
}

// InvocationTimeout returns the configured invocation deadline, or 0 when
// unset, which leaves sandbox.DefaultInvocationTimeout in effect.
func (m ModuleConfig) InvocationTimeout() time.Duration {
	if m.InvocationTimeoutMillis <= 0 {
		return 0
	}
	return time.Duration(m.InvocationTimeoutMillis) * time.Millisecond
}

// Parse decodes raw TOML text (post-interpolation) into a Config.
func Parse(text []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(text, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.LogQueueSize <= 0 {
		cfg.LogQueueSize = 2048
	}
	return cfg, nil
}
