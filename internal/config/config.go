// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for clipcloud. Values resolve through a
// four-layer chain: defaults -> config file -> environment (including an
// optional .env file) -> CLI flags.
package config

import (
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	DataDir   string                    `toml:"data_dir"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Auth      AuthConfig                `toml:"auth"`
	Queue     QueueConfig               `toml:"queue"`
	Watch     WatchConfig               `toml:"watch"`
	Serve     ServeConfig               `toml:"serve"`
	Logging   LoggingConfig             `toml:"logging"`
	Network   NetworkConfig             `toml:"network"`
}

// ProviderConfig holds the OAuth client registration and upload layout for
// one storage provider, keyed by provider id ("gdrive", "onedrive",
// "dropbox") under [providers].
type ProviderConfig struct {
	ClientID          string `toml:"client_id"`
	ClientSecret      string `toml:"client_secret"`
	FolderTemplate    string `toml:"folder_template"`
	SimpleUploadLimit string `toml:"simple_upload_limit"`
}

// AuthConfig controls token refresh and the loopback redirect listener.
type AuthConfig struct {
	RefreshMargin string `toml:"refresh_margin"`
	CallbackPort  int    `toml:"callback_port"`
}

// QueueConfig controls the upload queue's retry policy and throughput.
type QueueConfig struct {
	MaxAutoRetries int    `toml:"max_auto_retries"`
	RetryBaseDelay string `toml:"retry_base_delay"`
	RetryMaxDelay  string `toml:"retry_max_delay"`
	VerifyUploads  bool   `toml:"verify_uploads"`
	BandwidthLimit string `toml:"bandwidth_limit"`
	PumpInterval   string `toml:"pump_interval"`
}

// WatchConfig configures the watch folder. An empty Dir disables watching.
type WatchConfig struct {
	Dir        string   `toml:"dir"`
	Provider   string   `toml:"provider"`
	RemoteDir  string   `toml:"remote_dir"`
	Extensions []string `toml:"extensions"`
	Ignore     []string `toml:"ignore"`
	Settle     string   `toml:"settle"`
}

// ServeConfig configures the progress feed server.
type ServeConfig struct {
	Listen string `toml:"listen"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DataDir    string  // --data-dir flag
	Listen     *string // --listen flag (serve)
	Verify     *bool   // --verify flag
}

// Provider returns the settings for p with defaults filled in.
func (c *Config) Provider(p auth.Provider) ProviderConfig {
	pc := c.Providers[string(p)]

	if pc.FolderTemplate == "" {
		pc.FolderTemplate = defaultFolderTemplate
	}

	return pc
}

// UploadLimit returns the configured simple-upload cap for p in bytes, or 0
// when the provider's own limit applies.
func (c *Config) UploadLimit(p auth.Provider) int64 {
	n, err := ParseSize(c.Providers[string(p)].SimpleUploadLimit)
	if err != nil {
		return 0
	}

	return n
}

// RefreshMargin returns auth.refresh_margin.
func (c *Config) RefreshMargin() time.Duration {
	return durationOr(c.Auth.RefreshMargin, auth.DefaultRefreshMargin)
}

// RetryBaseDelay returns queue.retry_base_delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return durationOr(c.Queue.RetryBaseDelay, mustDuration(defaultRetryBaseDelay))
}

// RetryMaxDelay returns queue.retry_max_delay.
func (c *Config) RetryMaxDelay() time.Duration {
	return durationOr(c.Queue.RetryMaxDelay, mustDuration(defaultRetryMaxDelay))
}

// PumpInterval returns queue.pump_interval.
func (c *Config) PumpInterval() time.Duration {
	return durationOr(c.Queue.PumpInterval, mustDuration(defaultPumpInterval))
}

// Settle returns watch.settle.
func (c *Config) Settle() time.Duration {
	return durationOr(c.Watch.Settle, mustDuration(defaultSettle))
}

// ConnectTimeout returns network.connect_timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return durationOr(c.Network.ConnectTimeout, mustDuration(defaultConnectTimeout))
}

// DataTimeout returns network.data_timeout.
func (c *Config) DataTimeout() time.Duration {
	return durationOr(c.Network.DataTimeout, mustDuration(defaultDataTimeout))
}

// durationOr parses s, falling back to def when s is empty or invalid.
// Validate rejects invalid values before they reach here.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}

	return d
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic("config: bad default duration " + s)
	}

	return d
}
