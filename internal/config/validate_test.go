package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsPass(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown provider", func(c *Config) { c.Providers["box"] = ProviderConfig{} }, `unknown provider "box"`},
		{"relative folder template", func(c *Config) {
			c.Providers["gdrive"] = ProviderConfig{FolderTemplate: "clips"}
		}, "folder_template"},
		{"bad upload limit", func(c *Config) {
			c.Providers["dropbox"] = ProviderConfig{SimpleUploadLimit: "lots"}
		}, "simple_upload_limit"},
		{"short client id", func(c *Config) {
			c.Providers["onedrive"] = ProviderConfig{ClientID: "abc"}
		}, "client_id"},
		{"negative refresh margin", func(c *Config) { c.Auth.RefreshMargin = "-1s" }, "refresh_margin"},
		{"callback port range", func(c *Config) { c.Auth.CallbackPort = 70000 }, "callback_port"},
		{"retries too high", func(c *Config) { c.Queue.MaxAutoRetries = 50 }, "max_auto_retries"},
		{"base exceeds max", func(c *Config) {
			c.Queue.RetryBaseDelay = "5m"
			c.Queue.RetryMaxDelay = "1m"
		}, "exceeds retry_max_delay"},
		{"bad base delay", func(c *Config) { c.Queue.RetryBaseDelay = "soon" }, "retry_base_delay"},
		{"bad bandwidth", func(c *Config) { c.Queue.BandwidthLimit = "fast" }, "bandwidth_limit"},
		{"pump interval too small", func(c *Config) { c.Queue.PumpInterval = "10ms" }, "pump_interval"},
		{"extension without dot", func(c *Config) { c.Watch.Extensions = []string{"m4a"} }, "must start with a dot"},
		{"watch provider", func(c *Config) {
			c.Watch.Dir = "/rec"
			c.Watch.Provider = "icloud"
		}, "watch.provider"},
		{"watch remote dir", func(c *Config) {
			c.Watch.Dir = "/rec"
			c.Watch.Provider = "gdrive"
			c.Watch.RemoteDir = "Voice"
		}, "watch.remote_dir"},
		{"listen", func(c *Config) { c.Serve.Listen = "localhost" }, "serve.listen"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"connect timeout", func(c *Config) { c.Network.ConnectTimeout = "100ms" }, "connect_timeout"},
		{"data timeout", func(c *Config) { c.Network.DataTimeout = "1s" }, "data_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "trace"
	cfg.Queue.MaxAutoRetries = -1
	cfg.Serve.Listen = "nope"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "max_auto_retries")
	assert.Contains(t, err.Error(), "serve.listen")
}

func TestValidate_WatchDisabledSkipsProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watch.Provider = "not-a-provider"

	assert.NoError(t, Validate(cfg))
}

func TestValidateResolved(t *testing.T) {
	r := &Resolved{Config: DefaultConfig(), DataDir: "/data"}
	assert.NoError(t, ValidateResolved(r))

	r.DataDir = ""
	assert.ErrorContains(t, ValidateResolved(r), "could not determine")

	r.DataDir = "rel"
	assert.ErrorContains(t, ValidateResolved(r), "must be absolute")
}
