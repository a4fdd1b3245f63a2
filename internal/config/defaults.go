package config

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultFolderTemplate = "/clipcloud/{yyyy}-{mm}"
	defaultCallbackPort   = 0
	defaultMaxAutoRetries = 3
	defaultRetryBaseDelay = "2s"
	defaultRetryMaxDelay  = "2m"
	defaultBandwidthLimit = "0"
	defaultPumpInterval   = "30s"
	defaultSettle         = "2s"
	defaultListen         = "127.0.0.1:8765"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
	defaultRefreshMargin  = "60s"
)

// defaultExtensions are the audio formats the watch folder picks up.
var defaultExtensions = []string{".m4a", ".mp3", ".wav", ".aac", ".ogg", ".flac"}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: make(map[string]ProviderConfig),
		Auth: AuthConfig{
			RefreshMargin: defaultRefreshMargin,
			CallbackPort:  defaultCallbackPort,
		},
		Queue: QueueConfig{
			MaxAutoRetries: defaultMaxAutoRetries,
			RetryBaseDelay: defaultRetryBaseDelay,
			RetryMaxDelay:  defaultRetryMaxDelay,
			BandwidthLimit: defaultBandwidthLimit,
			PumpInterval:   defaultPumpInterval,
		},
		Watch: WatchConfig{
			RemoteDir:  defaultFolderTemplate,
			Extensions: append([]string(nil), defaultExtensions...),
			Settle:     defaultSettle,
		},
		Serve: ServeConfig{Listen: defaultListen},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
