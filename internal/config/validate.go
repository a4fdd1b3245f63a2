package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// Validation range constants.
const (
	maxAutoRetriesLimit = 20
	maxCallbackPort     = 65535
	minPumpInterval     = 1 * time.Second
	minConnectTimeout   = 1 * time.Second
	minDataTimeout      = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateServe(&cfg.Serve)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after env and
// CLI overrides have been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.DataDir == "" {
		errs = append(errs, errors.New("data_dir: could not determine a data directory; set CLIPCLOUD_DATA_DIR"))
	} else if !filepath.IsAbs(r.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute after expansion, got %q", r.DataDir))
	}

	errs = append(errs, validateServe(&r.Serve)...)

	return errors.Join(errs...)
}

func validateProviders(providers map[string]ProviderConfig) []error {
	var errs []error

	for id, pc := range providers {
		p := auth.Provider(id)
		if !p.Valid() {
			errs = append(errs, fmt.Errorf("providers: unknown provider %q; must be one of gdrive, onedrive, dropbox", id))
			continue
		}

		if pc.FolderTemplate != "" && !strings.HasPrefix(pc.FolderTemplate, "/") {
			errs = append(errs, fmt.Errorf("providers.%s.folder_template: must start with /, got %q", id, pc.FolderTemplate))
		}

		if pc.SimpleUploadLimit != "" {
			if _, err := ParseSize(pc.SimpleUploadLimit); err != nil {
				errs = append(errs, fmt.Errorf("providers.%s.simple_upload_limit: %w", id, err))
			}
		}

		// An empty client id is allowed here: it may come from the
		// environment, and connect reports it when actually needed.
		if pc.ClientID != "" {
			if err := auth.ValidateClientID(p, pc.ClientID); err != nil {
				errs = append(errs, fmt.Errorf("providers.%s.client_id: %w", id, err))
			}
		}
	}

	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	errs = append(errs, validateDurationNonNeg("refresh_margin", a.RefreshMargin)...)

	if a.CallbackPort < 0 || a.CallbackPort > maxCallbackPort {
		errs = append(errs, fmt.Errorf("callback_port: must be between 0 and %d, got %d", maxCallbackPort, a.CallbackPort))
	}

	return errs
}

func validateQueue(q *QueueConfig) []error {
	var errs []error

	if q.MaxAutoRetries < 0 || q.MaxAutoRetries > maxAutoRetriesLimit {
		errs = append(errs, fmt.Errorf("max_auto_retries: must be between 0 and %d, got %d",
			maxAutoRetriesLimit, q.MaxAutoRetries))
	}

	base, baseErr := time.ParseDuration(q.RetryBaseDelay)
	if baseErr != nil {
		errs = append(errs, fmt.Errorf("retry_base_delay: invalid duration %q: %w", q.RetryBaseDelay, baseErr))
	}

	limit, limitErr := time.ParseDuration(q.RetryMaxDelay)
	if limitErr != nil {
		errs = append(errs, fmt.Errorf("retry_max_delay: invalid duration %q: %w", q.RetryMaxDelay, limitErr))
	}

	if baseErr == nil && limitErr == nil && base > limit {
		errs = append(errs, fmt.Errorf("retry_base_delay: %s exceeds retry_max_delay %s", base, limit))
	}

	if _, err := ParseRate(q.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	errs = append(errs, validateDurationMin("pump_interval", q.PumpInterval, minPumpInterval)...)

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	errs = append(errs, validateDurationNonNeg("settle", w.Settle)...)

	for _, ext := range w.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("watch.extensions: %q must start with a dot", ext))
		}
	}

	if w.Dir == "" {
		return errs
	}

	if _, err := auth.ParseProvider(w.Provider); err != nil {
		errs = append(errs, fmt.Errorf("watch.provider: %w", err))
	}

	if !strings.HasPrefix(w.RemoteDir, "/") {
		errs = append(errs, fmt.Errorf("watch.remote_dir: must start with /, got %q", w.RemoteDir))
	}

	return errs
}

func validateServe(s *ServeConfig) []error {
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return []error{fmt.Errorf("serve.listen: %w", err)}
	}

	return nil
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}
