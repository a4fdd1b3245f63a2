package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. Client
// secrets are never printed and client ids are abbreviated.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)
	ew.printf("data_dir = %q\n\n", r.DataDir)

	for _, p := range auth.AllProviders {
		renderProviderSection(ew, p, r.Provider(p), r.UploadLimit(p))
	}

	renderAuthSection(ew, &r.Auth)
	renderQueueSection(ew, &r.Queue)
	renderWatchSection(ew, &r.Watch)
	renderServeSection(ew, &r.Serve)
	renderLoggingSection(ew, &r.Logging)
	renderNetworkSection(ew, &r.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderProviderSection(ew *errWriter, p auth.Provider, pc ProviderConfig, limit int64) {
	ew.printf("[providers.%s]\n", p)

	if pc.ClientID == "" {
		ew.printf("  client_id           = (not set; use %s)\n", ClientIDEnv(p))
	} else {
		ew.printf("  client_id           = %q\n", auth.TokenPrefix(pc.ClientID))
	}

	if pc.ClientSecret != "" {
		ew.printf("  client_secret       = (set)\n")
	}

	ew.printf("  folder_template     = %q\n", pc.FolderTemplate)

	if limit > 0 {
		ew.printf("  simple_upload_limit = %q (%d bytes)\n", pc.SimpleUploadLimit, limit)
	}

	ew.printf("\n")
}

func renderAuthSection(ew *errWriter, a *AuthConfig) {
	ew.printf("[auth]\n")
	ew.printf("  refresh_margin = %q\n", a.RefreshMargin)
	ew.printf("  callback_port  = %d\n", a.CallbackPort)
	ew.printf("\n")
}

func renderQueueSection(ew *errWriter, q *QueueConfig) {
	ew.printf("[queue]\n")
	ew.printf("  max_auto_retries = %d\n", q.MaxAutoRetries)
	ew.printf("  retry_base_delay = %q\n", q.RetryBaseDelay)
	ew.printf("  retry_max_delay  = %q\n", q.RetryMaxDelay)
	ew.printf("  verify_uploads   = %t\n", q.VerifyUploads)
	ew.printf("  bandwidth_limit  = %q\n", q.BandwidthLimit)
	ew.printf("  pump_interval    = %q\n", q.PumpInterval)
	ew.printf("\n")
}

func renderWatchSection(ew *errWriter, w *WatchConfig) {
	ew.printf("[watch]\n")

	if w.Dir == "" {
		ew.printf("  dir        = (disabled)\n")
	} else {
		ew.printf("  dir        = %q\n", w.Dir)
		ew.printf("  provider   = %q\n", w.Provider)
	}

	ew.printf("  remote_dir = %q\n", w.RemoteDir)
	ew.printf("  extensions = [%s]\n", joinQuoted(w.Extensions))

	if len(w.Ignore) > 0 {
		ew.printf("  ignore     = [%s]\n", joinQuoted(w.Ignore))
	}

	ew.printf("  settle     = %q\n", w.Settle)
	ew.printf("\n")
}

func renderServeSection(ew *errWriter, s *ServeConfig) {
	ew.printf("[serve]\n")
	ew.printf("  listen = %q\n", s.Listen)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
