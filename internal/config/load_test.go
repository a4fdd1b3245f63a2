package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
data_dir = "/srv/clipcloud"

[providers.gdrive]
client_id = "1234567890-abcdef.apps.googleusercontent.com"
client_secret = "GOCSPX-secret"
folder_template = "/Recordings/{yyyy}"

[providers.dropbox]
client_id = "abcdefghijklmno"
simple_upload_limit = "64MiB"

[auth]
refresh_margin = "2m"
callback_port = 53682

[queue]
max_auto_retries = 5
retry_base_delay = "1s"
retry_max_delay = "30s"
verify_uploads = true
bandwidth_limit = "1MB/s"
pump_interval = "10s"

[watch]
dir = "/home/user/Recordings"
provider = "onedrive"
remote_dir = "/Voice"
extensions = [".m4a", ".wav"]
ignore = ["*.part"]
settle = "500ms"

[serve]
listen = "127.0.0.1:9000"

[logging]
log_level = "debug"
log_format = "json"

[network]
connect_timeout = "5s"
data_timeout = "30s"
user_agent = "clipcloud-test/1.0"
`
	cfg, err := Load(writeTestConfig(t, tomlContent))
	require.NoError(t, err)

	assert.Equal(t, "/srv/clipcloud", cfg.DataDir)

	gd := cfg.Provider(auth.GoogleDrive)
	assert.Equal(t, "GOCSPX-secret", gd.ClientSecret)
	assert.Equal(t, "/Recordings/{yyyy}", gd.FolderTemplate)

	assert.Equal(t, "/clipcloud/{yyyy}-{mm}", cfg.Provider(auth.Dropbox).FolderTemplate)
	assert.Equal(t, int64(64*1024*1024), cfg.UploadLimit(auth.Dropbox))
	assert.Zero(t, cfg.UploadLimit(auth.OneDrive))

	assert.Equal(t, 53682, cfg.Auth.CallbackPort)
	assert.Equal(t, 2*60, int(cfg.RefreshMargin().Seconds()))

	assert.Equal(t, 5, cfg.Queue.MaxAutoRetries)
	assert.True(t, cfg.Queue.VerifyUploads)
	assert.Equal(t, "1MB/s", cfg.Queue.BandwidthLimit)
	assert.Equal(t, 10, int(cfg.PumpInterval().Seconds()))

	assert.Equal(t, "onedrive", cfg.Watch.Provider)
	assert.Equal(t, []string{".m4a", ".wav"}, cfg.Watch.Extensions)
	assert.Equal(t, 500, int(cfg.Settle().Milliseconds()))

	assert.Equal(t, "127.0.0.1:9000", cfg.Serve.Listen)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, 5, int(cfg.ConnectTimeout().Seconds()))
	assert.Equal(t, "clipcloud-test/1.0", cfg.Network.UserAgent)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, "[queue]\nverify_uploads = true\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Queue.VerifyUploads)
	assert.Equal(t, defaultMaxAutoRetries, cfg.Queue.MaxAutoRetries)
	assert.Equal(t, defaultListen, cfg.Serve.Listen)
	assert.Equal(t, defaultExtensions, cfg.Watch.Extensions)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[queue]\nmax_auto_retry = 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_auto_retry")
	assert.Contains(t, err.Error(), "max_auto_retries")
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[queue\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[logging]\nlog_level = \"loud\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
data_dir = "/from/file"

[serve]
listen = "127.0.0.1:7000"

[logging]
log_level = "warn"
`)

	t.Run("file only", func(t *testing.T) {
		r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, testLogger(t))
		require.NoError(t, err)
		assert.Equal(t, path, r.Path)
		assert.Equal(t, "/from/file", r.DataDir)
		assert.Equal(t, "warn", r.Logging.LogLevel)
		assert.Equal(t, "127.0.0.1:7000", r.Serve.Listen)
	})

	t.Run("env over file", func(t *testing.T) {
		env := EnvOverrides{ConfigPath: path, DataDir: "/from/env", LogLevel: "DEBUG"}
		r, err := Resolve(env, CLIOverrides{}, testLogger(t))
		require.NoError(t, err)
		assert.Equal(t, "/from/env", r.DataDir)
		assert.Equal(t, "debug", r.Logging.LogLevel)
	})

	t.Run("cli over env", func(t *testing.T) {
		listen := "127.0.0.1:7001"
		verify := true
		env := EnvOverrides{ConfigPath: "/nonexistent/config.toml", DataDir: "/from/env"}
		cli := CLIOverrides{ConfigPath: path, DataDir: "/from/cli", Listen: &listen, Verify: &verify}

		r, err := Resolve(env, cli, testLogger(t))
		require.NoError(t, err)
		assert.Equal(t, path, r.Path)
		assert.Equal(t, "/from/cli", r.DataDir)
		assert.Equal(t, "127.0.0.1:7001", r.Serve.Listen)
		assert.True(t, r.Queue.VerifyUploads)
	})
}

func TestResolve_ClientIDFromEnv(t *testing.T) {
	path := writeTestConfig(t, `
[providers.onedrive]
client_id = "file-client-id-0001"
client_secret = "shh"
`)
	env := EnvOverrides{ClientIDs: map[auth.Provider]string{auth.OneDrive: "env-client-id-0002"}}

	r, err := Resolve(env, CLIOverrides{ConfigPath: path, DataDir: "/data"}, testLogger(t))
	require.NoError(t, err)

	fc := r.ClientConfig(auth.OneDrive)
	assert.Equal(t, "env-client-id-0002", fc.ClientID)
	assert.Equal(t, "shh", fc.ClientSecret)
	assert.Empty(t, r.ClientConfig(auth.Dropbox).ClientID)
}

func TestResolve_InvalidEnvValues(t *testing.T) {
	path := writeTestConfig(t, "")

	_, err := Resolve(EnvOverrides{LogLevel: "chatty"}, CLIOverrides{ConfigPath: path, DataDir: "/data"}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")

	env := EnvOverrides{ClientIDs: map[auth.Provider]string{auth.Dropbox: "changeme"}}
	_, err = Resolve(env, CLIOverrides{ConfigPath: path, DataDir: "/data"}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "placeholder")
}

func TestResolve_RelativeDataDirRejected(t *testing.T) {
	path := writeTestConfig(t, "")

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path, DataDir: "relative/dir"}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

func TestResolve_BadListenFlag(t *testing.T) {
	path := writeTestConfig(t, "")
	listen := "no-port"

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path, DataDir: "/data", Listen: &listen}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serve.listen")
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "clips"), expandTilde("~/clips"))
	assert.Equal(t, "/abs/path", expandTilde("/abs/path"))
	assert.Equal(t, "~other/path", expandTilde("~other/path"))
}
