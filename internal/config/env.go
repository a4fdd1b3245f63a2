package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "CLIPCLOUD_CONFIG"
	EnvDataDir  = "CLIPCLOUD_DATA_DIR"
	EnvLogLevel = "CLIPCLOUD_LOG_LEVEL"

	envPrefix         = "CLIPCLOUD_"
	envClientIDSuffix = "_CLIENT_ID"
)

// ClientIDEnv returns the variable holding p's OAuth client id, e.g.
// CLIPCLOUD_GDRIVE_CLIENT_ID.
func ClientIDEnv(p auth.Provider) string {
	return envPrefix + strings.ToUpper(string(p)) + envClientIDSuffix
}

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string                   // CLIPCLOUD_CONFIG
	DataDir    string                   // CLIPCLOUD_DATA_DIR
	LogLevel   string                   // CLIPCLOUD_LOG_LEVEL
	ClientIDs  map[auth.Provider]string // CLIPCLOUD_<PROVIDER>_CLIENT_ID
}

// ReadEnvOverrides reads the process environment, falling back to the given
// .env files for variables the environment does not set. Missing .env files
// are skipped; unreadable ones are logged and skipped.
func ReadEnvOverrides(logger *slog.Logger, dotenvPaths ...string) EnvOverrides {
	if logger == nil {
		logger = slog.Default()
	}

	dotenv := map[string]string{}

	for _, p := range dotenvPaths {
		vals, err := godotenv.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			logger.Warn("ignoring unreadable .env file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}

		logger.Debug("loaded .env file", slog.String("path", p), slog.Int("vars", len(vals)))

		for k, v := range vals {
			if _, seen := dotenv[k]; !seen {
				dotenv[k] = v
			}
		}
	}

	get := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}

		return dotenv[key]
	}

	env := EnvOverrides{
		ConfigPath: get(EnvConfig),
		DataDir:    get(EnvDataDir),
		LogLevel:   get(EnvLogLevel),
		ClientIDs:  make(map[auth.Provider]string),
	}

	for _, p := range auth.AllProviders {
		if id := get(ClientIDEnv(p)); id != "" {
			env.ClientIDs[p] = id
		}
	}

	return env
}
