package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// Resolved is a fully resolved configuration: the file's values with
// environment and CLI overrides applied.
type Resolved struct {
	*Config

	// Path is the config file consulted, whether or not it exists.
	Path string
	// DataDir is the absolute data directory (secrets and queue database).
	DataDir string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Config file (defaults if absent)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("config loaded", slog.String("path", cfgPath))

	// 3. Environment
	for p, id := range env.ClientIDs {
		pc := cfg.Providers[string(p)]
		pc.ClientID = id
		cfg.Providers[string(p)] = pc

		logger.Debug("client id from environment", slog.String("provider", string(p)))
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = strings.ToLower(env.LogLevel)
	}

	dataDir := cfg.DataDir
	if env.DataDir != "" {
		dataDir = env.DataDir
	}

	// 4. CLI flags
	if cli.DataDir != "" {
		dataDir = cli.DataDir
	}

	if cli.Listen != nil {
		cfg.Serve.Listen = *cli.Listen
	}

	if cli.Verify != nil {
		cfg.Queue.VerifyUploads = *cli.Verify
	}

	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	r := &Resolved{Config: cfg, Path: cfgPath, DataDir: expandTilde(dataDir)}

	// 5. Validate the final result; env values have not been checked yet.
	var errs []error
	if err := ValidateResolved(r); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateLogLevel(cfg.Logging.LogLevel)...)
	errs = append(errs, validateProviders(cfg.Providers)...)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return r, nil
}

// ClientConfig returns the OAuth client registration for p.
func (r *Resolved) ClientConfig(p auth.Provider) auth.FlowConfig {
	pc := r.Provider(p)

	return auth.FlowConfig{ClientID: pc.ClientID, ClientSecret: pc.ClientSecret}
}

// expandTilde replaces a leading "~/" with the user's home directory.
// If os.UserHomeDir() fails, the path is returned unexpanded and
// ValidateResolved reports it as relative.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
