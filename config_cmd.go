package main

import (
	"maps"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/clipcloud/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	return cmd
}

// effectiveConfig is the JSON schema for `config show --json`.
type effectiveConfig struct {
	Path    string         `json:"config_path"`
	DataDir string         `json:"data_dir"`
	Config  *config.Config `json:"config"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(os.Stdout, effectiveConfig{
			Path:    cc.Cfg.Path,
			DataDir: cc.Cfg.DataDir,
			Config:  maskSecrets(cc.Cfg.Config),
		})
	}

	return config.RenderEffective(cc.Cfg, os.Stdout)
}

// maskSecrets returns a copy of cfg with client secrets replaced.
func maskSecrets(cfg *config.Config) *config.Config {
	cp := *cfg
	cp.Providers = maps.Clone(cfg.Providers)

	for id, pc := range cp.Providers {
		if pc.ClientSecret != "" {
			pc.ClientSecret = "(set)"
			cp.Providers[id] = pc
		}
	}

	return &cp
}
