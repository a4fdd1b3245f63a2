package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/clipcloud/internal/config"
)

func TestMaskSecrets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers["gdrive"] = config.ProviderConfig{ClientID: "id.apps.googleusercontent.com", ClientSecret: "shh"}
	cfg.Providers["dropbox"] = config.ProviderConfig{ClientID: "abc123"}

	masked := maskSecrets(cfg)

	assert.Equal(t, "(set)", masked.Providers["gdrive"].ClientSecret)
	assert.Equal(t, "id.apps.googleusercontent.com", masked.Providers["gdrive"].ClientID)
	assert.Empty(t, masked.Providers["dropbox"].ClientSecret)

	// The original is untouched.
	assert.Equal(t, "shh", cfg.Providers["gdrive"].ClientSecret)
}
