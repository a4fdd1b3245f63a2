package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/config"
)

func TestAccountSuffix(t *testing.T) {
	assert.Empty(t, accountSuffix(nil))
	assert.Empty(t, accountSuffix(&auth.Credential{}))
	assert.Equal(t, " as kim@example.com", accountSuffix(&auth.Credential{AccountEmail: "kim@example.com"}))
}

func newTestSession(t *testing.T) *session {
	t.Helper()

	cc := &CLIContext{
		Cfg:    &config.Resolved{Config: config.DefaultConfig(), DataDir: t.TempDir()},
		Logger: slog.Default(),
	}

	sess, err := openSession(cc)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	return sess
}

func TestDescribeAccount(t *testing.T) {
	sess := newTestSession(t)
	cmd := &cobra.Command{}

	entry, err := describeAccount(cmd, sess, auth.Dropbox, false)
	require.NoError(t, err)
	assert.False(t, entry.Connected)
	assert.Empty(t, entry.Token)

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, sess.registry.Store().Set(&auth.Credential{
		Provider:     auth.Dropbox,
		AccessToken:  "sl.access",
		RefreshToken: "refresh",
		ExpiresAt:    expires,
		AccountEmail: "kim@example.com",
		AccountName:  "Kim",
	}))

	entry, err = describeAccount(cmd, sess, auth.Dropbox, false)
	require.NoError(t, err)
	assert.True(t, entry.Connected)
	assert.Equal(t, "kim@example.com", entry.Email)
	assert.Equal(t, "Kim", entry.Name)
	assert.Equal(t, tokenStateValid, entry.Token)
	assert.True(t, expires.Equal(entry.ExpiresAt))
	assert.Empty(t, entry.Probe, "probe runs only with --check")
}
