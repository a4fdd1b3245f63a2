package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestGenerate_ChallengeMatchesVerifier(t *testing.T) {
	for range 50 {
		p := Generate()

		assert.GreaterOrEqual(t, len(p.Verifier), MinVerifierLength)
		assert.Regexp(t, urlSafe, p.Verifier)

		sum := sha256.Sum256([]byte(p.Verifier))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), p.Challenge)
	}
}

func TestGenerate_NeverRepeats(t *testing.T) {
	seen := make(map[string]bool)

	for range 200 {
		p := Generate()
		require.False(t, seen[p.Verifier], "verifier reused")
		seen[p.Verifier] = true
	}
}

func TestNewState(t *testing.T) {
	a, err := NewState()
	require.NoError(t, err)

	b, err := NewState()
	require.NoError(t, err)

	assert.Len(t, a, stateTokenBytes*2)
	assert.NotEqual(t, a, b)
}
