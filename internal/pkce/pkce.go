// Package pkce generates Proof Key for Code Exchange verifier/challenge pairs
// and OAuth2 state nonces for the authorization-code flow.
package pkce

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// stateTokenBytes is the number of random bytes in a state nonce.
const stateTokenBytes = 16

// MinVerifierLength is the RFC 7636 lower bound on verifier length.
const MinVerifierLength = 43

// Pair is a PKCE verifier and its S256 challenge.
type Pair struct {
	Verifier  string
	Challenge string
}

// Generate returns a fresh pair. The verifier is 32 bytes from crypto/rand,
// base64url-encoded without padding (43 characters); the challenge is
// base64url_no_padding(SHA256(verifier)).
func Generate() Pair {
	verifier := oauth2.GenerateVerifier()

	return Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
	}
}

// Challenge derives the S256 challenge for verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// NewState produces a random hex nonce for the OAuth2 state parameter.
func NewState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("pkce: generating state: %w", err)
	}

	return hex.EncodeToString(b), nil
}
