package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/clipcloud/internal/secretstore"
)

const credentialKeyPrefix = "credential."

// TokenStore persists at most one Credential per provider in a secure store.
// It is the only writer of credential entries; the Flow and Refresher go
// through it.
type TokenStore struct {
	secrets secretstore.Store
	logger  *slog.Logger
}

// NewTokenStore wraps a secure store.
func NewTokenStore(secrets secretstore.Store, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenStore{secrets: secrets, logger: logger}
}

func credentialKey(p Provider) string {
	return credentialKeyPrefix + string(p)
}

// Get returns the stored credential, or nil if none is stored. An entry that
// cannot be decoded is reported as absent so a reconnect overwrites it. If the
// secure store is unreachable the error wraps ErrStorageUnavailable and
// callers should treat the provider as not connected.
func (s *TokenStore) Get(p Provider) (*Credential, error) {
	data, err := s.secrets.Get(credentialKey(p))
	if err != nil {
		return nil, &Error{Kind: ErrStorageUnavailable, Provider: p, Err: err}
	}

	if data == nil {
		return nil, nil
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		s.logger.Warn("discarding undecodable credential",
			slog.String("provider", string(p)),
			slog.String("error", err.Error()),
		)

		return nil, nil
	}

	if cred.Provider != p || cred.AccessToken == "" {
		s.logger.Warn("discarding incomplete credential",
			slog.String("provider", string(p)),
			slog.String("stored_provider", string(cred.Provider)),
		)

		return nil, nil
	}

	return &cred, nil
}

// Set replaces the provider's credential.
func (s *TokenStore) Set(cred *Credential) error {
	if cred == nil {
		return errors.New("auth: refusing to store nil credential")
	}

	if !cred.Provider.Valid() {
		return fmt.Errorf("auth: refusing to store credential for unknown provider %q", cred.Provider)
	}

	if cred.AccessToken == "" {
		return fmt.Errorf("auth: refusing to store credential without access token for %s", cred.Provider)
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("auth: encoding credential: %w", err)
	}

	if err := s.secrets.Put(credentialKey(cred.Provider), data); err != nil {
		return &Error{Kind: ErrStorageUnavailable, Provider: cred.Provider, Err: err}
	}

	s.logger.Debug("stored credential", slog.Any("credential", cred))

	return nil
}

// Clear removes the provider's credential. Clearing an absent entry succeeds.
func (s *TokenStore) Clear(p Provider) error {
	if err := s.secrets.Delete(credentialKey(p)); err != nil {
		return &Error{Kind: ErrStorageUnavailable, Provider: p, Err: err}
	}

	s.logger.Debug("cleared credential", slog.String("provider", string(p)))

	return nil
}
