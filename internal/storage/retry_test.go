package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

type fakeRefresher struct {
	calls int
	next  *auth.Credential
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ auth.Provider, _ string) (*auth.Credential, error) {
	f.calls++
	return f.next, f.err
}

var (
	oldCred = &auth.Credential{Provider: auth.OneDrive, AccessToken: "old"}
	newCred = &auth.Credential{Provider: auth.OneDrive, AccessToken: "new"}
)

func unauthorized() error {
	return &APIError{Provider: auth.OneDrive, StatusCode: 401, Err: ErrUnauthorized}
}

func TestWithAuthRetry_SuccessNoRefresh(t *testing.T) {
	r := &fakeRefresher{}

	got, err := WithAuthRetry(t.Context(), r, oldCred, func(c *auth.Credential) (string, error) {
		return c.AccessToken, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "old", got)
	assert.Equal(t, 0, r.calls)
}

func TestWithAuthRetry_RefreshesOnceAndRetries(t *testing.T) {
	r := &fakeRefresher{next: newCred}

	var tokens []string

	got, err := WithAuthRetry(t.Context(), r, oldCred, func(c *auth.Credential) (string, error) {
		tokens = append(tokens, c.AccessToken)
		if c.AccessToken == "old" {
			return "", unauthorized()
		}

		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, []string{"old", "new"}, tokens)
}

func TestWithAuthRetry_SecondUnauthorizedExpires(t *testing.T) {
	r := &fakeRefresher{next: newCred}
	attempts := 0

	_, err := WithAuthRetry(t.Context(), r, oldCred, func(*auth.Credential) (int, error) {
		attempts++
		return 0, unauthorized()
	})
	require.ErrorIs(t, err, auth.ErrAuthenticationExpired)
	assert.Equal(t, 2, attempts, "exactly one retry")
	assert.Equal(t, 1, r.calls, "exactly one refresh")
}

func TestWithAuthRetry_RefreshFailureExpires(t *testing.T) {
	r := &fakeRefresher{next: oldCred, err: errors.New("invalid_grant")}
	attempts := 0

	err := WithAuthRetryErr(t.Context(), r, oldCred, func(*auth.Credential) error {
		attempts++
		return unauthorized()
	})
	require.ErrorIs(t, err, auth.ErrAuthenticationExpired)
	assert.Equal(t, 1, attempts)
}

func TestWithAuthRetry_OtherErrorsPassThrough(t *testing.T) {
	r := &fakeRefresher{}

	err := WithAuthRetryErr(t.Context(), r, oldCred, func(*auth.Credential) error {
		return &APIError{StatusCode: 404, Err: ErrNotFound}
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.calls)
}

func TestWithAuthRetry_NilCredential(t *testing.T) {
	err := WithAuthRetryErr(t.Context(), &fakeRefresher{}, nil, func(*auth.Credential) error { return nil })
	assert.ErrorIs(t, err, auth.ErrNotConnected)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&APIError{StatusCode: 503, Err: ErrServerError}))
	assert.True(t, IsTransient(&APIError{StatusCode: 429, Err: ErrThrottled}))
	assert.True(t, IsTransient(ErrNetwork))
	assert.True(t, IsTransient(ErrChecksumMismatch))
	assert.False(t, IsTransient(ErrUnsupportedSize))
	assert.False(t, IsTransient(&auth.Error{Kind: auth.ErrAuthenticationExpired, Err: unauthorized()}))
	assert.False(t, IsTransient(&auth.Error{Kind: auth.ErrConfiguration}))
	assert.False(t, IsTransient(&APIError{StatusCode: 404, Err: ErrNotFound}))
	assert.False(t, IsTransient(nil))
}
