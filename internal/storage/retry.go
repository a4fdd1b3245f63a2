package storage

import (
	"context"
	"errors"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// WithAuthRetry runs op with cred. If the provider rejects the token, it asks
// the refresher for exactly one forced refresh and runs op once more with the
// new credential. A second rejection, or a refresh that yields no new token,
// ends in auth.ErrAuthenticationExpired.
func WithAuthRetry[T any](
	ctx context.Context, r Refresher, cred *auth.Credential, op func(*auth.Credential) (T, error),
) (T, error) {
	var zero T

	if cred == nil {
		return zero, &auth.Error{Kind: auth.ErrNotConnected, Description: "no credential supplied"}
	}

	res, err := op(cred)
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return res, err
	}

	fresh, rerr := r.Refresh(ctx, cred.Provider, cred.AccessToken)
	if fresh == nil || fresh.AccessToken == cred.AccessToken {
		return zero, &auth.Error{
			Kind:        auth.ErrAuthenticationExpired,
			Provider:    cred.Provider,
			Description: "token rejected and could not be refreshed",
			Err:         errors.Join(err, rerr),
		}
	}

	res, err = op(fresh)
	if errors.Is(err, ErrUnauthorized) {
		return zero, &auth.Error{
			Kind:        auth.ErrAuthenticationExpired,
			Provider:    cred.Provider,
			Description: "token rejected again after refresh",
			Err:         err,
		}
	}

	return res, err
}

// WithAuthRetryErr is WithAuthRetry for operations that only return an error.
func WithAuthRetryErr(ctx context.Context, r Refresher, cred *auth.Credential, op func(*auth.Credential) error) error {
	_, err := WithAuthRetry(ctx, r, cred, func(c *auth.Credential) (struct{}, error) {
		return struct{}{}, op(c)
	})

	return err
}
