package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Disconnect revokes the provider's tokens where the provider supports it and
// clears the stored credential. Revocation is best effort: a failure is logged
// and the local credential is removed regardless.
func (r *Refresher) Disconnect(ctx context.Context, p Provider) error {
	cred, err := r.store.Get(p)
	if err != nil {
		return err
	}

	if cred != nil {
		if reg, ok := r.registration(p); ok {
			if err := r.revoke(ctx, reg.desc, cred); err != nil {
				r.logger.Warn("token revocation failed",
					slog.String("provider", string(p)),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	// Clear under the provider's flight key so no refresh can write the
	// credential back. Joining a refresh already in flight means it finishes
	// first; go round again so the clear still runs.
	for {
		ran := false

		_, err, _ := r.group.Do(string(p), func() (any, error) {
			ran = true

			if err := r.store.Clear(p); err != nil {
				return flightResult{err: err}, err
			}

			return flightResult{err: &Error{Kind: ErrNotConnected, Provider: p, Description: "disconnected"}}, nil
		})
		if ran {
			return err
		}
	}
}

func (r *Refresher) revoke(ctx context.Context, desc Descriptor, cred *Credential) error {
	if desc.RevokeStyle == RevokeNone || desc.RevokeURL == "" {
		return nil
	}

	var req *http.Request

	var err error

	switch desc.RevokeStyle {
	case RevokeForm:
		// Revoking the refresh token also invalidates access tokens minted from it.
		tok := cred.RefreshToken
		if tok == "" {
			tok = cred.AccessToken
		}

		form := url.Values{"token": {tok}}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, desc.RevokeURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	case RevokeBearer:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, desc.RevokeURL, http.NoBody)
		if err != nil {
			return err
		}

		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	default:
		return fmt.Errorf("auth: unknown revoke style %d", desc.RevokeStyle)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: ErrNetwork, Provider: desc.Provider, Endpoint: desc.RevokeURL, Err: err}
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{Kind: ErrProtocol, Provider: desc.Provider, Endpoint: desc.RevokeURL, Status: resp.StatusCode, Description: "revocation rejected"}
	}

	r.logger.Info("token revoked", slog.String("provider", string(desc.Provider)))

	return nil
}
