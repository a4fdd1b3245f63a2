package auth

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// classifyTokenError maps an x/oauth2 token-endpoint failure onto the error
// taxonomy. x/oauth2 returns *RetrieveError for non-2xx responses and the raw
// transport error when the request never completed.
func classifyTokenError(p Provider, endpoint string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := &Error{
			Kind:        ErrTokenExchangeFailed,
			Provider:    p,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Endpoint:    endpoint,
			Err:         err,
		}

		if re.Response != nil {
			e.Status = re.Response.StatusCode
		}

		if e.Code == "" && e.Description == "" {
			e.Description = strings.TrimSpace(string(re.Body))
			if len(e.Description) > 200 {
				e.Description = e.Description[:200]
			}
		}

		return e
	}

	if isTransportError(err) {
		return &Error{Kind: ErrNetwork, Provider: p, Endpoint: endpoint, Err: err}
	}

	return &Error{Kind: ErrProtocol, Provider: p, Endpoint: endpoint, Err: err}
}

func isTransportError(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne)
}

// credentialFromToken builds a new Credential from a token response.
func credentialFromToken(p Provider, tok *oauth2.Token, requested []string) *Credential {
	cred := &Credential{
		Provider:     p,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scopes:       grantedScopes(tok, requested),
	}

	if !tok.Expiry.IsZero() {
		cred.ExpiresAt = tok.Expiry.UTC().Truncate(time.Second)
	}

	return cred
}

// mergeRefreshed applies a refresh response on top of the stored credential.
// Fields the response omits keep their previous values; a response without a
// lifetime makes the token non-expiring until it is rejected.
func mergeRefreshed(cur *Credential, tok *oauth2.Token) *Credential {
	next := cur.Clone()
	next.AccessToken = tok.AccessToken

	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}

	next.ExpiresAt = time.Time{}
	if !tok.Expiry.IsZero() {
		next.ExpiresAt = tok.Expiry.UTC().Truncate(time.Second)
	}

	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		next.Scopes = strings.Fields(s)
	}

	return next
}

func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		return strings.Fields(s)
	}

	return append([]string(nil), requested...)
}
