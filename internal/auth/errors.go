package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Use errors.Is(err, auth.ErrCancelled) to branch on the kind;
// use errors.As with *Error for the provider code and description.
var (
	// ErrConfiguration covers a bad or missing client id and malformed
	// redirect URIs. Never retried automatically.
	ErrConfiguration = errors.New("auth: configuration error")
	// ErrAuthorizationDenied means the user (or provider policy) declined.
	ErrAuthorizationDenied = errors.New("auth: authorization denied")
	// ErrCancelled means the user dismissed the browser session.
	ErrCancelled = errors.New("auth: cancelled")
	// ErrSecurity is a state mismatch on the redirect. Always fatal.
	ErrSecurity = errors.New("auth: security check failed")
	// ErrProtocol means a provider response lacked an expected field.
	ErrProtocol = errors.New("auth: protocol error")
	// ErrTokenExchangeFailed means the token endpoint rejected a grant.
	ErrTokenExchangeFailed = errors.New("auth: token exchange failed")
	// ErrAuthenticationExpired means the account must be reconnected.
	ErrAuthenticationExpired = errors.New("auth: authentication expired")
	// ErrNetwork is a transport failure; eligible for manual retry.
	ErrNetwork = errors.New("auth: network error")
	// ErrStorageUnavailable means the secure store could not be reached.
	ErrStorageUnavailable = errors.New("auth: credential storage unavailable")
	// ErrNotConnected means no credential is stored for the provider.
	ErrNotConnected = errors.New("auth: provider not connected")
	// ErrUnknownProvider means an id other than gdrive, onedrive or dropbox.
	ErrUnknownProvider = errors.New("auth: unknown provider")
)

// Error carries an error kind together with the provider's diagnostics.
// Token values never appear in any field.
type Error struct {
	Kind        error // one of the Err* kinds above, for errors.Is
	Provider    Provider
	Code        string // provider error code, e.g. "invalid_grant"
	Description string
	Endpoint    string // token/authorize endpoint, when relevant
	Status      int    // HTTP status, when relevant
	Err         error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Kind.Error())

	if e.Provider != "" {
		fmt.Fprintf(&b, " (%s)", e.Provider)
	}

	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}

	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}

	if e.Status != 0 {
		fmt.Fprintf(&b, " [HTTP %d]", e.Status)
	}

	if e.Err != nil && e.Code == "" && e.Description == "" {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// ErrorCode returns the provider error code carried by err, or "".
func ErrorCode(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}

	return ""
}

// configurationCodes are OAuth2 error codes caused by app registration or
// request setup rather than by the user.
var configurationCodes = map[string]bool{
	"invalid_client":            true,
	"unauthorized_client":       true,
	"redirect_uri_mismatch":     true,
	"invalid_scope":             true,
	"invalid_request":           true,
	"unsupported_response_type": true,
}

// transientCodes are provider-side outages reported through the redirect.
var transientCodes = map[string]bool{
	"server_error":            true,
	"temporarily_unavailable": true,
}

// authorizationError maps the redirect's error parameter to a kind.
func authorizationError(p Provider, code, desc string) error {
	switch {
	case code == "access_denied":
		if desc == "" {
			desc = "the user denied the requested permissions"
		}

		return &Error{Kind: ErrAuthorizationDenied, Provider: p, Code: code, Description: desc}
	case configurationCodes[code]:
		return &Error{
			Kind:        ErrConfiguration,
			Provider:    p,
			Code:        code,
			Description: joinDesc(desc, "check the client id and redirect URI registered with "+p.DisplayName()),
		}
	case transientCodes[code]:
		return &Error{Kind: ErrNetwork, Provider: p, Code: code, Description: desc}
	default:
		return &Error{Kind: ErrAuthorizationDenied, Provider: p, Code: code, Description: desc}
	}
}

func joinDesc(desc, hint string) string {
	if desc == "" {
		return hint
	}

	return desc + " (" + hint + ")"
}
