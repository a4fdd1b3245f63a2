package auth

import (
	"log/slog"
	"slices"
	"time"
)

// tokenPrefixLen is how much of a token may appear in diagnostics.
const tokenPrefixLen = 6

// Credential is the persisted authorization for one provider. At most one
// Credential exists per provider; writing a new one replaces the old.
//
// A zero ExpiresAt means the provider did not report a lifetime: the token is
// treated as valid until a request is rejected as unauthorized.
type Credential struct {
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Scopes       []string  `json:"scopes,omitempty"`
	AccountEmail string    `json:"account_email,omitempty"`
	AccountName  string    `json:"account_name,omitempty"`
}

// HasExpiry reports whether the provider supplied a token lifetime.
func (c *Credential) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// NeedsRefresh reports whether the access token expires within margin of now.
// Credentials without an expiry never need a proactive refresh.
func (c *Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if !c.HasExpiry() {
		return false
	}

	return !c.ExpiresAt.After(now.Add(margin))
}

// CanRefresh reports whether a refresh token is available.
func (c *Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}

	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)

	return &cp
}

// LogValue keeps token material out of structured logs.
func (c *Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", string(c.Provider)),
		slog.String("access_token", TokenPrefix(c.AccessToken)),
		slog.Bool("has_refresh_token", c.RefreshToken != ""),
		slog.Time("expires_at", c.ExpiresAt),
		slog.String("account", c.AccountEmail),
	)
}

// TokenPrefix returns a short, non-secret prefix of tok for diagnostics.
func TokenPrefix(tok string) string {
	if tok == "" {
		return ""
	}

	if len(tok) <= tokenPrefixLen {
		return "..."
	}

	return tok[:tokenPrefixLen] + "..."
}

// Account is the display metadata returned by a provider's "who am I" call.
type Account struct {
	Email string
	Name  string
}
