package auth

import (
	"context"
	"maps"
	"slices"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// AccountFetcher is a provider's "who am I" call.
type AccountFetcher interface {
	FetchAccount(ctx context.Context, accessToken string) (*Account, error)
}

// AccountFetcherFunc adapts a function to AccountFetcher.
type AccountFetcherFunc func(ctx context.Context, accessToken string) (*Account, error)

// FetchAccount calls f.
func (f AccountFetcherFunc) FetchAccount(ctx context.Context, accessToken string) (*Account, error) {
	return f(ctx, accessToken)
}

// RevokeStyle selects how a provider's revocation endpoint expects the token.
type RevokeStyle int

const (
	// RevokeNone means the provider has no token revocation endpoint.
	RevokeNone RevokeStyle = iota
	// RevokeForm posts token=<token> form-encoded (RFC 7009).
	RevokeForm
	// RevokeBearer posts an empty body authenticated with the access token.
	RevokeBearer
)

// Descriptor holds everything that differs between providers' OAuth setups.
type Descriptor struct {
	Provider    Provider
	AuthURL     string
	TokenURL    string
	Scopes      []string
	AuthParams  map[string]string // extra authorize query parameters
	RevokeURL   string
	RevokeStyle RevokeStyle
	Account     AccountFetcher // optional
}

// WithAccount returns a copy of d using fetcher for account lookups.
func (d Descriptor) WithAccount(fetcher AccountFetcher) Descriptor {
	d.Account = fetcher
	return d
}

// WithEndpoints returns a copy of d pointed at different authorize and token
// endpoints. Used for sovereign clouds and for tests.
func (d Descriptor) WithEndpoints(authURL, tokenURL string) Descriptor {
	d.AuthURL = authURL
	d.TokenURL = tokenURL
	return d
}

// oauthConfig builds the x/oauth2 configuration for one run. The client id
// travels in the form body: installed-app clients have no secret to put in
// a Basic auth header.
func (d Descriptor) oauthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   d.AuthURL,
			TokenURL:  d.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      slices.Clone(d.Scopes),
	}
}

// authParamOptions renders AuthParams in a stable order.
func (d Descriptor) authParamOptions() []oauth2.AuthCodeOption {
	keys := slices.Sorted(maps.Keys(d.AuthParams))
	opts := make([]oauth2.AuthCodeOption, 0, len(keys))

	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, d.AuthParams[k]))
	}

	return opts
}

// GoogleDriveDescriptor returns the Google Drive OAuth descriptor. The
// drive.file scope limits access to files this application created.
func GoogleDriveDescriptor() Descriptor {
	return Descriptor{
		Provider: GoogleDrive,
		AuthURL:  google.Endpoint.AuthURL,
		TokenURL: google.Endpoint.TokenURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.file",
			"https://www.googleapis.com/auth/userinfo.email",
		},
		AuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		RevokeURL:   "https://oauth2.googleapis.com/revoke",
		RevokeStyle: RevokeForm,
	}
}

// OneDriveDescriptor returns the Microsoft identity platform descriptor.
// offline_access is what makes Microsoft issue a refresh token.
func OneDriveDescriptor() Descriptor {
	ep := microsoft.AzureADEndpoint("common")

	return Descriptor{
		Provider: OneDrive,
		AuthURL:  ep.AuthURL,
		TokenURL: ep.TokenURL,
		Scopes:   []string{"Files.ReadWrite", "User.Read", "offline_access"},
	}
}

// DropboxDescriptor returns the Dropbox descriptor. token_access_type=offline
// requests a long-lived refresh token alongside the short-lived access token.
func DropboxDescriptor() Descriptor {
	return Descriptor{
		Provider: Dropbox,
		AuthURL:  endpoints.Dropbox.AuthURL,
		TokenURL: endpoints.Dropbox.TokenURL,
		Scopes: []string{
			"account_info.read",
			"files.metadata.read",
			"files.content.read",
			"files.content.write",
			"sharing.write",
		},
		AuthParams: map[string]string{
			"token_access_type": "offline",
		},
		RevokeURL:   "https://api.dropboxapi.com/2/auth/token/revoke",
		RevokeStyle: RevokeBearer,
	}
}

// DescriptorFor returns the built-in descriptor for p.
func DescriptorFor(p Provider) (Descriptor, bool) {
	switch p {
	case GoogleDrive:
		return GoogleDriveDescriptor(), true
	case OneDrive:
		return OneDriveDescriptor(), true
	case Dropbox:
		return DropboxDescriptor(), true
	default:
		return Descriptor{}, false
	}
}
