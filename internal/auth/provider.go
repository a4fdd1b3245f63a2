// Package auth implements the OAuth2 authorization-code + PKCE flow for the
// supported cloud storage providers, credential persistence on top of a
// secure store, and token refresh with single-flight semantics.
//
// One parametrized Flow serves every provider; the per-provider differences
// (endpoints, scopes, extra authorize parameters, account lookup, revocation)
// live in a Descriptor.
package auth

import (
	"fmt"
	"strings"
)

// Provider identifies a cloud storage backend.
type Provider string

// Supported providers.
const (
	GoogleDrive Provider = "gdrive"
	OneDrive    Provider = "onedrive"
	Dropbox     Provider = "dropbox"
)

// AllProviders lists every supported provider in display order.
var AllProviders = []Provider{GoogleDrive, OneDrive, Dropbox}

// ParseProvider converts a user-supplied name into a Provider.
// Accepts the canonical ids plus a few common spellings.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gdrive", "google", "googledrive", "google-drive":
		return GoogleDrive, nil
	case "onedrive", "microsoft", "graph":
		return OneDrive, nil
	case "dropbox":
		return Dropbox, nil
	default:
		return "", fmt.Errorf("%w %q (want one of gdrive, onedrive, dropbox)", ErrUnknownProvider, s)
	}
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case GoogleDrive, OneDrive, Dropbox:
		return true
	default:
		return false
	}
}

func (p Provider) String() string {
	return string(p)
}

// DisplayName is the human-facing product name.
func (p Provider) DisplayName() string {
	switch p {
	case GoogleDrive:
		return "Google Drive"
	case OneDrive:
		return "OneDrive"
	case Dropbox:
		return "Dropbox"
	default:
		return string(p)
	}
}
