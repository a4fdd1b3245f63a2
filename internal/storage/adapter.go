// Package storage defines the contract every cloud storage backend implements
// and the pieces they share: error classification, the retrying REST core,
// unauthorized-retry policy, file access with bandwidth limiting, progress
// reporting, and remote path helpers.
package storage

import (
	"context"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// ProgressFunc receives upload progress as a fraction in [0, 1]. Successive
// calls within one upload never decrease.
type ProgressFunc func(fraction float64)

// ObjectMeta describes a remote file or folder.
type ObjectMeta struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path,omitempty"` // absolute remote path, "" when the provider does not report one
	ParentID   string    `json:"parent_id,omitempty"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum,omitempty"` // provider-native content hash
	WebURL     string    `json:"web_url,omitempty"`
	IsFolder   bool      `json:"is_folder,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// PutResult is what a completed upload reports.
type PutResult struct {
	ObjectID string
	Meta     ObjectMeta
}

// Change is one entry of an incremental change feed.
type Change struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
	IsFolder   bool      `json:"is_folder,omitempty"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// ChangePage is one page of the change feed. Cursor resumes after this page;
// HasMore means another call with Cursor returns more items immediately.
type ChangePage struct {
	Cursor  string
	Items   []Change
	HasMore bool
}

// Adapter is a cloud storage backend. Every operation that reaches the remote
// API applies the unauthorized-retry policy (see WithAuthRetry).
type Adapter interface {
	Provider() auth.Provider

	// Init is a lightweight probe that the credential is accepted.
	Init(ctx context.Context, cred *auth.Credential) error

	// EnsureRoot expands folderTemplate and creates the folder chain.
	// Existing folders are not an error.
	EnsureRoot(ctx context.Context, folderTemplate string, cred *auth.Credential) (string, error)

	// PutChunked uploads localPath to remotePath, reporting progress. Files
	// over the provider's single-request limit fail with ErrUnsupportedSize.
	PutChunked(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc, cred *auth.Credential) (*PutResult, error)

	// Verify reports whether pathOrID exists and, when checksum is non-empty,
	// whether its content hash matches. Not found is (false, nil).
	Verify(ctx context.Context, pathOrID, checksum string, cred *auth.Credential) (bool, error)

	// CreateShareLink returns a view link. A zero expiresAt means no expiry.
	CreateShareLink(ctx context.Context, id string, expiresAt time.Time, cred *auth.Credential) (string, error)

	// ListChanges returns the next page of changes after cursor. An empty
	// cursor starts fresh: the page carries a cursor and no items.
	ListChanges(ctx context.Context, cursor string, cred *auth.Credential) (*ChangePage, error)

	Rename(ctx context.Context, id, newName string, cred *auth.Credential) (*ObjectMeta, error)
	Move(ctx context.Context, id, newParentPath string, cred *auth.Credential) (*ObjectMeta, error)

	// Delete removes id. Deleting a missing object succeeds.
	Delete(ctx context.Context, id string, cred *auth.Credential) error

	// RefreshAuth forces a token refresh for cred's provider.
	RefreshAuth(ctx context.Context, cred *auth.Credential) (*auth.Credential, error)

	// Checksum computes the provider-native hash of a local file, for Verify.
	Checksum(ctx context.Context, localPath string) (string, error)
}

// Refresher is the slice of auth.Refresher adapters depend on.
type Refresher interface {
	Refresh(ctx context.Context, p auth.Provider, rejectedToken string) (*auth.Credential, error)
}
