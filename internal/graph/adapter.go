package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
	"github.com/tonimelisma/clipcloud/pkg/quickxorhash"
)

// Options configures an Adapter.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	UserAgent   string
	Files       storage.FileAccessor
	UploadLimit int64 // 0 or anything above SimpleUploadMaxSize means SimpleUploadMaxSize
	Logger      *slog.Logger
}

// Adapter is the OneDrive storage.Adapter.
type Adapter struct {
	client      *Client
	refresher   storage.Refresher
	files       storage.FileAccessor
	uploadLimit int64
	logger      *slog.Logger
	nowFunc     func() time.Time
}

var _ storage.Adapter = (*Adapter)(nil)

// NewAdapter creates the OneDrive adapter.
func NewAdapter(refresher storage.Refresher, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	files := opts.Files
	if files == nil {
		files = storage.OSFiles{}
	}

	limit := opts.UploadLimit
	if limit <= 0 || limit > SimpleUploadMaxSize {
		limit = SimpleUploadMaxSize
	}

	return &Adapter{
		client:      NewClient(opts.BaseURL, opts.HTTPClient, opts.UserAgent, logger),
		refresher:   refresher,
		files:       files,
		uploadLimit: limit,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

// Client returns the underlying Graph client.
func (a *Adapter) Client() *Client {
	return a.client
}

// Provider returns auth.OneDrive.
func (a *Adapter) Provider() auth.Provider {
	return auth.OneDrive
}

// Init probes the default drive.
func (a *Adapter) Init(ctx context.Context, cred *auth.Credential) error {
	return storage.WithAuthRetryErr(ctx, a.refresher, cred, func(c *auth.Credential) error {
		d, err := a.client.drive(ctx, c.AccessToken)
		if err != nil {
			return err
		}

		a.logger.Debug("onedrive drive ready",
			slog.String("drive_id", d.ID),
			slog.String("drive_type", d.DriveType),
		)

		return nil
	})
}

// EnsureRoot creates every folder of the expanded template.
func (a *Adapter) EnsureRoot(ctx context.Context, folderTemplate string, cred *auth.Credential) (string, error) {
	root, err := storage.CleanRemotePath(storage.ExpandTemplate(folderTemplate, auth.OneDrive, a.nowFunc()))
	if err != nil {
		return "", err
	}

	err = storage.WithAuthRetryErr(ctx, a.refresher, cred, func(c *auth.Credential) error {
		parent := "/"

		for _, seg := range storage.Segments(root) {
			_, err := a.client.createFolder(ctx, c.AccessToken, parent, seg)
			if err != nil && !errors.Is(err, storage.ErrConflict) {
				return fmt.Errorf("graph: creating folder %q under %q: %w", seg, parent, err)
			}

			if parent == "/" {
				parent += seg
			} else {
				parent += "/" + seg
			}
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return root, nil
}

// PutChunked uploads a file of at most the simple-upload limit.
func (a *Adapter) PutChunked(
	ctx context.Context, localPath, remotePath string, onProgress storage.ProgressFunc, cred *auth.Credential,
) (*storage.PutResult, error) {
	remote, err := storage.CleanRemotePath(remotePath)
	if err != nil {
		return nil, err
	}

	size, err := a.files.Size(localPath)
	if err != nil {
		return nil, err
	}

	if size > a.uploadLimit {
		return nil, fmt.Errorf("%w: %s is %d bytes, onedrive limit is %d", storage.ErrUnsupportedSize, localPath, size, a.uploadLimit)
	}

	progress := storage.NewProgress(size, onProgress)
	body := func() (io.ReadCloser, error) {
		rc, err := a.files.Open(ctx, localPath)
		if err != nil {
			return nil, err
		}

		return progress.ReadCloser(rc), nil
	}

	item, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*Item, error) {
		return a.client.simpleUpload(ctx, c.AccessToken, remote, size, body)
	})
	if err != nil {
		return nil, err
	}

	progress.Done()

	meta := item.toMeta()
	if meta.Path == "" {
		meta.Path = remote
	}

	return &storage.PutResult{ObjectID: item.ID, Meta: meta}, nil
}

// Verify checks existence and, if checksum is set, the quickXorHash.
func (a *Adapter) Verify(ctx context.Context, pathOrID, checksum string, cred *auth.Credential) (bool, error) {
	item, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*Item, error) {
		return a.client.getItem(ctx, c.AccessToken, pathOrID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if checksum == "" {
		return true, nil
	}

	return item.QuickXorHash == checksum, nil
}

// CreateShareLink creates an anonymous view link.
func (a *Adapter) CreateShareLink(ctx context.Context, id string, expiresAt time.Time, cred *auth.Credential) (string, error) {
	return storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (string, error) {
		return a.client.createLink(ctx, c.AccessToken, id, expiresAt)
	})
}

// ListChanges pages through the drive delta feed. The cursor is the Graph
// nextLink or deltaLink.
func (a *Adapter) ListChanges(ctx context.Context, cursor string, cred *auth.Credential) (*storage.ChangePage, error) {
	page, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*DeltaPage, error) {
		return a.client.delta(ctx, c.AccessToken, cursor)
	})
	if err != nil {
		return nil, err
	}

	out := &storage.ChangePage{Cursor: page.DeltaLink, HasMore: page.NextLink != ""}
	if page.NextLink != "" {
		out.Cursor = page.NextLink
	}

	if cursor == "" {
		// token=latest pages carry no items; the cursor is all that matters.
		out.HasMore = false
		if out.Cursor == "" {
			return nil, errors.New("graph: delta response carried no link")
		}

		return out, nil
	}

	out.Items = make([]storage.Change, 0, len(page.Items))
	for i := range page.Items {
		it := &page.Items[i]
		meta := it.toMeta()

		out.Items = append(out.Items, storage.Change{
			ID:         it.ID,
			Name:       it.Name,
			Path:       meta.Path,
			Deleted:    it.IsDeleted,
			IsFolder:   it.IsFolder,
			Size:       it.Size,
			ModifiedAt: it.ModifiedAt,
		})
	}

	return out, nil
}

// Rename changes an item's name in place.
func (a *Adapter) Rename(ctx context.Context, id, newName string, cred *auth.Credential) (*storage.ObjectMeta, error) {
	if err := storage.ValidateName(newName); err != nil {
		return nil, err
	}

	item, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*Item, error) {
		return a.client.patchItem(ctx, c.AccessToken, id, "", newName)
	})
	if err != nil {
		return nil, err
	}

	meta := item.toMeta()

	return &meta, nil
}

// Move reparents an item under newParentPath, which must exist.
func (a *Adapter) Move(ctx context.Context, id, newParentPath string, cred *auth.Credential) (*storage.ObjectMeta, error) {
	parent, err := storage.CleanRemotePath(newParentPath)
	if err != nil {
		return nil, err
	}

	item, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*Item, error) {
		p, err := a.client.getItem(ctx, c.AccessToken, parent)
		if err != nil {
			return nil, fmt.Errorf("graph: resolving destination %q: %w", parent, err)
		}

		return a.client.patchItem(ctx, c.AccessToken, id, p.ID, "")
	})
	if err != nil {
		return nil, err
	}

	meta := item.toMeta()

	return &meta, nil
}

// Delete removes an item; a missing item is success.
func (a *Adapter) Delete(ctx context.Context, id string, cred *auth.Credential) error {
	return storage.WithAuthRetryErr(ctx, a.refresher, cred, func(c *auth.Credential) error {
		return a.client.deleteItem(ctx, c.AccessToken, id)
	})
}

// RefreshAuth forces a token refresh.
func (a *Adapter) RefreshAuth(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	return a.refresher.Refresh(ctx, cred.Provider, cred.AccessToken)
}

// Checksum returns the base64 quickXorHash of a local file.
func (a *Adapter) Checksum(ctx context.Context, localPath string) (string, error) {
	rc, err := a.files.Open(ctx, localPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	sum, err := quickxorhash.SumReader(rc)
	if err != nil {
		return "", fmt.Errorf("graph: hashing %s: %w", localPath, err)
	}

	return sum, nil
}
