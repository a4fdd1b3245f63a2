package dropbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// SimpleUploadMaxSize is the files/upload limit (150 MiB). Larger files need
// an upload session.
const SimpleUploadMaxSize = 150 * 1024 * 1024

// Options configures an Adapter.
type Options struct {
	APIURL      string
	ContentURL  string
	HTTPClient  *http.Client
	UserAgent   string
	Files       storage.FileAccessor
	UploadLimit int64
	Logger      *slog.Logger
}

// Adapter is the Dropbox storage adapter.
type Adapter struct {
	client      *Client
	refresher   storage.Refresher
	files       storage.FileAccessor
	uploadLimit int64
	logger      *slog.Logger
	nowFunc     func() time.Time
}

var _ storage.Adapter = (*Adapter)(nil)

// NewAdapter creates the Dropbox adapter.
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
		client:      NewClient(opts.APIURL, opts.ContentURL, opts.HTTPClient, opts.UserAgent, logger),
		refresher:   refresher,
		files:       files,
		uploadLimit: limit,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

// Client returns the underlying Dropbox client.
func (a *Adapter) Client() *Client {
	return a.client
}

// Provider returns auth.Dropbox.
func (a *Adapter) Provider() auth.Provider {
	return auth.Dropbox
}

// Init probes the current account.
func (a *Adapter) Init(ctx context.Context, cred *auth.Credential) error {
	return storage.WithAuthRetryErr(ctx, a.refresher, cred, func(c *auth.Credential) error {
		acct, err := a.client.currentAccount(ctx, c.AccessToken)
		if err != nil {
			return err
		}

		a.logger.Debug("dropbox account ready", slog.String("name", acct.Name.DisplayName))

		return nil
	})
}

// EnsureRoot creates the expanded folder. Dropbox creates missing parents
// itself; an existing folder is success, an existing file is not.
func (a *Adapter) EnsureRoot(ctx context.Context, folderTemplate string, cred *auth.Credential) (string, error) {
	root, err := storage.CleanRemotePath(storage.ExpandTemplate(folderTemplate, auth.Dropbox, a.nowFunc()))
	if err != nil {
		return "", err
	}

	if root == "/" {
		return root, nil
	}

	err = storage.WithAuthRetryErr(ctx, a.refresher, cred, func(c *auth.Credential) error {
		err := a.client.createFolder(ctx, c.AccessToken, root)
		if errors.Is(err, storage.ErrConflict) && strings.Contains(errorCode(err), "conflict/folder") {
			return nil
		}

		return err
	})
	if err != nil {
		return "", fmt.Errorf("dropbox: creating %q: %w", root, err)
	}

	return root, nil
}

// PutChunked uploads a file of at most the single-request limit, replacing
// any existing file at remotePath.
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
		return nil, fmt.Errorf("%w: %s is %d bytes, dropbox limit is %d", storage.ErrUnsupportedSize, localPath, size, a.uploadLimit)
	}

	progress := storage.NewProgress(size, onProgress)
	body := func() (io.ReadCloser, error) {
		rc, err := a.files.Open(ctx, localPath)
		if err != nil {
			return nil, err
		}

		return progress.ReadCloser(rc), nil
	}

	m, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*metadata, error) {
		return a.client.upload(ctx, c.AccessToken, remote, size, body)
	})
	if err != nil {
		return nil, err
	}

	progress.Done()

	meta := m.toMeta(a.logger)
	if meta.Path == "" {
		meta.Path = remote
	}

	return &storage.PutResult{ObjectID: m.ID, Meta: meta}, nil
}

// Verify checks existence and, if checksum is set, the content_hash.
func (a *Adapter) Verify(ctx context.Context, pathOrID, checksum string, cred *auth.Credential) (bool, error) {
	m, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*metadata, error) {
		return a.client.getMetadata(ctx, c.AccessToken, pathOrID)
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

	return m.ContentHash == checksum, nil
}

// CreateShareLink creates a public link, reusing an existing one.
func (a *Adapter) CreateShareLink(ctx context.Context, id string, expiresAt time.Time, cred *auth.Credential) (string, error) {
	return storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (string, error) {
		return a.client.createSharedLink(ctx, c.AccessToken, id, expiresAt)
	})
}

// ListChanges pages through list_folder/continue over the whole account.
func (a *Adapter) ListChanges(ctx context.Context, cursor string, cred *auth.Credential) (*storage.ChangePage, error) {
	if cursor == "" {
		latest, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (string, error) {
			return a.client.latestCursor(ctx, c.AccessToken)
		})
		if err != nil {
			return nil, err
		}

		return &storage.ChangePage{Cursor: latest}, nil
	}

	res, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*listFolderResult, error) {
		return a.client.listContinue(ctx, c.AccessToken, cursor)
	})
	if err != nil {
		return nil, err
	}

	out := &storage.ChangePage{Cursor: res.Cursor, HasMore: res.HasMore}
	out.Items = make([]storage.Change, 0, len(res.Entries))

	for i := range res.Entries {
		e := &res.Entries[i]
		meta := e.toMeta(a.logger)

		out.Items = append(out.Items, storage.Change{
			ID:         e.ID,
			Name:       e.Name,
			Path:       e.PathDisplay,
			Deleted:    e.Tag == "deleted",
			IsFolder:   meta.IsFolder,
			Size:       e.Size,
			ModifiedAt: meta.ModifiedAt,
		})
	}

	return out, nil
}

// Rename moves the item to newName within its current folder.
func (a *Adapter) Rename(ctx context.Context, id, newName string, cred *auth.Credential) (*storage.ObjectMeta, error) {
	if err := storage.ValidateName(newName); err != nil {
		return nil, err
	}

	m, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*metadata, error) {
		cur, err := a.client.getMetadata(ctx, c.AccessToken, id)
		if err != nil {
			return nil, err
		}

		dir, _ := storage.SplitRemote(cur.PathDisplay)

		return a.client.move(ctx, c.AccessToken, id, joinRemote(dir, newName))
	})
	if err != nil {
		return nil, err
	}

	meta := m.toMeta(a.logger)

	return &meta, nil
}

// Move relocates the item under newParentPath, keeping its name.
func (a *Adapter) Move(ctx context.Context, id, newParentPath string, cred *auth.Credential) (*storage.ObjectMeta, error) {
	parent, err := storage.CleanRemotePath(newParentPath)
	if err != nil {
		return nil, err
	}

	m, err := storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (*metadata, error) {
		cur, err := a.client.getMetadata(ctx, c.AccessToken, id)
		if err != nil {
			return nil, err
		}

		return a.client.move(ctx, c.AccessToken, id, joinRemote(parent, cur.Name))
	})
	if err != nil {
		return nil, err
	}

	meta := m.toMeta(a.logger)

	return &meta, nil
}

// Delete removes the item; a missing item is success.
func (a *Adapter) Delete(ctx context.Context, id string, cred *auth.Credential) error {
	err := storage.WithAuthRetryErr(ctx, a.refresher, cred, func(c *auth.Credential) error {
		return a.client.deletePath(ctx, c.AccessToken, id)
	})
	if errors.Is(err, storage.ErrNotFound) {
		a.logger.Debug("delete of missing item", slog.String("id", id))
		return nil
	}

	return err
}

// RefreshAuth forces a token refresh.
func (a *Adapter) RefreshAuth(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	return a.refresher.Refresh(ctx, cred.Provider, cred.AccessToken)
}

// Checksum returns the Dropbox content_hash of a local file.
func (a *Adapter) Checksum(ctx context.Context, localPath string) (string, error) {
	rc, err := a.files.Open(ctx, localPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return ContentHash(rc)
}

func joinRemote(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}

	return dir + "/" + name
}
