package gdrive

import (
	"context"
	"crypto/md5" //nolint:gosec // Drive reports md5Checksum; not used for security
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// SimpleUploadMaxSize is the largest file sent as a single multipart
// request (5 MiB). Larger files need a resumable session.
const SimpleUploadMaxSize = 5 * 1024 * 1024

// Options configures an Adapter.
type Options struct {
	Endpoint    string // e.g. a test server's URL + "/drive/v3/"
	HTTPClient  *http.Client
	UserAgent   string
	Files       storage.FileAccessor
	UploadLimit int64
	Logger      *slog.Logger
}

// Adapter is the Google Drive storage adapter.
type Adapter struct {
	client      *Client
	refresher   storage.Refresher
	files       storage.FileAccessor
	uploadLimit int64
	logger      *slog.Logger
	nowFunc     func() time.Time
}

var _ storage.Adapter = (*Adapter)(nil)

// NewAdapter creates the Google Drive adapter.
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
		client:      NewClient(opts.Endpoint, opts.HTTPClient, opts.UserAgent, logger),
		refresher:   refresher,
		files:       files,
		uploadLimit: limit,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

// Client returns the underlying Drive client.
func (a *Adapter) Client() *Client {
	return a.client
}

// Provider returns auth.GoogleDrive.
func (a *Adapter) Provider() auth.Provider {
	return auth.GoogleDrive
}

// withService runs op with a Drive service bound to the credential, retrying
// once on 401 with a refreshed token.
func withService[T any](ctx context.Context, a *Adapter, cred *auth.Credential, op func(*drive.Service) (T, error)) (T, error) {
	return storage.WithAuthRetry(ctx, a.refresher, cred, func(c *auth.Credential) (T, error) {
		svc, err := a.client.service(ctx, c.AccessToken)
		if err != nil {
			var zero T
			return zero, err
		}

		return op(svc)
	})
}

// Init probes the About endpoint.
func (a *Adapter) Init(ctx context.Context, cred *auth.Credential) error {
	return storage.WithAuthRetryErr(ctx, a.refresher, cred, func(c *auth.Credential) error {
		about, err := a.client.about(ctx, c.AccessToken)
		if err != nil {
			return err
		}

		if about.StorageQuota != nil {
			a.logger.Debug("google drive ready",
				slog.Int64("quota_limit", about.StorageQuota.Limit),
				slog.Int64("quota_usage", about.StorageQuota.Usage),
			)
		}

		return nil
	})
}

// EnsureRoot finds or creates every folder of the expanded template.
func (a *Adapter) EnsureRoot(ctx context.Context, folderTemplate string, cred *auth.Credential) (string, error) {
	root, err := storage.CleanRemotePath(storage.ExpandTemplate(folderTemplate, auth.GoogleDrive, a.nowFunc()))
	if err != nil {
		return "", err
	}

	_, err = withService(ctx, a, cred, func(svc *drive.Service) (string, error) {
		return a.client.ensureFolders(ctx, svc, root)
	})
	if err != nil {
		return "", err
	}

	return root, nil
}

// PutChunked uploads a file of at most the simple-upload limit. Missing
// parent folders are created; an existing file with the same name is
// overwritten in place.
func (a *Adapter) PutChunked(
	ctx context.Context, localPath, remotePath string, onProgress storage.ProgressFunc, cred *auth.Credential,
) (*storage.PutResult, error) {
	remote, err := storage.CleanRemotePath(remotePath)
	if err != nil {
		return nil, err
	}

	dir, name := storage.SplitRemote(remote)
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	size, err := a.files.Size(localPath)
	if err != nil {
		return nil, err
	}

	if size > a.uploadLimit {
		return nil, fmt.Errorf("%w: %s is %d bytes, google drive limit is %d", storage.ErrUnsupportedSize, localPath, size, a.uploadLimit)
	}

	progress := storage.NewProgress(size, onProgress)
	body := func() (io.ReadCloser, error) {
		rc, err := a.files.Open(ctx, localPath)
		if err != nil {
			return nil, err
		}

		return progress.ReadCloser(rc), nil
	}

	f, err := withService(ctx, a, cred, func(svc *drive.Service) (*drive.File, error) {
		parentID, err := a.client.ensureFolders(ctx, svc, dir)
		if err != nil {
			return nil, err
		}

		existing, err := a.client.findChild(ctx, svc, parentID, name, false)
		if err != nil {
			return nil, err
		}

		existingID := ""
		if existing != nil {
			existingID = existing.Id
		}

		return a.client.upload(ctx, svc, parentID, name, existingID, contentType(name), body)
	})
	if err != nil {
		return nil, err
	}

	progress.Done()

	meta := toMeta(f, remote, a.logger)

	a.logger.Info("uploaded file",
		slog.String("provider", string(auth.GoogleDrive)),
		slog.String("path", remote),
		slog.String("id", f.Id),
		slog.Int64("size", size),
	)

	return &storage.PutResult{ObjectID: f.Id, Meta: meta}, nil
}

// Verify checks existence and, if checksum is set, the md5Checksum.
func (a *Adapter) Verify(ctx context.Context, pathOrID, checksum string, cred *auth.Credential) (bool, error) {
	f, err := withService(ctx, a, cred, func(svc *drive.Service) (*drive.File, error) {
		if strings.HasPrefix(pathOrID, "/") {
			p, err := storage.CleanRemotePath(pathOrID)
			if err != nil {
				return nil, err
			}

			return a.client.resolvePath(ctx, svc, p)
		}

		return a.client.getFile(ctx, svc, pathOrID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if f.Trashed {
		return false, nil
	}

	if checksum == "" {
		return true, nil
	}

	return strings.EqualFold(f.Md5Checksum, checksum), nil
}

// CreateShareLink grants "anyone with the link" read access. Drive cannot
// expire such links, so a non-zero expiresAt is ErrNotImplemented.
func (a *Adapter) CreateShareLink(ctx context.Context, id string, expiresAt time.Time, cred *auth.Credential) (string, error) {
	if !expiresAt.IsZero() {
		return "", fmt.Errorf("%w: google drive public links cannot expire", storage.ErrNotImplemented)
	}

	return withService(ctx, a, cred, func(svc *drive.Service) (string, error) {
		return a.client.shareAnyone(ctx, svc, id)
	})
}

// ListChanges pages through changes.list. The cursor is a page token.
func (a *Adapter) ListChanges(ctx context.Context, cursor string, cred *auth.Credential) (*storage.ChangePage, error) {
	if cursor == "" {
		tok, err := withService(ctx, a, cred, func(svc *drive.Service) (string, error) {
			return a.client.startPageToken(ctx, svc)
		})
		if err != nil {
			return nil, err
		}

		return &storage.ChangePage{Cursor: tok}, nil
	}

	list, err := withService(ctx, a, cred, func(svc *drive.Service) (*drive.ChangeList, error) {
		return a.client.changes(ctx, svc, cursor)
	})
	if err != nil {
		// Drive rejects stale or malformed page tokens as 400/404.
		if errors.Is(err, storage.ErrBadRequest) || errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", storage.ErrCursorExpired, err)
		}

		return nil, err
	}

	out := &storage.ChangePage{Cursor: list.NewStartPageToken}
	if list.NextPageToken != "" {
		out.Cursor = list.NextPageToken
		out.HasMore = true
	}

	out.Items = make([]storage.Change, 0, len(list.Changes))
	for _, ch := range list.Changes {
		change := storage.Change{ID: ch.FileId, Deleted: ch.Removed}

		if ch.File != nil {
			meta := toMeta(ch.File, "", a.logger)
			change.Name = meta.Name
			change.IsFolder = meta.IsFolder
			change.Size = meta.Size
			change.ModifiedAt = meta.ModifiedAt
			change.Deleted = change.Deleted || ch.File.Trashed
		}

		out.Items = append(out.Items, change)
	}

	return out, nil
}

// Rename changes a file's name in place.
func (a *Adapter) Rename(ctx context.Context, id, newName string, cred *auth.Credential) (*storage.ObjectMeta, error) {
	if err := storage.ValidateName(newName); err != nil {
		return nil, err
	}

	f, err := withService(ctx, a, cred, func(svc *drive.Service) (*drive.File, error) {
		return a.client.update(ctx, svc, id, &drive.File{Name: newName}, "", "")
	})
	if err != nil {
		return nil, err
	}

	meta := toMeta(f, "", a.logger)

	return &meta, nil
}

// Move reparents a file under newParentPath, which must exist.
func (a *Adapter) Move(ctx context.Context, id, newParentPath string, cred *auth.Credential) (*storage.ObjectMeta, error) {
	parent, err := storage.CleanRemotePath(newParentPath)
	if err != nil {
		return nil, err
	}

	f, err := withService(ctx, a, cred, func(svc *drive.Service) (*drive.File, error) {
		dest, err := a.client.resolvePath(ctx, svc, parent)
		if err != nil {
			return nil, fmt.Errorf("gdrive: resolving destination %q: %w", parent, err)
		}

		cur, err := a.client.getFile(ctx, svc, id)
		if err != nil {
			return nil, err
		}

		return a.client.update(ctx, svc, id, &drive.File{}, dest.Id, strings.Join(cur.Parents, ","))
	})
	if err != nil {
		return nil, err
	}

	meta := toMeta(f, "", a.logger)
	if parent == "/" {
		meta.Path = "/" + meta.Name
	} else {
		meta.Path = parent + "/" + meta.Name
	}

	return &meta, nil
}

// Delete permanently removes a file; a missing file is success.
func (a *Adapter) Delete(ctx context.Context, id string, cred *auth.Credential) error {
	_, err := withService(ctx, a, cred, func(svc *drive.Service) (struct{}, error) {
		return struct{}{}, a.client.deleteFile(ctx, svc, id)
	})
	if errors.Is(err, storage.ErrNotFound) {
		a.logger.Debug("delete of missing file", slog.String("id", id))
		return nil
	}

	return err
}

// RefreshAuth forces a token refresh.
func (a *Adapter) RefreshAuth(ctx context.Context, cred *auth.Credential) (*auth.Credential, error) {
	return a.refresher.Refresh(ctx, cred.Provider, cred.AccessToken)
}

// Checksum returns the hex md5 of a local file, matching md5Checksum.
func (a *Adapter) Checksum(ctx context.Context, localPath string) (string, error) {
	rc, err := a.files.Open(ctx, localPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := md5.New() //nolint:gosec // see import
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("gdrive: hashing %s: %w", localPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// contentType guesses the upload MIME type from the extension.
func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// toMeta converts a Drive file. remotePath is used as-is when known.
func toMeta(f *drive.File, remotePath string, logger *slog.Logger) storage.ObjectMeta {
	meta := storage.ObjectMeta{
		ID:       f.Id,
		Name:     f.Name,
		Path:     remotePath,
		Size:     f.Size,
		Checksum: f.Md5Checksum,
		WebURL:   f.WebViewLink,
		IsFolder: f.MimeType == folderMimeType,
	}

	if len(f.Parents) > 0 {
		meta.ParentID = f.Parents[0]
	}

	if f.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, f.ModifiedTime)
		if err != nil {
			logger.Warn("invalid modifiedTime", slog.String("id", f.Id), slog.String("raw", f.ModifiedTime))
		} else {
			meta.ModifiedAt = t.UTC()
		}
	}

	return meta
}
