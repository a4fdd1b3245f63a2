package gdrive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	rootID         = "root"

	maxRetries  = 4
	baseBackoff = 1 * time.Second
	maxBackoff  = 30 * time.Second

	fileFields googleapi.Field = "id,name,size,md5Checksum,mimeType,parents,webViewLink,modifiedTime,trashed"
)

// Client wraps the drive/v3 SDK. A service is built per call from the
// caller's access token so the adapter can retry with a refreshed credential.
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Drive client. An empty endpoint uses the SDK default.
func NewClient(endpoint string, httpClient *http.Client, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = storage.DefaultUserAgent
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
		sleep:      storage.TimeSleep,
	}
}

// SetSleepFunc replaces the retry sleeper.
func (c *Client) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

func (c *Client) service(ctx context.Context, token string) (*drive.Service, error) {
	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.httpClient.Transport,
		},
		Timeout: c.httpClient.Timeout,
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc), option.WithUserAgent(c.userAgent)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating service: %w", err)
	}

	return svc, nil
}

// call runs fn with retries for throttling, server and network errors.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := classify(fn())
		if err == nil {
			return nil
		}

		if attempt >= maxRetries || !retryable(err) {
			return err
		}

		backoff := storage.Backoff(baseBackoff, maxBackoff, attempt)
		c.logger.Warn("retrying drive call",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleep(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("gdrive: %s canceled during retry: %w", op, sleepErr)
		}
	}
}

// escapeQuery quotes a value for a Drive search query string literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func (c *Client) about(ctx context.Context, token string) (*drive.About, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var about *drive.About

	err = c.call(ctx, "about.get", func() error {
		var err error
		about, err = svc.About.Get().Fields("user(emailAddress,displayName),storageQuota(limit,usage)").Context(ctx).Do()

		return err
	})
	if err != nil {
		return nil, err
	}

	return about, nil
}

// FetchAccount implements auth.AccountFetcher.
func (c *Client) FetchAccount(ctx context.Context, accessToken string) (*auth.Account, error) {
	about, err := c.about(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if about.User == nil {
		return &auth.Account{}, nil
	}

	return &auth.Account{Email: about.User.EmailAddress, Name: about.User.DisplayName}, nil
}

func (c *Client) getFile(ctx context.Context, svc *drive.Service, id string) (*drive.File, error) {
	var f *drive.File

	err := c.call(ctx, "files.get", func() error {
		var err error
		f, err = svc.Files.Get(id).Fields(fileFields).Context(ctx).Do()

		return err
	})
	if err != nil {
		return nil, err
	}

	return f, nil
}

// findChild returns the first non-trashed child of parentID named name, or
// nil if none exists.
func (c *Client) findChild(ctx context.Context, svc *drive.Service, parentID, name string, folder bool) (*drive.File, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(parentID))
	if folder {
		q += " and mimeType = '" + folderMimeType + "'"
	}

	var list *drive.FileList

	err := c.call(ctx, "files.list", func() error {
		var err error
		list, err = svc.Files.List().Q(q).Fields("files(" + fileFields + ")").PageSize(10).Context(ctx).Do()

		return err
	})
	if err != nil {
		return nil, err
	}

	if len(list.Files) == 0 {
		return nil, nil
	}

	return list.Files[0], nil
}

// resolvePath walks a cleaned absolute path from the root folder.
func (c *Client) resolvePath(ctx context.Context, svc *drive.Service, p string) (*drive.File, error) {
	segs := storage.Segments(p)
	if len(segs) == 0 {
		return c.getFile(ctx, svc, rootID)
	}

	parent := rootID

	var cur *drive.File

	for i, seg := range segs {
		f, err := c.findChild(ctx, svc, parent, seg, i < len(segs)-1)
		if err != nil {
			return nil, err
		}

		if f == nil {
			return nil, &storage.APIError{
				Provider:   auth.GoogleDrive,
				StatusCode: http.StatusNotFound,
				Code:       "notFound",
				Message:    fmt.Sprintf("no item at %q", p),
				Err:        storage.ErrNotFound,
			}
		}

		cur = f
		parent = f.Id
	}

	return cur, nil
}

// ensureFolders returns the id of the folder at p, creating missing
// segments.
func (c *Client) ensureFolders(ctx context.Context, svc *drive.Service, p string) (string, error) {
	parent := rootID

	for _, seg := range storage.Segments(p) {
		f, err := c.findChild(ctx, svc, parent, seg, true)
		if err != nil {
			return "", err
		}

		if f != nil {
			parent = f.Id
			continue
		}

		c.logger.Debug("creating folder", slog.String("parent_id", parent), slog.String("name", seg))

		err = c.call(ctx, "files.create", func() error {
			var err error
			f, err = svc.Files.Create(&drive.File{
				Name:     seg,
				MimeType: folderMimeType,
				Parents:  []string{parent},
			}).Fields("id").Context(ctx).Do()

			return err
		})
		if err != nil {
			return "", fmt.Errorf("gdrive: creating folder %q: %w", seg, err)
		}

		parent = f.Id
	}

	return parent, nil
}

// upload sends the body in one multipart request. A non-empty existingID
// replaces that file's content instead of creating a sibling with the same
// name.
func (c *Client) upload(
	ctx context.Context, svc *drive.Service, parentID, name, existingID, contentType string,
	body func() (io.ReadCloser, error),
) (*drive.File, error) {
	var f *drive.File

	err := c.call(ctx, "files.upload", func() error {
		rc, err := body()
		if err != nil {
			return err
		}
		defer rc.Close()

		media := []googleapi.MediaOption{googleapi.ContentType(contentType), googleapi.ChunkSize(0)}

		if existingID != "" {
			f, err = svc.Files.Update(existingID, &drive.File{}).Media(rc, media...).Fields(fileFields).Context(ctx).Do()
		} else {
			f, err = svc.Files.Create(&drive.File{Name: name, Parents: []string{parentID}}).
				Media(rc, media...).Fields(fileFields).Context(ctx).Do()
		}

		return err
	})
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (c *Client) update(ctx context.Context, svc *drive.Service, id string, patch *drive.File, addParent, removeParents string) (*drive.File, error) {
	var f *drive.File

	err := c.call(ctx, "files.update", func() error {
		call := svc.Files.Update(id, patch).Fields(fileFields).Context(ctx)
		if addParent != "" {
			call = call.AddParents(addParent)
		}

		if removeParents != "" {
			call = call.RemoveParents(removeParents)
		}

		var err error
		f, err = call.Do()

		return err
	})
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (c *Client) shareAnyone(ctx context.Context, svc *drive.Service, id string) (string, error) {
	err := c.call(ctx, "permissions.create", func() error {
		_, err := svc.Permissions.Create(id, &drive.Permission{Type: "anyone", Role: "reader"}).
			Fields("id").Context(ctx).Do()

		return err
	})
	if err != nil {
		return "", err
	}

	f, err := c.getFile(ctx, svc, id)
	if err != nil {
		return "", err
	}

	if f.WebViewLink == "" {
		return "", fmt.Errorf("gdrive: file %s has no webViewLink", id)
	}

	return f.WebViewLink, nil
}

func (c *Client) startPageToken(ctx context.Context, svc *drive.Service) (string, error) {
	var tok *drive.StartPageToken

	err := c.call(ctx, "changes.getStartPageToken", func() error {
		var err error
		tok, err = svc.Changes.GetStartPageToken().Context(ctx).Do()

		return err
	})
	if err != nil {
		return "", err
	}

	return tok.StartPageToken, nil
}

func (c *Client) changes(ctx context.Context, svc *drive.Service, pageToken string) (*drive.ChangeList, error) {
	var list *drive.ChangeList

	err := c.call(ctx, "changes.list", func() error {
		var err error
		list, err = svc.Changes.List(pageToken).
			Fields("nextPageToken,newStartPageToken,changes(fileId,removed,file(" + fileFields + "))").
			PageSize(100).Context(ctx).Do()

		return err
	})
	if err != nil {
		return nil, err
	}

	return list, nil
}

func (c *Client) deleteFile(ctx context.Context, svc *drive.Service, id string) error {
	return c.call(ctx, "files.delete", func() error {
		return svc.Files.Delete(id).Context(ctx).Do()
	})
}
