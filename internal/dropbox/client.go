package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// Default API hosts. RPC calls and content transfers use different hosts.
const (
	DefaultAPIURL     = "https://api.dropboxapi.com/2"
	DefaultContentURL = "https://content.dropboxapi.com/2"
)

// Client is a Dropbox API v2 client. The access token is supplied per call.
type Client struct {
	rest       *storage.RESTClient
	contentURL string
	logger     *slog.Logger
}

// NewClient creates a Dropbox client. Empty URLs use the public hosts.
func NewClient(apiURL, contentURL string, httpClient *http.Client, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	if contentURL == "" {
		contentURL = DefaultContentURL
	}

	return &Client{
		rest: storage.NewRESTClient(storage.RESTConfig{
			Provider:        auth.Dropbox,
			BaseURL:         apiURL,
			HTTPClient:      httpClient,
			Logger:          logger,
			UserAgent:       userAgent,
			RequestIDHeader: "X-Dropbox-Request-Id",
			DecodeError:     decodeError,
		}),
		contentURL: strings.TrimSuffix(contentURL, "/"),
		logger:     logger,
	}
}

// REST exposes the underlying client.
func (c *Client) REST() *storage.RESTClient {
	return c.rest
}

func (c *Client) rpc(ctx context.Context, token, endpoint string, in, out any) error {
	return c.rest.DoJSON(ctx, http.MethodPost, endpoint, token, in, out)
}

// metadata mirrors the Dropbox Metadata union (file, folder, deleted).
type metadata struct {
	Tag            string `json:".tag"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathDisplay    string `json:"path_display"`
	Size           int64  `json:"size"`
	ContentHash    string `json:"content_hash"`
	ServerModified string `json:"server_modified"`
}

func (m *metadata) toMeta(logger *slog.Logger) storage.ObjectMeta {
	meta := storage.ObjectMeta{
		ID:       m.ID,
		Name:     m.Name,
		Path:     m.PathDisplay,
		Size:     m.Size,
		Checksum: m.ContentHash,
		IsFolder: m.Tag == "folder",
	}

	if m.ServerModified != "" {
		t, err := time.Parse(time.RFC3339, m.ServerModified)
		if err != nil {
			logger.Warn("invalid server_modified", slog.String("id", m.ID), slog.String("raw", m.ServerModified))
		} else {
			meta.ModifiedAt = t.UTC()
		}
	}

	return meta
}

type account struct {
	Email string `json:"email"`
	Name  struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
}

func (c *Client) currentAccount(ctx context.Context, token string) (*account, error) {
	var acct account
	if err := c.rpc(ctx, token, "/users/get_current_account", nil, &acct); err != nil {
		return nil, err
	}

	return &acct, nil
}

// FetchAccount implements auth.AccountFetcher.
func (c *Client) FetchAccount(ctx context.Context, accessToken string) (*auth.Account, error) {
	acct, err := c.currentAccount(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return &auth.Account{Email: acct.Email, Name: acct.Name.DisplayName}, nil
}

func (c *Client) createFolder(ctx context.Context, token, p string) error {
	req := map[string]any{"path": p, "autorename": false}

	return c.rpc(ctx, token, "/files/create_folder_v2", req, nil)
}

func (c *Client) getMetadata(ctx context.Context, token, pathOrID string) (*metadata, error) {
	var m metadata
	if err := c.rpc(ctx, token, "/files/get_metadata", map[string]string{"path": pathOrID}, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

type uploadArg struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

// upload sends the body to files/upload in overwrite mode so a retried job
// does not produce "(1)" copies.
func (c *Client) upload(
	ctx context.Context, token, remotePath string, size int64, body func() (io.ReadCloser, error),
) (*metadata, error) {
	arg, err := headerJSON(uploadArg{Path: remotePath, Mode: "overwrite", Mute: true})
	if err != nil {
		return nil, err
	}

	c.logger.Info("uploading file", slog.String("path", remotePath), slog.Int64("size", size))

	resp, err := c.rest.Do(ctx, storage.Request{
		Method:      http.MethodPost,
		Path:        c.contentURL + "/files/upload",
		Token:       token,
		Header:      http.Header{"Dropbox-Api-Arg": []string{arg}},
		ContentType: "application/octet-stream",
		Body:        body,
		Length:      size,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m metadata
	if err := storage.DecodeJSON(resp, &m); err != nil {
		return nil, err
	}

	m.Tag = "file"

	return &m, nil
}

type sharedLink struct {
	URL string `json:"url"`
}

func (c *Client) createSharedLink(ctx context.Context, token, pathOrID string, expiresAt time.Time) (string, error) {
	settings := map[string]any{"requested_visibility": "public"}
	if !expiresAt.IsZero() {
		settings["expires"] = expiresAt.UTC().Format(time.RFC3339)
	}

	var link sharedLink

	err := c.rpc(ctx, token, "/sharing/create_shared_link_with_settings",
		map[string]any{"path": pathOrID, "settings": settings}, &link)
	if err == nil {
		return link.URL, nil
	}

	if !strings.Contains(errorCode(err), "shared_link_already_exists") {
		return "", err
	}

	var list struct {
		Links []sharedLink `json:"links"`
	}

	if err := c.rpc(ctx, token, "/sharing/list_shared_links",
		map[string]any{"path": pathOrID, "direct_only": true}, &list); err != nil {
		return "", err
	}

	if len(list.Links) == 0 {
		return "", fmt.Errorf("dropbox: link for %s exists but was not listed", pathOrID)
	}

	return list.Links[0].URL, nil
}

type listFolderResult struct {
	Entries []metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

func (c *Client) latestCursor(ctx context.Context, token string) (string, error) {
	var res struct {
		Cursor string `json:"cursor"`
	}

	req := map[string]any{"path": "", "recursive": true, "include_deleted": true}
	if err := c.rpc(ctx, token, "/files/list_folder/get_latest_cursor", req, &res); err != nil {
		return "", err
	}

	return res.Cursor, nil
}

func (c *Client) listContinue(ctx context.Context, token, cursor string) (*listFolderResult, error) {
	var res listFolderResult
	if err := c.rpc(ctx, token, "/files/list_folder/continue", map[string]string{"cursor": cursor}, &res); err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) move(ctx context.Context, token, from, to string) (*metadata, error) {
	var res struct {
		Metadata metadata `json:"metadata"`
	}

	req := map[string]any{"from_path": from, "to_path": to, "autorename": false}
	if err := c.rpc(ctx, token, "/files/move_v2", req, &res); err != nil {
		return nil, err
	}

	return &res.Metadata, nil
}

func (c *Client) deletePath(ctx context.Context, token, pathOrID string) error {
	return c.rpc(ctx, token, "/files/delete_v2", map[string]string{"path": pathOrID}, nil)
}

// errorCode returns the provider error code carried by err, if any.
func errorCode(err error) string {
	var apiErr *storage.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	return ""
}

// headerJSON encodes v for the Dropbox-API-Arg header. HTTP headers must be
// ASCII, so every non-ASCII rune is written as a \u escape.
func headerJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("dropbox: encoding API arg: %w", err)
	}

	var b bytes.Buffer

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]

		switch {
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}

	return b.String(), nil
}
