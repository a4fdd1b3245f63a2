package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/clipcloud/internal/storage"
)

// Timestamp validation bounds. Timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// rootParentPrefix is how Graph spells the drive root in parentReference.path.
const rootParentPrefix = "/drive/root:"

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per-segment so the
// resulting path is safe for interpolation into Graph API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// itemPathURL addresses an item by its absolute remote path.
func itemPathURL(remotePath string) string {
	trimmed := strings.Trim(remotePath, "/")
	if trimmed == "" {
		return "/me/drive/root"
	}

	return "/me/drive/root:/" + encodePathSegments(trimmed) + ":"
}

// itemIDURL addresses an item by id.
func itemIDURL(id string) string {
	return "/me/drive/items/" + url.PathEscape(id)
}

// driveItemResponse mirrors the Graph API driveItem JSON.
// Unexported: callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	WebURL               string           `json:"webUrl"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Deleted              *json.RawMessage `json:"deleted"`
}

type parentRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type patchItemRequest struct {
	ParentReference *patchParentRef `json:"parentReference,omitempty"`
	Name            string          `json:"name,omitempty"`
}

type patchParentRef struct {
	ID string `json:"id"`
}

// toItem normalizes a Graph API driveItem response.
func (d *driveItemResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:        d.ID,
		Name:      d.Name,
		Size:      d.Size,
		WebURL:    d.WebURL,
		IsFolder:  d.Folder != nil,
		IsDeleted: d.Deleted != nil,
	}

	if d.ParentReference != nil {
		item.ParentID = d.ParentReference.ID
		item.ParentPath = parentPath(d.ParentReference.Path)
	}

	if d.File != nil && d.File.Hashes != nil {
		item.QuickXorHash = d.File.Hashes.QuickXorHash
	}

	if d.LastModifiedDateTime != "" || !item.IsDeleted {
		item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, d.ID, logger)
	}

	return item
}

// parentPath converts "/drive/root:/Clips/2026" to "/Clips/2026".
func parentPath(p string) string {
	if !strings.HasPrefix(p, rootParentPrefix) {
		return ""
	}

	rest := strings.TrimPrefix(p, rootParentPrefix)
	if rest == "" {
		return "/"
	}

	if unescaped, err := url.PathUnescape(rest); err == nil {
		return unescaped
	}

	return rest
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, itemID string, logger *slog.Logger) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// getItem fetches an item by path (leading "/") or by id.
func (c *Client) getItem(ctx context.Context, token, pathOrID string) (*Item, error) {
	apiPath := itemIDURL(pathOrID)
	if strings.HasPrefix(pathOrID, "/") {
		apiPath = itemPathURL(pathOrID)
	}

	var dir driveItemResponse
	if err := c.doJSON(ctx, token, http.MethodGet, apiPath, nil, &dir); err != nil {
		return nil, err
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// createFolder creates name under parentPath. Uses conflictBehavior "fail",
// so an existing folder returns storage.ErrConflict.
func (c *Client) createFolder(ctx context.Context, token, parentPath, name string) (*Item, error) {
	c.logger.Debug("creating folder",
		slog.String("parent", parentPath),
		slog.String("name", name),
	)

	req := createFolderRequest{Name: name, ConflictBehavior: "fail"}

	var dir driveItemResponse
	if err := c.doJSON(ctx, token, http.MethodPost, itemPathURL(parentPath)+"/children", req, &dir); err != nil {
		return nil, err
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// errPatchNoChanges is returned when patchItem has nothing to change.
var errPatchNoChanges = errors.New("graph: patch requires a new parent or a new name")

// patchItem moves and/or renames an item.
func (c *Client) patchItem(ctx context.Context, token, id, newParentID, newName string) (*Item, error) {
	if newParentID == "" && newName == "" {
		return nil, errPatchNoChanges
	}

	c.logger.Info("updating item",
		slog.String("item_id", id),
		slog.String("new_parent_id", newParentID),
		slog.String("new_name", newName),
	)

	req := patchItemRequest{Name: newName}
	if newParentID != "" {
		req.ParentReference = &patchParentRef{ID: newParentID}
	}

	var dir driveItemResponse
	if err := c.doJSON(ctx, token, http.MethodPatch, itemIDURL(id), req, &dir); err != nil {
		return nil, err
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

// deleteItem deletes an item by id. A missing item is not an error.
func (c *Client) deleteItem(ctx context.Context, token, id string) error {
	err := c.doJSON(ctx, token, http.MethodDelete, itemIDURL(id), nil, nil)
	if errors.Is(err, storage.ErrNotFound) {
		c.logger.Debug("delete of missing item", slog.String("item_id", id))
		return nil
	}

	if err != nil {
		return fmt.Errorf("graph: deleting %s: %w", id, err)
	}

	return nil
}
