package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tonimelisma/clipcloud/internal/storage"
)

// SimpleUploadMaxSize is the largest file Graph accepts in a single PUT
// (4 MiB). Larger files need an upload session.
const SimpleUploadMaxSize = 4 * 1024 * 1024

// simpleUpload PUTs the body to remotePath, replacing any existing file so a
// retried job does not leave duplicates.
func (c *Client) simpleUpload(
	ctx context.Context, token, remotePath string, size int64, body func() (io.ReadCloser, error),
) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("path", remotePath),
		slog.Int64("size", size),
	)

	resp, err := c.rest.Do(ctx, storage.Request{
		Method:      http.MethodPut,
		Path:        itemPathURL(remotePath) + "/content?@microsoft.graph.conflictBehavior=replace",
		Token:       token,
		ContentType: "application/octet-stream",
		Body:        body,
		Length:      size,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding upload response: %w", err)
	}

	item := dir.toItem(c.logger)

	return &item, nil
}

type createLinkRequest struct {
	Type               string `json:"type"`
	Scope              string `json:"scope"`
	ExpirationDateTime string `json:"expirationDateTime,omitempty"`
}

type createLinkResponse struct {
	Link struct {
		WebURL string `json:"webUrl"`
	} `json:"link"`
}

// createLink creates an anonymous view link, optionally expiring.
func (c *Client) createLink(ctx context.Context, token, id string, expiresAt time.Time) (string, error) {
	req := createLinkRequest{Type: "view", Scope: "anonymous"}
	if !expiresAt.IsZero() {
		req.ExpirationDateTime = expiresAt.UTC().Format(time.RFC3339)
	}

	var resp createLinkResponse
	if err := c.doJSON(ctx, token, http.MethodPost, itemIDURL(id)+"/createLink", req, &resp); err != nil {
		return "", err
	}

	if resp.Link.WebURL == "" {
		return "", fmt.Errorf("graph: createLink response for %s has no webUrl", id)
	}

	return resp.Link.WebURL, nil
}
