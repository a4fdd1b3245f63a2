package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// deltaLatestPath starts a change feed at "now" without enumerating the drive.
const deltaLatestPath = "/me/drive/root/delta?token=latest"

// deltaResponse mirrors the Graph API delta response JSON structure.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string              `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// DeltaPage is one normalized delta page.
type DeltaPage struct {
	Items     []Item
	NextLink  string
	DeltaLink string
}

// delta fetches one page. An empty link starts at the latest state; otherwise
// link is a nextLink or deltaLink from a previous page. HTTP 410 surfaces as
// storage.ErrCursorExpired.
func (c *Client) delta(ctx context.Context, token, link string) (*DeltaPage, error) {
	path := deltaLatestPath

	if link != "" {
		if !strings.HasPrefix(link, "http") {
			return nil, fmt.Errorf("graph: delta cursor %q is not a Graph link", link)
		}

		stripped, err := c.stripBaseURL(link)
		if err != nil {
			return nil, fmt.Errorf("graph: invalid delta cursor: %w", err)
		}

		path = stripped
	}

	var dr deltaResponse
	if err := c.doJSON(ctx, token, http.MethodGet, path, nil, &dr); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(dr.Value))
	for i := range dr.Value {
		items = append(items, dr.Value[i].toItem(c.logger))
	}

	items = deduplicateItems(items)

	c.logger.Debug("fetched delta page",
		slog.Int("raw_count", len(dr.Value)),
		slog.Int("count", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
	)

	return &DeltaPage{Items: items, NextLink: dr.NextLink, DeltaLink: dr.DeltaLink}, nil
}

// deduplicateItems keeps the last occurrence of each item id. Graph may
// report an item more than once within a page; the last entry is current.
func deduplicateItems(items []Item) []Item {
	last := make(map[string]int, len(items))
	for i := range items {
		last[items[i].ID] = i
	}

	if len(last) == len(items) {
		return items
	}

	out := make([]Item, 0, len(last))

	for i := range items {
		if last[items[i].ID] == i {
			out = append(out, items[i])
		}
	}

	return out
}
