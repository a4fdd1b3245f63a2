package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client is a Microsoft Graph API client. The access token is supplied per
// call so the adapter can retry with a refreshed credential.
type Client struct {
	rest   *storage.RESTClient
	logger *slog.Logger
}

// NewClient creates a Graph API client.
func NewClient(baseURL string, httpClient *http.Client, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		rest: storage.NewRESTClient(storage.RESTConfig{
			Provider:        auth.OneDrive,
			BaseURL:         baseURL,
			HTTPClient:      httpClient,
			Logger:          logger,
			UserAgent:       userAgent,
			RequestIDHeader: "request-id",
			DecodeError:     decodeError,
		}),
		logger: logger,
	}
}

// REST exposes the underlying client, e.g. to replace its retry sleeper.
func (c *Client) REST() *storage.RESTClient {
	return c.rest
}

func (c *Client) doJSON(ctx context.Context, token, method, path string, in, out any) error {
	return c.rest.DoJSON(ctx, method, path, token, in, out)
}

// stripBaseURL removes the base URL prefix from a full URL returned by Graph
// (nextLink, deltaLink), refusing URLs that point elsewhere.
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	base := c.rest.BaseURL()
	if !strings.HasPrefix(fullURL, base) {
		return "", fmt.Errorf("graph: link %q does not match base URL %q", fullURL, base)
	}

	return fullURL[len(base):], nil
}
