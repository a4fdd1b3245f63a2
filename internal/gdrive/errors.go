// Package gdrive implements the Google Drive storage adapter on the
// drive/v3 SDK. Drive addresses files by id; paths are resolved by walking
// folder names from the root.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/storage"
)

// Drive reports quota exhaustion as 403 with one of these reasons.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":        true,
	"userRateLimitExceeded":    true,
	"sharingRateLimitExceeded": true,
}

// classify converts SDK errors into storage sentinels wrapped in an APIError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		reason := ""
		if len(gerr.Errors) > 0 {
			reason = gerr.Errors[0].Reason
		}

		sentinel := storage.ClassifyStatus(gerr.Code)
		if gerr.Code == http.StatusForbidden && rateLimitReasons[reason] {
			sentinel = storage.ErrThrottled
		}

		if sentinel == nil {
			sentinel = storage.ErrBadRequest
		}

		return &storage.APIError{
			Provider:   auth.GoogleDrive,
			StatusCode: gerr.Code,
			Code:       reason,
			Message:    gerr.Message,
			Err:        sentinel,
		}
	}

	var urlErr *url.Error

	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: gdrive: %w", storage.ErrNetwork, err)
	}

	return err
}

// retryable reports whether a classified error is worth another attempt
// inside the client.
func retryable(err error) bool {
	var apiErr *storage.APIError
	if errors.As(err, &apiErr) {
		return storage.IsRetryableStatus(apiErr.StatusCode) || errors.Is(err, storage.ErrThrottled)
	}

	return errors.Is(err, storage.ErrNetwork)
}
