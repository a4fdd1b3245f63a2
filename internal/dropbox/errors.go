// Package dropbox implements the Dropbox storage adapter on the v2 HTTP API.
// Endpoint-specific failures arrive as HTTP 409 with a slash-separated
// error_summary such as "path/not_found/..", which decodeError maps onto the
// storage sentinels.
package dropbox

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tonimelisma/clipcloud/internal/storage"
)

// errorResponse mirrors the Dropbox error envelope.
type errorResponse struct {
	ErrorSummary string `json:"error_summary"`
	UserMessage  *struct {
		Text string `json:"text"`
	} `json:"user_message"`
}

// summaryRules are matched in order against the error_summary.
var summaryRules = []struct {
	substr   string
	sentinel error
}{
	{"reset", storage.ErrCursorExpired},
	{"not_found", storage.ErrNotFound},
	{"insufficient_space", storage.ErrInsufficientSpace},
	{"too_many_write_operations", storage.ErrThrottled},
	{"too_many_requests", storage.ErrThrottled},
	{"shared_link_already_exists", storage.ErrConflict},
	{"conflict", storage.ErrConflict},
	{"invalid_access_token", storage.ErrUnauthorized},
	{"expired_access_token", storage.ErrUnauthorized},
	{"malformed_path", storage.ErrInvalidPath},
	{"disallowed_name", storage.ErrInvalidPath},
}

func decodeError(status int, body []byte) (string, string, error) {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.ErrorSummary == "" {
		return "", "", nil
	}

	code := strings.TrimRight(er.ErrorSummary, "./")
	msg := er.ErrorSummary

	if er.UserMessage != nil && er.UserMessage.Text != "" {
		msg = er.UserMessage.Text
	}

	for _, rule := range summaryRules {
		if strings.Contains(code, rule.substr) {
			return code, msg, rule.sentinel
		}
	}

	// A 409 names an endpoint-specific error; unknown ones are bad requests,
	// not conflicts.
	if status == http.StatusConflict {
		return code, msg, storage.ErrBadRequest
	}

	return code, msg, nil
}
