// Package graph implements the OneDrive storage adapter on the Microsoft
// Graph REST API.
package graph

import (
	"encoding/json"
	"net/http"

	"github.com/tonimelisma/clipcloud/internal/storage"
)

// errorResponse mirrors the Graph API error envelope.
type errorResponse struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError *struct {
			Code string `json:"code"`
		} `json:"innerError"`
	} `json:"error"`
}

// decodeError extracts the Graph error code. Besides the status mapping,
// "resyncRequired" marks an expired delta token and "nameAlreadyExists" a
// conflict.
func decodeError(status int, body []byte) (string, string, error) {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Code == "" {
		return "", "", nil
	}

	code := er.Error.Code
	if er.Error.InnerError != nil && er.Error.InnerError.Code != "" {
		code = er.Error.InnerError.Code
	}

	switch {
	case code == "resyncRequired" || status == http.StatusGone:
		return code, er.Error.Message, storage.ErrCursorExpired
	case code == "nameAlreadyExists":
		return code, er.Error.Message, storage.ErrConflict
	case code == "itemNotFound":
		return code, er.Error.Message, storage.ErrNotFound
	default:
		return code, er.Error.Message, nil
	}
}
