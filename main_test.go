package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "",
		},
		{
			name: "not connected",
			err:  fmt.Errorf("uploading: %w", &auth.Error{Kind: auth.ErrNotConnected, Provider: auth.Dropbox}),
			want: "Run 'clipcloud connect dropbox' first.",
		},
		{
			name: "expired",
			err:  &auth.Error{Kind: auth.ErrAuthenticationExpired, Provider: auth.OneDrive, Code: "invalid_grant"},
			want: "Run 'clipcloud connect onedrive' again.",
		},
		{
			name: "missing client id",
			err:  &auth.Error{Kind: auth.ErrConfiguration, Provider: auth.GoogleDrive, Description: "client id is empty"},
			want: "client_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeError(tt.err)

			assert.Contains(t, got, tt.err.Error())

			if tt.want == "" {
				assert.Equal(t, tt.err.Error(), got)
				return
			}

			assert.Contains(t, got, tt.want)
		})
	}
}

func TestDescribeError_ProviderCodeHasNoHint(t *testing.T) {
	err := &auth.Error{Kind: auth.ErrConfiguration, Provider: auth.Dropbox, Code: "invalid_client"}

	assert.Equal(t, err.Error(), describeError(err))
}
