package graph

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// userResponse mirrors the Graph API /me JSON response.
type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	// UPN is a fallback when mail is empty (common on Personal accounts
	// where the mail field is often blank).
	UPN string `json:"userPrincipalName"`
}

func (u *userResponse) toUser() User {
	email := u.Mail
	if email == "" {
		email = u.UPN
	}

	return User{ID: u.ID, DisplayName: u.DisplayName, Email: email}
}

type driveResponse struct {
	ID        string `json:"id"`
	DriveType string `json:"driveType"`
	Quota     *struct {
		Total     int64 `json:"total"`
		Remaining int64 `json:"remaining"`
	} `json:"quota"`
}

// me returns the authenticated user's profile.
func (c *Client) me(ctx context.Context, token string) (*User, error) {
	var ur userResponse
	if err := c.doJSON(ctx, token, http.MethodGet, "/me", nil, &ur); err != nil {
		return nil, err
	}

	user := ur.toUser()
	c.logger.Debug("fetched user profile", slog.String("id", user.ID))

	return &user, nil
}

// drive returns the user's default drive.
func (c *Client) drive(ctx context.Context, token string) (*driveResponse, error) {
	var dr driveResponse
	if err := c.doJSON(ctx, token, http.MethodGet, "/me/drive", nil, &dr); err != nil {
		return nil, err
	}

	return &dr, nil
}

// FetchAccount implements auth.AccountFetcher.
func (c *Client) FetchAccount(ctx context.Context, accessToken string) (*auth.Account, error) {
	u, err := c.me(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return &auth.Account{Email: u.Email, Name: u.DisplayName}, nil
}
