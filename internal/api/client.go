// Package api is the REST side of the backend: token refresh, profile
// management, search, and the file upload endpoint. Everything else rides
// the WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/creds"
)

// ErrUnauthorized reports a 401/403 from the backend. For token refresh it
// means the refresh token itself expired and the session is effectively
// logged out.
var ErrUnauthorized = errors.New("unauthorized")

// apiResponse is the backend's uniform envelope.
type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (r *apiResponse) ok() bool { return r.Status == "success" }

// Client wraps the REST API.
type Client struct {
	http  *resty.Client
	creds *creds.Store
	log   *zap.Logger
}

// New builds a client rooted at baseURL (ending in /api/).
func New(baseURL string, cs *creds.Store, log *zap.Logger) *Client {
	httpc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: httpc, creds: cs, log: log.Named("api")}
}

func (c *Client) authHeader() string {
	return "Bearer " + c.creds.AuthToken()
}

// RefreshToken exchanges the stored refresh token for a fresh token pair and
// persists it. Returns ErrUnauthorized when the refresh token is rejected.
func (c *Client) RefreshToken(ctx context.Context) error {
	refresh := c.creds.RefreshToken()
	if refresh == "" {
		return errors.New("no refresh token stored")
	}

	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"refresh_token": refresh}).
		SetResult(&env).
		Post("auth/refresh")
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		c.log.Warn("refresh token rejected", zap.Int("code", resp.StatusCode()))
		return ErrUnauthorized
	}
	if !resp.IsSuccess() || !env.ok() {
		return fmt.Errorf("refresh token: http %d: %s", resp.StatusCode(), env.Message)
	}

	var data struct {
		AuthToken    string `json:"auth_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("refresh token response: %w", err)
	}
	if data.AuthToken == "" || data.RefreshToken == "" {
		return errors.New("refresh token response missing tokens")
	}
	if err := c.creds.SetTokens(data.AuthToken, data.RefreshToken); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	c.log.Info("auth token refreshed")
	return nil
}

// CreateProfile registers a new account and persists the returned token
// pair. firebaseToken proves phone ownership; fcmToken may be empty.
func (c *Client) CreateProfile(ctx context.Context, firebaseToken, name, username, birthdate, deviceName, deviceID, fcmToken string) error {
	form := map[string]string{
		"firebase_token": firebaseToken,
		"user_name":      name,
		"user_username":  username,
		"birthdate":      birthdate,
		"device_name":    deviceName,
		"id_device":      deviceID,
	}
	if fcmToken != "" {
		form["fmc_token"] = fcmToken
	}

	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&env).
		Post("profile/create")
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	if !resp.IsSuccess() || !env.ok() {
		return fmt.Errorf("create profile: http %d: %s", resp.StatusCode(), env.Message)
	}

	var data struct {
		AuthToken    string `json:"auth_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("create profile response: %w", err)
	}
	if data.AuthToken == "" || data.RefreshToken == "" {
		return errors.New("create profile response missing tokens")
	}
	if err := c.creds.SetTokens(data.AuthToken, data.RefreshToken); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	c.log.Info("profile created", zap.String("username", username))
	return nil
}

// ValidateToken asks the backend whether the stored auth token is usable.
func (c *Client) ValidateToken(ctx context.Context) (bool, error) {
	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetResult(&env).
		Get("auth/validate")
	if err != nil {
		return false, fmt.Errorf("validate token: %w", err)
	}
	return resp.IsSuccess() && env.ok(), nil
}

// CheckUsername reports whether a username is available.
func (c *Client) CheckUsername(ctx context.Context, username string) (bool, error) {
	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("username", username).
		SetResult(&env).
		Get("profile/checkUsername")
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	if !resp.IsSuccess() || !env.ok() {
		return false, fmt.Errorf("check username: http %d: %s", resp.StatusCode(), env.Message)
	}
	var data struct {
		Available bool `json:"available"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return false, fmt.Errorf("check username response: %w", err)
	}
	return data.Available, nil
}

// UpdateProfile replaces the profile's name, username and bio.
func (c *Client) UpdateProfile(ctx context.Context, name, username, bio string) error {
	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetFormData(map[string]string{
			"user_name":     name,
			"user_username": username,
			"bio":           bio,
		}).
		SetResult(&env).
		Put("profile")
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if !resp.IsSuccess() || !env.ok() {
		return fmt.Errorf("update profile: http %d: %s", resp.StatusCode(), env.Message)
	}
	return nil
}

// UploadProfilePhoto posts a photo file and returns its public URL.
func (c *Client) UploadProfilePhoto(ctx context.Context, path string) (string, error) {
	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetFile("photo", path).
		SetResult(&env).
		Post("uploads/profilePhoto")
	if err != nil {
		return "", fmt.Errorf("upload profile photo: %w", err)
	}
	if !resp.IsSuccess() || !env.ok() {
		return "", fmt.Errorf("upload profile photo: http %d: %s", resp.StatusCode(), env.Message)
	}
	var data struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("upload photo response: %w", err)
	}
	return data.URL, nil
}

// SearchResult is one hit from the directory search.
type SearchResult struct {
	Type        string `json:"type"` // user, bot, group
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Photo       string `json:"photo"`
}

// Search queries the directory for users, bots and groups.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var env apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&env).
		Get("search")
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if !resp.IsSuccess() || !env.ok() {
		return nil, fmt.Errorf("search: http %d: %s", resp.StatusCode(), env.Message)
	}
	var results []SearchResult
	if err := json.Unmarshal(env.Data, &results); err != nil {
		return nil, fmt.Errorf("search response: %w", err)
	}
	return results, nil
}
