// Package api is a small HTTP client for the TryItOut JSON API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/tryitout/internal/common"
)

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a non-2xx reply from the server.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

func (e *Error) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

type User struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
	Plan           string `json:"plan"`
	TrialRemaining int    `json:"trialRemaining"`
}

type Session struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

type Usage struct {
	Allowed        bool   `json:"allowed"`
	Plan           string `json:"plan"`
	TrialRemaining int    `json:"trialRemaining"`
}

type UsageEvent struct {
	Kind           string    `json:"kind"`
	RemainingAfter int       `json:"remainingAfter"`
	CreatedAt      time.Time `json:"createdAt"`
}

type AvatarUpload struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	PublicURL string `json:"publicUrl"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Signup(ctx context.Context, name, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", "", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Signin(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", "", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Refresh exchanges a refresh token for a new pair. The returned session has
// no user.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var s Session
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", "", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Signout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	return c.do(ctx, http.MethodPost, "/api/auth/signout", "", body, nil)
}

func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/profile/me", token, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpdateAvatar(ctx context.Context, token, avatarURL string) error {
	return c.do(ctx, http.MethodPost, "/api/profile/avatar", token, map[string]string{"avatarUrl": avatarURL}, nil)
}

func (c *Client) AvatarUploadURL(ctx context.Context, token string) (*AvatarUpload, error) {
	var up AvatarUpload
	if err := c.do(ctx, http.MethodPost, "/api/profile/avatar/upload-url", token, nil, &up); err != nil {
		return nil, err
	}
	return &up, nil
}

func (c *Client) UsageCheck(ctx context.Context, token string) (*Usage, error) {
	var u Usage
	if err := c.do(ctx, http.MethodGet, "/api/usage/check", token, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UsageConsume spends one credit and returns the remaining trial count.
func (c *Client) UsageConsume(ctx context.Context, token string) (int, error) {
	var res struct {
		TrialRemaining int `json:"trialRemaining"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/usage/consume", token, nil, &res); err != nil {
		return 0, err
	}
	return res.TrialRemaining, nil
}

// UsageHistory lists recent ledger entries, newest first. A zero limit
// leaves the page size to the server.
func (c *Client) UsageHistory(ctx context.Context, token string, limit int) ([]UsageEvent, error) {
	path := "/api/usage/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var res struct {
		Events []UsageEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, token, nil, &res); err != nil {
		return nil, err
	}
	return res.Events, nil
}

func (c *Client) Checkout(ctx context.Context, token string) (string, error) {
	var res struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/billing/checkout", token, nil, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb)
		return &Error{Status: resp.StatusCode, Message: eb.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
