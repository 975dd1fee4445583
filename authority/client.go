package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goRenew/session"
)

// DefaultPath is the renewal endpoint appended to the base URL.
const DefaultPath = "/auth/refresh"

const maxResponseBytes = 1 << 20

type renewRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// renewResponse omits expiresInSeconds: expiry is read from the access
// token's exp claim.
type renewResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Client is the HTTP [Renewer]:
//
//	POST {baseURL}/auth/refresh {"refreshToken": "..."}
//	200 {"accessToken": "...", "refreshToken": "...", "expiresInSeconds": 900}
//
// Extra fields such as expiresInSeconds are ignored. 400, 401 and 403
// classify as [ErrRejected]. Every other outcome, including
// a 2xx body missing either token, classifies as [ErrUnavailable].
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPath overrides [DefaultPath].
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = path
		}
	}
}

// WithClock sets the clock used to stamp IssuedAt on renewed pairs.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a [Client] for the authority at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Renew posts refreshToken to the authority. The call is bounded only by ctx.
func (c *Client) Renew(ctx context.Context, refreshToken string) (session.CredentialPair, error) {
	if refreshToken == "" {
		return session.CredentialPair{}, &StatusError{Kind: ErrRejected, Err: fmt.Errorf("empty refresh token")}
	}

	body, err := json.Marshal(renewRequest{RefreshToken: refreshToken})
	if err != nil {
		return session.CredentialPair{}, &StatusError{Kind: ErrUnavailable, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return session.CredentialPair{}, &StatusError{Kind: ErrUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.CredentialPair{}, &StatusError{Kind: ErrUnavailable, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return session.CredentialPair{}, &StatusError{Kind: ErrUnavailable, StatusCode: resp.StatusCode, Err: err}
	}

	if kind := classify(resp.StatusCode); kind != nil {
		return session.CredentialPair{}, &StatusError{Kind: kind, StatusCode: resp.StatusCode}
	}

	var out renewResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return session.CredentialPair{}, &StatusError{Kind: ErrUnavailable, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	pair := session.CredentialPair{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		IssuedAt:     c.now().UTC(),
	}
	if !pair.Valid() {
		return session.CredentialPair{}, &StatusError{Kind: ErrUnavailable, StatusCode: resp.StatusCode, Err: session.ErrInvalidPair}
	}
	return pair, nil
}

// classify returns nil for success statuses.
func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrRejected
	default:
		return ErrUnavailable
	}
}
