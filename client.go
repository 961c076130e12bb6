package data_portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultRequestTimeout = 10 * time.Second

// Client is the REST client for the Data Portal backend. Authorization comes
// from an injected TokenSource, so token rotation elsewhere (e.g. a background
// refresh) is picked up on the next request without any shared globals.
//
// The client never retries; errors carry the backend's response unchanged (see
// errors.go for the taxonomy).
type Client struct {
	baseURL string
	tokens  TokenSource
	cipher  *PathCipher
	http    *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client. The default has
// DefaultRequestTimeout, which would kill long streaming downloads, so
// OpenDownload always uses a timeout-free copy regardless.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// WithPathCipher overrides the cipher used for path obfuscation.
func WithPathCipher(pc *PathCipher) ClientOption {
	return func(c *Client) {
		c.cipher = pc
	}
}

func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		cipher:  DefaultPathCipher(),
		http:    &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login exchanges credentials for a bearer token. The token is returned to the
// caller, not stored; session management is the caller's concern.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}
	var result LoginResult
	if err := c.do(ctx, http.MethodPost, "/users/login", body, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, &APIError{Status: http.StatusOK, Message: "login response missing access token"}
	}
	return &result, nil
}

// Refresh exchanges the current bearer token for a new one.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/refresh", struct{}{}, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", &APIError{Status: http.StatusOK, Message: "refresh response missing access token"}
	}
	return result.AccessToken, nil
}

// Register submits a new account for admin approval, returning the backend's
// confirmation message (normally "... pending admin approval").
func (c *Client) Register(ctx context.Context, username, email, password string) (string, error) {
	body := map[string]string{"username": username, "email": email, "password": password}
	var result struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/register", body, &result); err != nil {
		return "", err
	}
	return result.Message, nil
}

// PendingUsers lists accounts awaiting approval. Admin only.
func (c *Client) PendingUsers(ctx context.Context) ([]PendingUser, error) {
	var result struct {
		Data []PendingUser `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/pending", nil, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// ApproveUser approves a pending account, returning the approved username.
func (c *Client) ApproveUser(ctx context.Context, id int64) (string, error) {
	return c.adminAction(ctx, "approve", id)
}

// RejectUser rejects a pending account, returning the rejected username.
func (c *Client) RejectUser(ctx context.Context, id int64) (string, error) {
	return c.adminAction(ctx, "reject", id)
}

func (c *Client) adminAction(ctx context.Context, action string, id int64) (string, error) {
	var result struct {
		Status string `json:"status"`
		Data   struct {
			Username string `json:"username"`
		} `json:"data"`
		Error string `json:"error"`
	}
	path := fmt.Sprintf("/admin/%s/%d", action, id)
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &result); err != nil {
		return "", err
	}
	if result.Status != "success" {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("%s failed", action)
		}
		return "", &APIError{Status: http.StatusOK, Message: msg}
	}
	return result.Data.Username, nil
}

// ListFiles fetches the listing for a remote directory. path "" is the root.
// The path travels obfuscated via the PathCipher, matching what the backend
// expects.
func (c *Client) ListFiles(ctx context.Context, path string) (*FileListing, error) {
	endpoint := "/files/files"
	if path != "" {
		endpoint += "?path=" + url.QueryEscape(c.cipher.Encrypt(path))
	}
	var result FileListing
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GenerateDownloadToken asks the backend to issue a single-use token for
// downloading the given file or folder.
func (c *Client) GenerateDownloadToken(ctx context.Context, path string, isFolder bool) (string, error) {
	body := map[string]interface{}{
		"path":      c.cipher.Encrypt(path),
		"is_folder": isFolder,
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/files/generate-download-token", body, &result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", &APIError{Status: http.StatusOK, Message: "token response missing token"}
	}
	return result.Token, nil
}

// DownloadURL returns the URL the backend streams a tokenized download from.
func (c *Client) DownloadURL(token string) string {
	return c.baseURL + "/files/download/" + token
}

// ShareLink builds an out-of-band retrieval URL for a file or folder path. The
// embedded token is just the obfuscated path; issuing, validating and expiring
// it is entirely the backend's responsibility. The API key placeholder is for
// the recipient to fill in.
func (c *Client) ShareLink(path string, isFolder bool) string {
	q := url.Values{}
	q.Set("token", c.cipher.Encrypt(path))
	q.Set("api_key", "YOUR_API_KEY")
	q.Set("is_folder", strconv.FormatBool(isFolder))
	return c.baseURL + "/apikeydownload?" + q.Encode()
}

// OpenDownload starts streaming a tokenized download. The returned size is the
// Content-Length, or 0 when the backend didn't send one (progress should then
// be treated as indeterminate). The caller owns the returned body and must
// close it; cancelling ctx aborts the stream.
func (c *Client) OpenDownload(ctx context.Context, token string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(token), nil)
	if err != nil {
		return nil, 0, err
	}
	c.authorize(req)
	// Streams can legitimately outlive any fixed timeout.
	streamClient := *c.http
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, statusError(resp, data)
	}
	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	return resp.Body, size, nil
}

// FetchFile opens the byte stream for a remote file path: a single-use
// download token is issued for the path, then streamed via OpenDownload.
func (c *Client) FetchFile(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	token, err := c.GenerateDownloadToken(ctx, path, false)
	if err != nil {
		return nil, 0, err
	}
	return c.OpenDownload(ctx, token)
}

// ListKeys lists the caller's API keys.
func (c *Client) ListKeys(ctx context.Context) ([]APIKey, error) {
	var result struct {
		Data struct {
			APIKeys []APIKey `json:"api_keys"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/key", nil, &result); err != nil {
		return nil, err
	}
	return result.Data.APIKeys, nil
}

// CreateKey creates a named API key, returning the key material. This is the
// only time the backend reveals it.
func (c *Client) CreateKey(ctx context.Context, name string) (string, error) {
	var result struct {
		Data struct {
			APIKey string `json:"api_key"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/keys", map[string]string{"name": name}, &result); err != nil {
		return "", err
	}
	if result.Data.APIKey == "" {
		return "", &APIError{Status: http.StatusOK, Message: "key response missing api_key"}
	}
	return result.Data.APIKey, nil
}

// DeleteKey revokes an API key by ID.
func (c *Client) DeleteKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/keys/"+url.PathEscape(id), nil, nil)
}

// Profile fetches the current user's profile.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile replaces the current user's profile, returning the stored
// version.
func (c *Client) UpdateProfile(ctx context.Context, p *Profile) (*Profile, error) {
	var updated Profile
	if err := c.do(ctx, http.MethodPut, "/user/profile", p, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := NormalizeToken(c.tokens.Token()); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// do performs one JSON request/response round trip. body == nil means no
// request body; out == nil means the response body is only checked for errors.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := decodeBody(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeBody unmarshals a JSON response, transparently handling the backend's
// double-encoded replies: some endpoints return a JSON string whose contents
// are the actual JSON document.
func decodeBody(data []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err == nil {
			return json.Unmarshal([]byte(inner), out)
		}
	}
	return json.Unmarshal(trimmed, out)
}

// statusError maps a non-2xx response to the error taxonomy, preserving the
// backend's message where there is one.
func statusError(resp *http.Response, body []byte) error {
	msg := errorMessage(body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		}
		return ErrUnauthorized
	case http.StatusForbidden:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrForbidden, msg)
		}
		return ErrForbidden
	case http.StatusTooManyRequests:
		e := &RateLimitError{}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if seconds, err := strconv.Atoi(s); err == nil {
				e.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		return e
	default:
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := decodeBody(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}
