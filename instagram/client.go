// Package instagram talks to Instagram's web and mobile endpoints: login,
// account lookup, recent posts and publishing.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"insta-mirror/pkg/mirror"
)

const (
	defaultAPIURL = "https://i.instagram.com"
	defaultWebURL = "https://www.instagram.com"

	appID       = "567067343352427"
	appUA       = "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)"
	webUA       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBodySize = 8 << 20
)

// StatusError is a non-2xx response from Instagram.
type StatusError struct {
	URL     string
	Message string
	Status  int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.Status, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.URL)
}

// IsNotFound checks if an error is an HTTP 404 from Instagram.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Config holds client settings. Zero values use Instagram's public endpoints.
type Config struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	APIURL     string
	WebURL     string
}

// Client is an Instagram session. It is safe to reuse across sources but
// not for concurrent publishing.
type Client struct {
	http     *http.Client
	logger   *slog.Logger
	apiURL   string
	webURL   string
	deviceID string

	mu           sync.Mutex
	auth         string // Bearer token from the login response, if any
	userID       string
	lastUploadID int64
}

// New creates a client with its own cookie jar.
func New(cfg *Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	hc := &http.Client{Jar: jar}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		copied.Jar = jar
		hc = &copied
	}

	c := &Client{
		http:     hc,
		logger:   cfg.Logger,
		apiURL:   strings.TrimSuffix(cfg.APIURL, "/"),
		webURL:   strings.TrimSuffix(cfg.WebURL, "/"),
		deviceID: newDeviceID(),
	}
	if c.apiURL == "" {
		c.apiURL = defaultAPIURL
	}
	if c.webURL == "" {
		c.webURL = defaultWebURL
	}
	return c, nil
}

type loginResponse struct {
	LoggedInUser struct {
		Username string `json:"username"`
		PK       int64  `json:"pk"`
	} `json:"logged_in_user"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Login authenticates the destination account. Any failure is an AuthError.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return mirror.NewError(mirror.AuthError, "", "login", errors.New("username and password are required"))
	}

	form := url.Values{
		"username":            {username},
		"enc_password":        {fmt.Sprintf("#PWD_INSTAGRAM:0:%d:%s", time.Now().Unix(), password)},
		"device_id":           {c.deviceID},
		"login_attempt_count": {"0"},
	}

	var resp loginResponse
	header, err := c.postForm(ctx, "/api/v1/accounts/login/", form, &resp)
	if err != nil {
		return mirror.NewError(mirror.AuthError, "", "login", err)
	}
	if resp.Status != "ok" || resp.LoggedInUser.PK == 0 {
		msg := resp.Message
		if msg == "" {
			msg = "login rejected"
		}
		return mirror.NewError(mirror.AuthError, "", "login", errors.New(msg))
	}

	c.mu.Lock()
	c.userID = fmt.Sprint(resp.LoggedInUser.PK)
	c.auth = header.Get("Ig-Set-Authorization")
	c.mu.Unlock()

	c.logger.Info("Logged in", "username", resp.LoggedInUser.Username, "user_id", resp.LoggedInUser.PK)
	return nil
}

// newRequest builds a mobile API request with the app headers and session token.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", appUA)
	req.Header.Set("X-IG-App-ID", appID)
	req.Header.Set("X-IG-Device-ID", c.deviceID)

	c.mu.Lock()
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	c.mu.Unlock()
	return req, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) (http.Header, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	return c.doJSON(req, out)
}

// doJSON sends req and decodes a JSON body into out. Non-2xx responses become
// a *StatusError carrying Instagram's message when there is one.
func (c *Client) doJSON(req *http.Request, out any) (http.Header, error) {
	startTime := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		c.logger.Warn("HTTP request failed", "url", req.URL.Path, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Debug("HTTP request completed",
		"method", req.Method,
		"url", req.URL.Path,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, &StatusError{URL: req.URL.Path, Status: resp.StatusCode, Message: apiErr.Message}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.URL.Path, err)
		}
	}
	return resp.Header, nil
}

func newDeviceID() string {
	return "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
