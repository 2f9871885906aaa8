package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contribution-patrol/patrol/pkg/version"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultBaseURL is the public GitHub REST API root.
	DefaultBaseURL = "https://api.github.com"

	apiVersion      = "2022-11-28"
	maxResponseSize = 1 << 20
)

// LeveledSlog adapts slog to retryablehttp.LeveledLogger. Intermediate
// request failures are retried, so they are logged at WARN.
type LeveledSlog struct {
	inner *slog.Logger
}

func (l LeveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l LeveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l LeveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Debug(msg, keysAndValues...) }
func (l LeveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

// Config configures a Client. Auth is required.
type Config struct {
	BaseURL string
	Auth    Authenticator
	Logger  *slog.Logger

	// RetryMax and RetryWaitMin tune retryablehttp; zero keeps the defaults.
	RetryMax     int
	RetryWaitMin time.Duration
}

// Client posts moderation replies through the GitHub REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	userAgent  string
	logger     *slog.Logger
}

// newHTTPClient builds a pooled client that retries connection errors and
// 5xx responses, leaving 429 to the caller.
func newHTTPClient(cfg Config, logger *slog.Logger) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	if cfg.RetryMax > 0 {
		retryClient.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = cfg.RetryWaitMin
		retryClient.RetryWaitMax = 10 * cfg.RetryWaitMin
	}
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	retryClient.CheckRetry = retryPolicy
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// NewClient builds a Client with retrying transport; Auth is required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("github: no authentication configured")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("github: invalid base url %q: %w", baseURL, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "github")

	httpClient := newHTTPClient(cfg, logger)
	if app, ok := cfg.Auth.(*AppAuth); ok {
		app.httpClient = httpClient
		app.baseURL = baseURL
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		auth:       cfg.Auth,
		userAgent:  version.UserAgent(),
		logger:     logger,
	}, nil
}

type issueCommentRequest struct {
	Body string `json:"body"`
}

// CreateIssueComment posts body on an issue or pull request conversation.
func (c *Client) CreateIssueComment(ctx context.Context, installationID int64, owner, repo string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", url.PathEscape(owner), url.PathEscape(repo), number)
	if err := c.post(ctx, installationID, path, issueCommentRequest{Body: body}); err != nil {
		return fmt.Errorf("github: comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, installationID int64, path string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	authHeader, err := c.auth.AuthorizationHeader(ctx, installationID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Message string            `json:"message"`
		Errors  []ValidationError `json:"errors"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Message = body.Message
		apiErr.Errors = body.Errors
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
