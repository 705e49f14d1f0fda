package httpclient

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

	pkgerrors "judgeflow/pkg/errors"
)

const userAgent = "judgeflow-cli/1"

// ErrNotLoggedIn is returned before sending a request that needs a token when none is set.
var ErrNotLoggedIn = errors.New("not logged in, use: login <access_token>")

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Envelope is the grading API's response wrapper.
type Envelope struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    json.RawMessage        `json:"data"`
	Details map[string]interface{} `json:"details"`
	TraceID string                 `json:"trace_id"`
}

// APIError is a non-success envelope.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Details    map[string]interface{}
	TraceID    string
	// RetryAfter comes from the Retry-After header on rate limited responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Message)
}

// Unauthorized reports a rejected or expired token.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Client wraps HTTP requests to the grading API.
type Client struct {
	baseURL       string
	timeout       time.Duration
	tokenProvider func() string
}

func New(baseURL string, timeout time.Duration, tokenProvider func() string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		timeout:       timeout,
		tokenProvider: tokenProvider,
	}
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.timeout = timeout
	}
}

// Call sends an authenticated JSON request and unwraps the envelope. A non-success
// envelope is returned as *APIError together with the raw response.
func (c *Client) Call(ctx context.Context, method, path string, body []byte) (*Envelope, ResponseInfo, error) {
	if c.token() == "" {
		return nil, ResponseInfo{}, ErrNotLoggedIn
	}
	info, err := c.Do(ctx, method, path, nil, body)
	if err != nil {
		return nil, info, err
	}

	var env Envelope
	if err := json.Unmarshal(info.Body, &env); err != nil {
		return nil, info, fmt.Errorf("HTTP %d: unexpected response body: %w", info.StatusCode, err)
	}
	if env.Code != int(pkgerrors.Success) {
		return &env, info, &APIError{
			StatusCode: info.StatusCode,
			Code:       env.Code,
			Message:    env.Message,
			Details:    env.Details,
			TraceID:    env.TraceID,
			RetryAfter: retryAfter(info.Headers),
		}
	}
	return &env, info, nil
}

// Do sends one request and returns the raw response.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	client := &http.Client{Timeout: c.timeout}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	info.Body, err = io.ReadAll(resp.Body)
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	return info, nil
}

func (c *Client) token() string {
	if c.tokenProvider == nil {
		return ""
	}
	return c.tokenProvider()
}

func retryAfter(h http.Header) time.Duration {
	seconds, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
