// Package judgeclient talks to a Judge0-compatible sandbox through its batch API.
package judgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"judgeflow/internal/grading/model"
	appErr "judgeflow/pkg/errors"
)

// Config holds sandbox connection settings.
type Config struct {
	BaseURL   string        `yaml:"baseURL"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PollObserver receives one observation per finished poll loop.
type PollObserver interface {
	ObservePoll(profile string, attempts int, complete bool, elapsed time.Duration)
}

// Client submits test executions to the sandbox and polls their status.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
	observer  PollObserver
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver reports poll loop statistics to o.
func WithObserver(o PollObserver) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a client. An empty BaseURL is accepted; calls then fail with JudgeUnavailable.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BatchSubmit sends one execution per test case and returns tokens in test order.
// A test the sandbox refused gets an empty token at its position.
func (c *Client) BatchSubmit(ctx context.Context, sourceCode string, languageID int, tests []model.TestCase, timeLimitMs, memoryLimitMB int64) ([]string, error) {
	if len(tests) == 0 {
		return nil, appErr.ValidationError("test_cases", "at least one test case is required")
	}

	req := batchSubmitRequest{Submissions: make([]submissionPayload, 0, len(tests))}
	encodedSource := encodeField(sourceCode)
	for _, tc := range tests {
		req.Submissions = append(req.Submissions, submissionPayload{
			SourceCode:     encodedSource,
			LanguageID:     languageID,
			Stdin:          encodeField(tc.Input),
			ExpectedOutput: encodeField(tc.ExpectedOutput),
			CPUTimeLimit:   float64(timeLimitMs) / 1000,
			MemoryLimit:    memoryLimitMB * 1024,
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "encode batch request failed")
	}

	query := url.Values{"base64_encoded": {"true"}}
	respBody, err := c.do(ctx, http.MethodPost, "/submissions/batch", query, body)
	if err != nil {
		return nil, err
	}

	var entries []tokenEntry
	if err := json.Unmarshal(respBody, &entries); err != nil {
		return nil, appErr.Wrapf(err, appErr.PartialJudgeFailure, "sandbox returned an unreadable batch response")
	}

	tokens := make([]string, len(tests))
	usable := 0
	for i := range tokens {
		if i < len(entries) {
			tokens[i] = strings.TrimSpace(entries[i].Token)
		}
		if tokens[i] != "" {
			usable++
		}
	}
	if usable == 0 {
		return nil, appErr.New(appErr.PartialJudgeFailure).WithDetail("submitted", len(tests))
	}
	return tokens, nil
}

// Run submits tests and polls them with profile. Results follow test order.
func (c *Client) Run(ctx context.Context, sourceCode string, languageID int, tests []model.TestCase, timeLimitMs, memoryLimitMB int64, profile Profile) ([]model.JudgeResult, error) {
	tokens, err := c.BatchSubmit(ctx, sourceCode, languageID, tests, timeLimitMs, memoryLimitMB)
	if err != nil {
		return nil, err
	}
	return c.Poll(ctx, tokens, profile)
}

func (c *Client) fetchStatus(ctx context.Context, tokens []string) ([]wireResult, error) {
	query := url.Values{
		"tokens":         {strings.Join(tokens, ",")},
		"base64_encoded": {"true"},
		"fields":         {"token,stdout,stderr,status_id,time,memory,compile_output"},
	}
	body, err := c.do(ctx, http.MethodGet, "/submissions/batch", query, nil)
	if err != nil {
		return nil, err
	}
	results, err := decodeStatusBody(body)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "sandbox returned an unreadable status response")
	}
	return results, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, appErr.Unavailable(nil, "judge service base URL is not configured")
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, appErr.Unavailable(err, "build judge request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Auth-Token", c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, appErr.Unavailable(err, "judge service request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, appErr.Unavailable(err, "read judge response failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, appErr.Unavailable(nil, "judge service responded with status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", truncate(string(respBody), 256))
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
