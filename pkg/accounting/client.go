// Package accounting provides the HTTP client StreamWorker uses to meter
// wall-clock agent time against a user's balance: a pre-flight check before
// starting an attempt, and an idempotent-per-buildId settlement call once
// the attempt ends.
package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/forgelabs/buildworker/pkg/errs"
)

// Client talks to the accounting service over plain HTTP/JSON.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates an accounting client against baseURL (e.g.
// "https://accounting.internal"). baseURL may be empty in tests that never
// call it.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		logger:     slog.Default().With("component", "accounting-client"),
	}
}

// preflightRequest/preflightResponse mirror the accounting service's balance
// check payload.
type preflightRequest struct {
	UserID string `json:"user_id"`
}

type preflightResponse struct {
	Sufficient bool   `json:"sufficient"`
	Reason     string `json:"reason,omitempty"`
}

// PreflightCheck returns an *errs.BuildError of KindInsufficientFunds if
// userID's balance cannot cover a new attempt. A nil return means the
// attempt may proceed.
func (c *Client) PreflightCheck(ctx context.Context, userID string) error {
	var resp preflightResponse
	if err := c.post(ctx, "/v1/preflight", preflightRequest{UserID: userID}, &resp); err != nil {
		return err
	}
	if !resp.Sufficient {
		reason := resp.Reason
		if reason == "" {
			reason = "insufficient balance"
		}
		return errs.New(errs.KindInsufficientFunds, reason)
	}
	return nil
}

type beginRequest struct {
	BuildID string `json:"build_id"`
	UserID  string `json:"user_id"`
}

// Begin starts the wall-clock meter for buildID. Calling Begin more than
// once for the same buildID is the accounting service's concern, not the
// caller's — StreamWorker calls it once per attempt.
func (c *Client) Begin(ctx context.Context, buildID, userID string) error {
	return c.post(ctx, "/v1/begin", beginRequest{BuildID: buildID, UserID: userID}, nil)
}

type endRequest struct {
	BuildID string `json:"build_id"`
	Success bool   `json:"success"`
}

// End settles the meter for buildID. Safe to call at most once per buildID;
// a second call for the same buildID is rejected by the accounting service
// and End treats that rejection as success rather than surfacing an error,
// since the meter is already closed either way.
func (c *Client) End(ctx context.Context, buildID string, success bool) error {
	err := c.post(ctx, "/v1/end", endRequest{BuildID: buildID, Success: success}, nil)
	if err == nil {
		return nil
	}
	if httpErr, ok := err.(*httpStatusError); ok && httpErr.status == http.StatusConflict {
		c.logger.Warn("accounting end called twice, treating as settled", "build_id", buildID)
		return nil
	}
	return err
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("accounting service returned HTTP %d: %s", e.status, e.body)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal accounting request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create accounting request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call accounting service at %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read accounting response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode accounting response: %w", err)
	}
	return nil
}
