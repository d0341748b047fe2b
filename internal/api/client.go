package api

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
)

// Client talks to a running daemon's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the daemon at bind (host:port or full URL).
func NewClient(bind string) *Client {
	base := strings.TrimRight(bind, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var out DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Queue lists jobs, optionally filtered by status.
func (c *Client) Queue(ctx context.Context, status string, limit int) (*QueueListResponse, error) {
	path := "/api/queue"
	values := url.Values{}
	if status != "" {
		values.Set("status", status)
	}
	if limit > 0 {
		values.Set("limit", fmt.Sprint(limit))
	}
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out QueueListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job fetches one job by ID.
func (c *Client) Job(ctx context.Context, id int64) (*JobView, error) {
	var out JobResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/queue/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// RetryJob requeues a failed job.
func (c *Client) RetryJob(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/queue/%d/retry", id), nil, nil)
}

// PauseJob pauses a queued or active download job.
func (c *Client) PauseJob(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/queue/%d/pause", id), nil, nil)
}

// ResumeJob requeues a paused download job.
func (c *Client) ResumeJob(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/queue/%d/resume", id), nil, nil)
}

// Subscriptions lists all subscriptions.
func (c *Client) Subscriptions(ctx context.Context) (*SubscriptionListResponse, error) {
	var out SubscriptionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/subscriptions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSubscription registers a new subscription.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionView, error) {
	var out SubscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/api/subscriptions", req, &out); err != nil {
		return nil, err
	}
	return &out.Subscription, nil
}

// DeleteSubscription removes a subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/subscriptions/%d", id), nil, nil)
}

// TriggerSubscription enqueues an immediate discovery run.
func (c *Client) TriggerSubscription(ctx context.Context, id int64) (*JobView, error) {
	var out JobResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/subscriptions/%d/trigger", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// PauseSubscription disables a subscription.
func (c *Client) PauseSubscription(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/subscriptions/%d/pause", id), nil, nil)
}

// ResumeSubscription re-enables a subscription.
func (c *Client) ResumeSubscription(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/subscriptions/%d/resume", id), nil, nil)
}

// AddVideo submits a bare URL for cataloging.
func (c *Client) AddVideo(ctx context.Context, req AddVideoRequest) (*JobView, error) {
	var out JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/videos", req, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error != "" {
			return fmt.Errorf("daemon: %s", failure.Error)
		}
		return fmt.Errorf("daemon: %s", resp.Status)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
