// Package client provides an HTTP client for the agentdeck daemon API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to an agentdeck daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 10 * time.Second,
	}
}

// New creates an agentdeck API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) workersURL(kind string) string {
	return fmt.Sprintf("%s/api/%s/workers", c.baseURL, kind)
}

// StartWorker launches a worker of the given kind and returns its snapshot.
func (c *Client) StartWorker(ctx context.Context, kind string, req StartRequest) (WorkerInfo, error) {
	c.logger.Debug("starting worker", "kind", kind, "key", req.Key)
	var inf WorkerInfo
	err := c.doJSON(ctx, http.MethodPost, c.workersURL(kind), req, &inf)
	return inf, err
}

// StopWorker requests termination; stopping an absent key succeeds.
func (c *Client) StopWorker(ctx context.Context, kind, key string) error {
	c.logger.Debug("stopping worker", "kind", kind, "key", key)
	return c.doJSON(ctx, http.MethodDelete, c.workersURL(kind)+"/"+key, nil, nil)
}

// ListWorkers returns all tracked workers of the given kind.
func (c *Client) ListWorkers(ctx context.Context, kind string) ([]WorkerInfo, error) {
	var infos []WorkerInfo
	err := c.doJSON(ctx, http.MethodGet, c.workersURL(kind), nil, &infos)
	return infos, err
}

// GetWorker returns the snapshot for one worker.
func (c *Client) GetWorker(ctx context.Context, kind, key string) (WorkerInfo, error) {
	var inf WorkerInfo
	err := c.doJSON(ctx, http.MethodGet, c.workersURL(kind)+"/"+key, nil, &inf)
	return inf, err
}

// Logs returns the buffered log snapshot for one worker.
func (c *Client) Logs(ctx context.Context, kind, key string) ([]LogLine, error) {
	var lines []LogLine
	err := c.doJSON(ctx, http.MethodGet, c.workersURL(kind)+"/"+key+"/logs", nil, &lines)
	return lines, err
}

// FollowLogs streams log lines over SSE, invoking fn for each, until ctx is
// done or the server closes the stream. The buffered history arrives first.
func (c *Client) FollowLogs(ctx context.Context, kind, key string, fn func(LogLine)) error {
	url := c.workersURL(kind) + "/" + key + "/logs/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// streaming: the configured request timeout must not cut the follow short
	httpc := &http.Client{Transport: c.client.Transport}
	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if event != "log" {
				continue // heartbeat
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var ll LogLine
			if err := json.Unmarshal([]byte(data), &ll); err != nil {
				c.logger.Debug("skipping malformed event", "error", err)
				continue
			}
			fn(ll)
		case line == "":
			event = ""
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var rd io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return fmt.Errorf("daemon error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("daemon error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
