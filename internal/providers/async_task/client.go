package async_task

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

	"github.com/rs/zerolog"

	"prism/internal/metrics"
	"prism/internal/providers"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 5 * time.Minute

	StatusSucceed = "SUCCEED"
	StatusFailed  = "FAILED"

	maxBodyBytes = 1 << 20
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// Interval between status polls.
	Interval time.Duration
	// Timeout bounds polling, measured from the start of Wait once the task
	// has been submitted.
	Timeout time.Duration
	// MaxAttempts bounds the number of polls; zero means no limit.
	MaxAttempts int
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// Client submits image edits to providers that answer with a task handle and
// polls the task until it reaches a terminal state.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Client{cfg: cfg}
}

var _ providers.EditClient = (*Client)(nil)

type TaskStatus struct {
	TaskStatus   string   `json:"task_status"`
	OutputImages []string `json:"output_images"`
	Message      string   `json:"message"`
}

// EditImage submits body and waits for the first output image.
func (c *Client) EditImage(ctx context.Context, body providers.Body) (string, error) {
	c.cfg.Metrics.ImageGenerations.Inc()
	taskID, err := c.Submit(ctx, body)
	if err != nil {
		return "", c.fail(err)
	}
	u, err := c.Wait(ctx, taskID)
	if err != nil {
		return "", c.fail(err)
	}
	return u, nil
}

func (c *Client) Submit(ctx context.Context, body providers.Body) (string, error) {
	endpoint, err := c.endpoint("v1", "images", "generations")
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal task body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Async-Mode", "true")
	c.authorize(req)

	b, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", providers.ErrMalformedResponse, err)
	}
	if strings.TrimSpace(resp.TaskID) == "" {
		return "", fmt.Errorf("%w: missing task_id", providers.ErrMalformedResponse)
	}
	c.cfg.Logger.Debug().Str("task_id", resp.TaskID).Msg("image task submitted")
	return resp.TaskID, nil
}

func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	endpoint, err := c.endpoint("v1", "tasks", taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("build poll request: %w", err)
	}
	c.authorize(req)

	b, err := c.do(req)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("poll task: %w", err)
	}
	var st TaskStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return TaskStatus{}, fmt.Errorf("%w: decode task status: %v", providers.ErrMalformedResponse, err)
	}
	return st, nil
}

// Wait polls taskID every Interval until it succeeds, fails, runs out of
// time or attempts, or ctx is done.
func (c *Client) Wait(ctx context.Context, taskID string) (string, error) {
	started := time.Now()
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.cfg.Timeout)
	defer deadline.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", &providers.TaskTimeout{TaskID: taskID, Elapsed: time.Since(started), Attempts: attempts}
		case <-ticker.C:
		}

		attempts++
		c.cfg.Metrics.TaskPolls.Inc()
		st, err := c.Status(ctx, taskID)
		if err != nil {
			return "", err
		}
		c.cfg.Logger.Debug().Str("task_id", taskID).Str("status", st.TaskStatus).Int("attempt", attempts).Msg("image task polled")

		switch strings.ToUpper(st.TaskStatus) {
		case StatusSucceed:
			if len(st.OutputImages) == 0 || strings.TrimSpace(st.OutputImages[0]) == "" {
				return "", fmt.Errorf("%w: task succeeded without output images", providers.ErrMalformedResponse)
			}
			return st.OutputImages[0], nil
		case StatusFailed:
			return "", &providers.TaskFailed{TaskID: taskID, Message: st.Message}
		}

		if c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts {
			return "", &providers.TaskTimeout{TaskID: taskID, Elapsed: time.Since(started), Attempts: attempts}
		}
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &providers.ProviderError{
			Status:  resp.StatusCode,
			Body:    string(b),
			Message: providers.ErrorMessage(b),
		}
	}
	return b, nil
}

func (c *Client) authorize(req *http.Request) {
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) endpoint(parts ...string) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return u.JoinPath(parts...).String(), nil
}

func (c *Client) fail(err error) error {
	c.cfg.Metrics.ProviderErrors.WithLabelValues(providers.Kind(err)).Inc()
	return err
}
