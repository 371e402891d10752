package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL    string
	APIKey     string
	Headers    map[string]string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Client talks to OpenAI-compatible chat completion and image generation
// endpoints. It never retries.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Client{cfg: cfg}
}

var (
	_ providers.ChatClient  = (*Client)(nil)
	_ providers.ImageClient = (*Client)(nil)
)

func (c *Client) Chat(ctx context.Context, body providers.Body) (string, error) {
	c.cfg.Metrics.ChatRequests.Inc()
	resp, err := c.post(ctx, "/chat/completions", body, "application/json")
	if err != nil {
		return "", c.fail(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", c.fail(fmt.Errorf("read chat completion: %w", err))
	}
	text, err := parseChatCompletions(b)
	if err != nil {
		return "", c.fail(err)
	}
	return text, nil
}

// ChatStream posts body with stream=true and feeds the event stream through a
// StreamDecoder. On a broken stream the partial text is returned together
// with a *providers.StreamInterrupted.
func (c *Client) ChatStream(ctx context.Context, body providers.Body, publish providers.Publish) (string, error) {
	c.cfg.Metrics.ChatRequests.Inc()
	resp, err := c.post(ctx, "/chat/completions", body, "text/event-stream")
	if err != nil {
		return "", c.fail(err)
	}
	defer resp.Body.Close()

	dec := NewStreamDecoder(publish, c.cfg.Logger, c.cfg.Metrics)
	if _, err := io.Copy(dec, resp.Body); err != nil && !errors.Is(err, ErrStreamDone) {
		partial := dec.Text()
		c.cfg.Logger.Warn().Err(err).Int("partial_bytes", len(partial)).Msg("chat stream interrupted")
		return partial, c.fail(&providers.StreamInterrupted{Partial: partial, Err: err})
	}
	dec.Flush()

	c.cfg.Logger.Debug().
		Int("deltas", dec.Deltas()).
		Int("malformed", dec.Malformed()).
		Bool("done_sentinel", dec.Done()).
		Msg("chat stream finished")
	return dec.Text(), nil
}

func (c *Client) GenerateImage(ctx context.Context, body providers.Body) (string, error) {
	c.cfg.Metrics.ImageGenerations.Inc()
	resp, err := c.post(ctx, "/images/generations", body, "application/json")
	if err != nil {
		return "", c.fail(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", c.fail(fmt.Errorf("read image response: %w", err))
	}
	u, err := ExtractImageURL(b)
	if err != nil {
		return "", c.fail(err)
	}
	return u, nil
}

// post sends body and returns the response only for 2xx statuses; anything
// else is read, closed and turned into a *providers.ProviderError.
func (c *Client) post(ctx context.Context, path string, body providers.Body, accept string) (*http.Response, error) {
	endpoint, err := buildEndpointURL(c.cfg.BaseURL, path)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey))
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &providers.ProviderError{
			Status:  resp.StatusCode,
			Body:    string(b),
			Message: providers.ErrorMessage(b),
		}
	}
	return resp, nil
}

func (c *Client) fail(err error) error {
	c.cfg.Metrics.ProviderErrors.WithLabelValues(providers.Kind(err)).Inc()
	return err
}

func buildEndpointURL(base, path string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, path) {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
