package registry

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"prism/internal/catalog"
	"prism/internal/metrics"
	"prism/internal/providers"
	"prism/internal/providers/async_task"
	"prism/internal/providers/openai_compat"
)

type Options struct {
	HTTPClient      *http.Client
	Headers         map[string]string
	PollInterval    time.Duration
	PollTimeout     time.Duration
	PollMaxAttempts int
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Registry builds provider clients for resolved endpoints.
type Registry struct {
	opts Options
}

func New(opts Options) *Registry {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(60 * time.Second)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	return &Registry{opts: opts}
}

func (r *Registry) Chat(ep providers.Endpoint) providers.ChatClient {
	return r.openAI(ep)
}

func (r *Registry) Images(ep providers.Endpoint) providers.ImageClient {
	return r.openAI(ep)
}

func (r *Registry) Edits(ep providers.Endpoint) providers.EditClient {
	return async_task.New(async_task.Config{
		BaseURL:     ep.BaseURL,
		APIKey:      ep.APIKey,
		HTTPClient:  r.opts.HTTPClient,
		Interval:    r.opts.PollInterval,
		Timeout:     r.opts.PollTimeout,
		MaxAttempts: r.opts.PollMaxAttempts,
		Logger:      r.opts.Logger.With().Str("provider", ep.ProviderID).Logger(),
		Metrics:     r.opts.Metrics,
	})
}

type BuildOptions struct {
	Kind     catalog.Kind
	Endpoint providers.Endpoint
}

// Build returns the client serving a model kind: an openai_compat.Client for
// chat and image generation, an async_task.Client for image edits.
func (r *Registry) Build(opts BuildOptions) (any, error) {
	switch opts.Kind {
	case catalog.KindChat, "":
		return r.Chat(opts.Endpoint), nil
	case catalog.KindImageGenerate:
		return r.Images(opts.Endpoint), nil
	case catalog.KindImageEdit:
		return r.Edits(opts.Endpoint), nil
	default:
		return nil, fmt.Errorf("unsupported model kind %q", opts.Kind)
	}
}

func (r *Registry) openAI(ep providers.Endpoint) *openai_compat.Client {
	return openai_compat.New(openai_compat.Config{
		BaseURL:    ep.BaseURL,
		APIKey:     ep.APIKey,
		Headers:    r.opts.Headers,
		HTTPClient: r.opts.HTTPClient,
		Logger:     r.opts.Logger.With().Str("provider", ep.ProviderID).Logger(),
		Metrics:    r.opts.Metrics,
	})
}

// NewHTTPClient returns a client without an overall timeout, so long streams
// are bounded by their context only; headerTimeout bounds the wait for the
// first response byte.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	if headerTimeout > 0 {
		transport.ResponseHeaderTimeout = headerTimeout
	}
	return &http.Client{Transport: transport}
}
