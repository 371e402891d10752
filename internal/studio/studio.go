package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"prism/internal/catalog"
	"prism/internal/history"
	"prism/internal/providers"
)

var ErrMissingImage = errors.New("a reference image is required")

// Endpoints resolves a provider to a usable endpoint, failing with
// providers.ErrConfigMissing when no key is configured.
type Endpoints interface {
	Require(ctx context.Context, providerID string) (providers.Endpoint, error)
}

type Clients interface {
	Chat(ep providers.Endpoint) providers.ChatClient
	Images(ep providers.Endpoint) providers.ImageClient
	Edits(ep providers.Endpoint) providers.EditClient
}

// ImagePublisher copies images to storage the studio controls.
type ImagePublisher interface {
	Mirror(ctx context.Context, sourceURL string) (string, error)
	PublishDataURL(ctx context.Context, dataURL string) (string, error)
}

type Config struct {
	Catalog   *catalog.Catalog
	Endpoints Endpoints
	Clients   Clients
	History   *history.Store
	// Publisher is optional. Without it generated images keep their provider
	// URLs and inline edit references are rejected.
	Publisher      ImagePublisher
	RequestTimeout time.Duration

	DefaultChatModel  string
	DefaultImageModel string
	DefaultEditModel  string

	Logger zerolog.Logger
}

// Studio runs the chat and image flows: resolve, build, execute, persist.
type Studio struct {
	cfg Config

	chatBusy  sync.Mutex
	imageBusy sync.Mutex
}

func New(cfg Config) *Studio {
	return &Studio{cfg: cfg}
}

func (s *Studio) Catalog() *catalog.Catalog { return s.cfg.Catalog }
func (s *Studio) History() *history.Store   { return s.cfg.History }

func (s *Studio) model(id, fallback string, kind catalog.Kind) (catalog.ModelDescriptor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = fallback
	}
	m, ok := s.cfg.Catalog.Model(id)
	if !ok {
		return catalog.ModelDescriptor{}, fmt.Errorf("%w: %q", catalog.ErrUnknownModel, id)
	}
	if m.Capabilities.Kind != kind {
		return catalog.ModelDescriptor{}, fmt.Errorf("%w: %s is a %s model, need %s", providers.ErrModelKind, m.ID, m.Capabilities.Kind, kind)
	}
	return m, nil
}

// withTimeout bounds non-streaming calls.
func (s *Studio) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

func now() time.Time {
	return time.Now().UTC()
}
