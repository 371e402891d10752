package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPresignTTL = 7 * 24 * time.Hour
	DefaultMaxBytes   = 32 << 20
)

var ErrImageTooLarge = errors.New("image exceeds size limit")

type Config struct {
	Store      ObjectStore
	HTTPClient *http.Client
	PresignTTL time.Duration
	Prefix     string
	// MaxBytes caps downloaded images; larger ones are rejected, not truncated.
	MaxBytes int64
	Logger   zerolog.Logger
}

// Publisher copies images into object storage and hands out presigned URLs.
type Publisher struct {
	store  ObjectStore
	client *http.Client
	ttl    time.Duration
	prefix   string
	maxBytes int64
	logger   zerolog.Logger
}

func NewPublisher(cfg Config) *Publisher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "images"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Publisher{
		store:    cfg.Store,
		client:   cfg.HTTPClient,
		ttl:      cfg.PresignTTL,
		prefix:   cfg.Prefix,
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger,
	}
}

// Mirror downloads a generated image and stores a copy, since provider URLs
// expire. It returns the presigned URL of the copy.
func (p *Publisher) Mirror(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(b)) > p.maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, p.maxBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(b)
	}
	return p.upload(ctx, mime, b)
}

// PublishDataURL uploads an inline image so remote providers can fetch it.
func (p *Publisher) PublishDataURL(ctx context.Context, dataURL string) (string, error) {
	mime, b, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	return p.upload(ctx, mime, b)
}

func (p *Publisher) upload(ctx context.Context, mime string, b []byte) (string, error) {
	key := path.Join(p.prefix, time.Now().UTC().Format("2006/01/02"), uuid.NewString()+extension(mime))
	if err := p.store.Put(ctx, key, bytes.NewReader(b), int64(len(b)), mime); err != nil {
		return "", err
	}
	u, err := p.store.PresignGet(ctx, key, p.ttl)
	if err != nil {
		return "", err
	}
	p.logger.Debug().Str("key", key).Int("bytes", len(b)).Msg("image stored")
	return u, nil
}
