package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"prism/internal/catalog"
	"prism/internal/crypto"
	"prism/internal/providers"
	"prism/internal/storage"
)

var ErrProviderNotFound = errors.New("provider not found")

// KeyStore persists user-edited API keys, already encrypted.
type KeyStore interface {
	PutProviderKey(ctx context.Context, providerID, encAPIKey string) error
	GetProviderKey(ctx context.Context, providerID string) (string, error)
	DeleteProviderKey(ctx context.Context, providerID string) error
	ListProviderKeys(ctx context.Context) ([]storage.ProviderKey, error)
}

type Config struct {
	Catalog *catalog.Catalog
	Keys    KeyStore
	Crypto  *crypto.Manager
	Logger  zerolog.Logger
}

// Resolver turns a provider id into a base URL and a decrypted API key.
type Resolver struct {
	catalog *catalog.Catalog
	keys    KeyStore
	crypto  *crypto.Manager
	logger  zerolog.Logger
}

func New(cfg Config) *Resolver {
	return &Resolver{
		catalog: cfg.Catalog,
		keys:    cfg.Keys,
		crypto:  cfg.Crypto,
		logger:  cfg.Logger,
	}
}

// KeySource says where a provider's key ciphertext came from.
type KeySource string

const (
	SourceNone    KeySource = "none"
	SourceStore   KeySource = "store"
	SourceCatalog KeySource = "catalog"
)

type KeyStatus struct {
	ProviderID  string
	DisplayName string
	BaseURL     string
	Source      KeySource
	Usable      bool
}

// Resolve never fails on undecryptable key material: the endpoint comes back
// with an empty APIKey, which callers treat as "not configured".
func (r *Resolver) Resolve(ctx context.Context, providerID string) (providers.Endpoint, error) {
	p, ok := r.catalog.Provider(providerID)
	if !ok {
		return providers.Endpoint{}, fmt.Errorf("%w: %q", ErrProviderNotFound, providerID)
	}
	cipher, source, err := r.ciphertext(ctx, p)
	if err != nil {
		return providers.Endpoint{}, err
	}
	key := r.crypto.DecryptOrEmpty(cipher)
	if key == "" && cipher != "" {
		r.logger.Debug().Str("provider", p.ID).Str("source", string(source)).Msg("api key could not be decrypted")
	}
	return providers.Endpoint{ProviderID: p.ID, BaseURL: p.BaseURL, APIKey: key}, nil
}

// ResolveStrict is Resolve with crypto.ErrBadCiphertext surfaced instead of an
// empty key.
func (r *Resolver) ResolveStrict(ctx context.Context, providerID string) (providers.Endpoint, error) {
	p, ok := r.catalog.Provider(providerID)
	if !ok {
		return providers.Endpoint{}, fmt.Errorf("%w: %q", ErrProviderNotFound, providerID)
	}
	cipher, _, err := r.ciphertext(ctx, p)
	if err != nil {
		return providers.Endpoint{}, err
	}
	ep := providers.Endpoint{ProviderID: p.ID, BaseURL: p.BaseURL}
	if strings.TrimSpace(cipher) == "" {
		return ep, nil
	}
	key, err := r.crypto.DecryptString(cipher)
	if err != nil {
		return providers.Endpoint{}, fmt.Errorf("provider %q: %w", p.ID, err)
	}
	ep.APIKey = key
	return ep, nil
}

// Require resolves providerID and fails with providers.ErrConfigMissing when
// no usable key is available.
func (r *Resolver) Require(ctx context.Context, providerID string) (providers.Endpoint, error) {
	ep, err := r.Resolve(ctx, providerID)
	if err != nil {
		return providers.Endpoint{}, err
	}
	if strings.TrimSpace(ep.APIKey) == "" {
		return providers.Endpoint{}, fmt.Errorf("provider %q: %w", providerID, providers.ErrConfigMissing)
	}
	return ep, nil
}

func (r *Resolver) SetKey(ctx context.Context, providerID, plain string) error {
	if _, ok := r.catalog.Provider(providerID); !ok {
		return fmt.Errorf("%w: %q", ErrProviderNotFound, providerID)
	}
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return fmt.Errorf("api key is empty")
	}
	enc, err := r.crypto.EncryptString(plain)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	if err := r.keys.PutProviderKey(ctx, providerID, enc); err != nil {
		return err
	}
	r.logger.Info().Str("provider", providerID).Str("key_id", r.crypto.CurrentKeyID()).Msg("api key stored")
	return nil
}

// DeleteKey drops the user-edited key; a catalog key, if any, applies again.
func (r *Resolver) DeleteKey(ctx context.Context, providerID string) error {
	if _, ok := r.catalog.Provider(providerID); !ok {
		return fmt.Errorf("%w: %q", ErrProviderNotFound, providerID)
	}
	if err := r.keys.DeleteProviderKey(ctx, providerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (r *Resolver) Status(ctx context.Context) ([]KeyStatus, error) {
	out := make([]KeyStatus, 0)
	for _, p := range r.catalog.Providers() {
		cipher, source, err := r.ciphertext(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, KeyStatus{
			ProviderID:  p.ID,
			DisplayName: p.DisplayName,
			BaseURL:     p.BaseURL,
			Source:      source,
			Usable:      r.crypto.DecryptOrEmpty(cipher) != "",
		})
	}
	return out, nil
}

// Rotate re-encrypts every stored key with the current master key and
// returns how many were rewritten. Keys that no longer decrypt are left as is.
func (r *Resolver) Rotate(ctx context.Context) (int, error) {
	keys, err := r.keys.ListProviderKeys(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		enc, err := r.crypto.ReEncrypt(k.EncAPIKey)
		if err != nil {
			r.logger.Warn().Err(err).Str("provider", k.ProviderID).Msg("skip key rotation")
			continue
		}
		if err := r.keys.PutProviderKey(ctx, k.ProviderID, enc); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Resolver) ciphertext(ctx context.Context, p catalog.ProviderDescriptor) (string, KeySource, error) {
	if r.keys != nil {
		enc, err := r.keys.GetProviderKey(ctx, p.ID)
		switch {
		case err == nil && strings.TrimSpace(enc) != "":
			return enc, SourceStore, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return "", SourceNone, fmt.Errorf("load key for %q: %w", p.ID, err)
		}
	}
	if strings.TrimSpace(p.APIKeyCiphertext) != "" {
		return p.APIKeyCiphertext, SourceCatalog, nil
	}
	return "", SourceNone, nil
}
