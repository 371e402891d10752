package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"prism/internal/catalog"
	"prism/internal/crypto"
	"prism/internal/providers"
	"prism/internal/storage"
)

const testCatalog = `
providers:
  - id: openai
    display_name: OpenAI
    base_url: https://api.openai.com/v1/
  - id: broken
    base_url: https://broken.example/v1
    api_key_ciphertext: "not-a-ciphertext"
models:
  - id: gpt-4o-mini
    provider_id: openai
`

func newResolver(t *testing.T) (*Resolver, *storage.Store, *crypto.Manager) {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	mgr, err := crypto.NewManagerWithBuiltin("", nil)
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	st, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "prism.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(Config{Catalog: cat, Keys: st, Crypto: mgr, Logger: zerolog.Nop()}), st, mgr
}

func TestResolveUnknownProvider(t *testing.T) {
	r, _, _ := newResolver(t)
	if _, err := r.Resolve(context.Background(), "nope"); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestResolveWithoutKey(t *testing.T) {
	r, _, _ := newResolver(t)
	ep, err := r.Resolve(context.Background(), "openai")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.BaseURL != "https://api.openai.com/v1" || ep.APIKey != "" {
		t.Fatalf("unexpected endpoint %+v", ep)
	}
	if _, err := r.Require(context.Background(), "openai"); !errors.Is(err, providers.ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestBadCiphertextDegradesToEmpty(t *testing.T) {
	r, _, _ := newResolver(t)
	ep, err := r.Resolve(context.Background(), "broken")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.APIKey != "" {
		t.Fatalf("expected empty key, got %q", ep.APIKey)
	}
	if _, err := r.ResolveStrict(context.Background(), "broken"); !errors.Is(err, crypto.ErrBadCiphertext) {
		t.Fatalf("expected ErrBadCiphertext from strict resolve, got %v", err)
	}
}

func TestSetKeyTakesPrecedence(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()

	if err := r.SetKey(ctx, "broken", "sk-user"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	enc, err := st.GetProviderKey(ctx, "broken")
	if err != nil {
		t.Fatalf("get stored key: %v", err)
	}
	if enc == "sk-user" {
		t.Fatalf("key must be stored encrypted")
	}

	ep, err := r.Require(ctx, "broken")
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if ep.APIKey != "sk-user" {
		t.Fatalf("expected stored key, got %q", ep.APIKey)
	}

	status, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, s := range status {
		switch s.ProviderID {
		case "broken":
			if !s.Usable || s.Source != SourceStore {
				t.Fatalf("unexpected status %+v", s)
			}
		case "openai":
			if s.Usable || s.Source != SourceNone {
				t.Fatalf("unexpected status %+v", s)
			}
		}
	}

	if err := r.DeleteKey(ctx, "broken"); err != nil {
		t.Fatalf("delete key: %v", err)
	}
	if err := r.DeleteKey(ctx, "broken"); err != nil {
		t.Fatalf("deleting a missing key must be a no-op: %v", err)
	}
	ep, err = r.Resolve(ctx, "broken")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.APIKey != "" {
		t.Fatalf("catalog ciphertext should apply again, got %q", ep.APIKey)
	}
}

func TestRotate(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()
	if err := r.SetKey(ctx, "openai", "sk-rotate"); err != nil {
		t.Fatalf("set key: %v", err)
	}

	mgr, err := crypto.NewManagerWithBuiltin("k2", map[string][]byte{"k2": []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}
	r.crypto = mgr
	n, err := r.Rotate(ctx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one rotated key, got %d", n)
	}
	enc, err := st.GetProviderKey(ctx, "openai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got, err := mgr.DecryptString(enc); err != nil || got != "sk-rotate" {
		t.Fatalf("rotated key must decrypt: %q %v", got, err)
	}
}
