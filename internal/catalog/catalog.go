// Package catalog holds the provider and model descriptors the client can
// talk to. A Catalog is loaded once at startup and passed explicitly to the
// components that need it; it is never mutated afterwards.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindChat          Kind = "chat"
	KindImageGenerate Kind = "image-generate"
	KindImageEdit     Kind = "image-edit"
)

// DefaultMaxOutputTokens applies when a model descriptor leaves the limit unset.
const DefaultMaxOutputTokens = 4096

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownModel    = errors.New("unknown model")
)

//go:embed default.yaml
var defaultCatalog []byte

type ProviderDescriptor struct {
	ID               string `yaml:"id" json:"id"`
	DisplayName      string `yaml:"display_name" json:"display_name"`
	BaseURL          string `yaml:"base_url" json:"base_url"`
	APIKeyCiphertext string `yaml:"api_key_ciphertext" json:"api_key_ciphertext,omitempty"`
	APIKeyEnv        string `yaml:"api_key_env" json:"api_key_env,omitempty"`
}

type Capabilities struct {
	SupportsImages bool `yaml:"supports_images" json:"supports_images"`
	Kind           Kind `yaml:"kind" json:"kind"`
}

type ModelDescriptor struct {
	ID              string       `yaml:"id" json:"id"`
	DisplayName     string       `yaml:"display_name" json:"display_name"`
	ProviderID      string       `yaml:"provider_id" json:"provider_id"`
	Capabilities    Capabilities `yaml:"capabilities" json:"capabilities"`
	MaxOutputTokens int          `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// OutputTokens returns the configured limit or DefaultMaxOutputTokens.
func (m ModelDescriptor) OutputTokens() int {
	if m.MaxOutputTokens > 0 {
		return m.MaxOutputTokens
	}
	return DefaultMaxOutputTokens
}

type Catalog struct {
	providers []ProviderDescriptor
	models    []ModelDescriptor
	provByID  map[string]int
	modelByID map[string]int
}

type document struct {
	Providers []ProviderDescriptor `yaml:"providers"`
	Models    []ModelDescriptor    `yaml:"models"`
}

// Load reads a YAML or JSON catalog file. An empty path selects the built-in
// catalog.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return build(doc.Providers, doc.Models)
}

func build(providers []ProviderDescriptor, models []ModelDescriptor) (*Catalog, error) {
	c := &Catalog{
		providers: make([]ProviderDescriptor, 0, len(providers)),
		models:    make([]ModelDescriptor, 0, len(models)),
		provByID:  make(map[string]int, len(providers)),
		modelByID: make(map[string]int, len(models)),
	}

	for _, p := range providers {
		p.ID = strings.TrimSpace(p.ID)
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		if p.ID == "" {
			return nil, fmt.Errorf("provider with empty id")
		}
		if _, dup := c.provByID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %q", p.ID)
		}
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("provider %q: base url must be an absolute http(s) url", p.ID)
		}
		if p.DisplayName == "" {
			p.DisplayName = p.ID
		}
		c.provByID[p.ID] = len(c.providers)
		c.providers = append(c.providers, p)
	}

	for _, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, fmt.Errorf("model with empty id")
		}
		if _, dup := c.modelByID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		if _, ok := c.provByID[m.ProviderID]; !ok {
			return nil, fmt.Errorf("model %q: %w %q", m.ID, ErrUnknownProvider, m.ProviderID)
		}
		switch m.Capabilities.Kind {
		case "":
			m.Capabilities.Kind = KindChat
		case KindChat, KindImageGenerate, KindImageEdit:
		default:
			return nil, fmt.Errorf("model %q: unsupported kind %q", m.ID, m.Capabilities.Kind)
		}
		if m.DisplayName == "" {
			m.DisplayName = m.ID
		}
		c.modelByID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}

	return c, nil
}

func (c *Catalog) Provider(id string) (ProviderDescriptor, bool) {
	i, ok := c.provByID[id]
	if !ok {
		return ProviderDescriptor{}, false
	}
	return c.providers[i], true
}

func (c *Catalog) Model(id string) (ModelDescriptor, bool) {
	i, ok := c.modelByID[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return c.models[i], true
}

func (c *Catalog) Providers() []ProviderDescriptor {
	out := make([]ProviderDescriptor, len(c.providers))
	copy(out, c.providers)
	return out
}

// Models lists models in catalog order. An empty kind lists every model.
func (c *Catalog) Models(kind Kind) []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(c.models))
	for _, m := range c.models {
		if kind == "" || m.Capabilities.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// WithEnvKeys returns a copy of the catalog where every provider naming an
// api_key_env variable that is set gets that value sealed into its
// APIKeyCiphertext.
func (c *Catalog) WithEnvKeys(encrypt func(string) (string, error), lookup func(string) (string, bool)) (*Catalog, error) {
	providers := c.Providers()
	for i, p := range providers {
		if p.APIKeyEnv == "" {
			continue
		}
		v, ok := lookup(p.APIKeyEnv)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		sealed, err := encrypt(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("seal %s: %w", p.APIKeyEnv, err)
		}
		providers[i].APIKeyCiphertext = sealed
	}
	return build(providers, c.Models(""))
}
