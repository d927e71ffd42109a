package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownProvider is returned when no config exists for an id.
var ErrUnknownProvider = errors.New("unknown provider")

// Catalog is a static set of provider configs loaded from YAML.
type Catalog struct {
	providers map[string]*Config
}

type catalogFile struct {
	Providers []*Config `yaml:"providers"`
}

// LoadCatalog reads a YAML catalogue of the form:
//
//	providers:
//	  - id: google
//	    client_id: ...
//	    discovery_url: https://accounts.google.com/.well-known/openid-configuration
//	    mandatory_scopes: [openid, email]
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalogue and validates every entry.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}

	c := &Catalog{providers: make(map[string]*Config, len(file.Providers))}
	for _, cfg := range file.Providers {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.providers[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate provider id %q", ErrInvalidConfig, cfg.ID)
		}
		cfg.ClientSecret = os.ExpandEnv(cfg.ClientSecret)
		c.providers[cfg.ID] = cfg
	}
	return c, nil
}

// ProviderConfig returns a copy of the config registered under id.
func (c *Catalog) ProviderConfig(_ context.Context, id string) (*Config, error) {
	cfg, ok := c.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return cfg.Clone(), nil
}

// IDs lists the registered provider ids in lexical order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.providers))
	for id := range c.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Source looks up provider configs by id.
type Source interface {
	ProviderConfig(ctx context.Context, id string) (*Config, error)
}

// Chain consults sources in order. A source answering ErrUnknownProvider
// defers to the next one.
type Chain []Source

// ProviderConfig returns the first config found.
func (c Chain) ProviderConfig(ctx context.Context, id string) (*Config, error) {
	for _, src := range c {
		cfg, err := src.ProviderConfig(ctx, id)
		if errors.Is(err, ErrUnknownProvider) {
			continue
		}
		return cfg, err
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
}
