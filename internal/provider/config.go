package provider

import (
	"errors"
	"fmt"
	"strings"

	"credential-authorizer/internal/scopes"
)

// Config describes one OAuth client registration. It is shared read-only by
// every flow that uses the provider.
type Config struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	RedirectURI  string `yaml:"redirect_uri" json:"redirect_uri,omitempty"`

	AuthorizationEndpoint string `yaml:"authorization_endpoint" json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `yaml:"token_endpoint" json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string `yaml:"userinfo_endpoint" json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint    string `yaml:"revocation_endpoint" json:"revocation_endpoint,omitempty"`
	JWKSURI               string `yaml:"jwks_uri" json:"jwks_uri,omitempty"`
	Issuer                string `yaml:"issuer" json:"issuer,omitempty"`
	DiscoveryURL          string `yaml:"discovery_url" json:"discovery_url,omitempty"`

	MandatoryScopes []string `yaml:"mandatory_scopes" json:"mandatory_scopes,omitempty"`
	OptionalScopes  []string `yaml:"optional_scopes" json:"optional_scopes,omitempty"`

	// AuthorizeParams are extra query parameters added to the authorize URL.
	// When nil, access_type=offline and prompt=consent are sent so that
	// providers issue refresh tokens.
	AuthorizeParams map[string]string `yaml:"authorize_params" json:"authorize_params,omitempty"`

	// TokensNeverExpire states that access tokens without an expiry are
	// valid indefinitely.
	TokensNeverExpire bool `yaml:"tokens_never_expire" json:"tokens_never_expire,omitempty"`
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid provider config")

// Validate checks that the config can drive a flow, either through static
// endpoints or through discovery.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("%w: %s: client_id is required", ErrInvalidConfig, c.ID)
	}
	if c.DiscoveryURL == "" && (c.AuthorizationEndpoint == "" || c.TokenEndpoint == "") {
		return fmt.Errorf("%w: %s: discovery_url or authorization_endpoint and token_endpoint are required", ErrInvalidConfig, c.ID)
	}
	return nil
}

// Mandatory returns the mandatory scopes as a set.
func (c *Config) Mandatory() scopes.Set {
	return scopes.Normalize(c.MandatoryScopes)
}

// Optional returns the optional scopes as a set.
func (c *Config) Optional() scopes.Set {
	return scopes.Normalize(c.OptionalScopes)
}

// Resolved reports whether every endpoint needed for the code grant is known.
func (c *Config) Resolved() bool {
	return c.AuthorizationEndpoint != "" && c.TokenEndpoint != ""
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.MandatoryScopes = append([]string(nil), c.MandatoryScopes...)
	out.OptionalScopes = append([]string(nil), c.OptionalScopes...)
	if c.AuthorizeParams != nil {
		out.AuthorizeParams = make(map[string]string, len(c.AuthorizeParams))
		for k, v := range c.AuthorizeParams {
			out.AuthorizeParams[k] = v
		}
	}
	return &out
}
