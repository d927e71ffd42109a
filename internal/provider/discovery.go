package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const jwksTTL = time.Hour

// Document is the subset of an OpenID/OAuth authorization server metadata
// document the authorizer uses.
type Document struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	RevocationEndpoint    string   `json:"revocation_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	ScopesSupported       []string `json:"scopes_supported"`
}

// Discovery resolves well-known documents. Documents are cached for the life
// of the process; concurrent lookups of the same URL share one request.
type Discovery struct {
	http   *http.Client
	docs   *gocache.Cache
	keys   *gocache.Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewDiscovery creates a resolver using httpClient for outbound requests.
func NewDiscovery(httpClient *http.Client, logger *zap.Logger) *Discovery {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discovery{
		http:   httpClient,
		docs:   gocache.New(gocache.NoExpiration, 0),
		keys:   gocache.New(jwksTTL, 10*time.Minute),
		logger: logger,
	}
}

// Document fetches (or returns the cached) metadata document at url.
func (d *Discovery) Document(ctx context.Context, url string) (*Document, error) {
	if cached, ok := d.docs.Get(url); ok {
		return cached.(*Document), nil
	}

	v, err, _ := d.group.Do("doc:"+url, func() (any, error) {
		doc, err := d.fetchDocument(context.WithoutCancel(ctx), url)
		if err != nil {
			return nil, err
		}
		d.docs.Set(url, doc, gocache.NoExpiration)
		d.logger.Info("Resolved provider discovery document",
			zap.String("discovery_url", url),
			zap.String("issuer", doc.Issuer))
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

func (d *Discovery) fetchDocument(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Op: opDiscovery, Kind: KindMalformed, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, &Error{Op: opDiscovery, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &Error{Op: opDiscovery, Kind: classify(opDiscovery, resp.StatusCode, ""), StatusCode: resp.StatusCode}
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &Error{Op: opDiscovery, Kind: KindMalformed, StatusCode: resp.StatusCode, Err: err}
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, &Error{Op: opDiscovery, Kind: KindMalformed, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("document at %s lacks authorization or token endpoint", url)}
	}
	return &doc, nil
}

// Resolve returns a copy of cfg with endpoints filled in from its discovery
// document. Endpoints set statically on cfg take precedence.
func (d *Discovery) Resolve(ctx context.Context, cfg *Config) (*Config, error) {
	out := cfg.Clone()
	if cfg.DiscoveryURL == "" {
		return out, nil
	}

	doc, err := d.Document(ctx, cfg.DiscoveryURL)
	if err != nil {
		return nil, err
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&out.AuthorizationEndpoint, doc.AuthorizationEndpoint)
	fill(&out.TokenEndpoint, doc.TokenEndpoint)
	fill(&out.UserinfoEndpoint, doc.UserinfoEndpoint)
	fill(&out.RevocationEndpoint, doc.RevocationEndpoint)
	fill(&out.JWKSURI, doc.JWKSURI)
	fill(&out.Issuer, doc.Issuer)
	return out, nil
}

// Forget drops a cached document so that the next lookup refetches it.
func (d *Discovery) Forget(url string) {
	d.docs.Delete(url)
}

// KeySet returns the JSON Web Key Set published at uri, cached for an hour.
func (d *Discovery) KeySet(ctx context.Context, uri string) (jwk.Set, error) {
	if cached, ok := d.keys.Get(uri); ok {
		return cached.(jwk.Set), nil
	}

	v, err, _ := d.group.Do("jwks:"+uri, func() (any, error) {
		set, err := jwk.Fetch(context.WithoutCancel(ctx), uri, jwk.WithHTTPClient(d.http))
		if err != nil {
			return nil, &Error{Op: opJWKS, Kind: KindTransport, Err: err}
		}
		d.keys.SetDefault(uri, set)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}
