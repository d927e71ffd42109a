// Package provider talks to OAuth 2.0 authorization servers on behalf of a
// credential: authorize URL construction, code exchange, refresh, userinfo
// and revocation. Provider differences (static endpoints or discovery,
// presence of userinfo or revocation) are driven by Config data.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"credential-authorizer/internal/metrics"
	"credential-authorizer/internal/scopes"
	"credential-authorizer/internal/token"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	opAuthorize = "authorize"
	opExchange  = "exchange_code"
	opRefresh   = "refresh"
	opUserinfo  = "userinfo"
	opRevoke    = "revoke"
	opDiscovery = "discovery"
	opJWKS      = "jwks"
	opIDToken   = "id_token"

	maxResponseBytes = 1 << 20
)

// Client performs the outbound calls of the authorization code grant.
// Calls block; callers run them off their event loop.
type Client struct {
	http        *http.Client
	discovery   *Discovery
	redirectURI string
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the time source used to absolutize token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client. redirectURI is used for configs that do not
// carry their own.
func NewClient(httpClient *http.Client, discovery *Discovery, redirectURI string, logger *zap.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if discovery == nil {
		discovery = NewDiscovery(httpClient, logger)
	}
	c := &Client{
		http:        httpClient,
		discovery:   discovery,
		redirectURI: redirectURI,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve fills in discovered endpoints. It must be called before a config
// is used for a flow when the config relies on discovery.
func (c *Client) Resolve(ctx context.Context, cfg *Config) (*Config, error) {
	return c.discovery.Resolve(ctx, cfg)
}

func (c *Client) redirectFor(cfg *Config) string {
	if cfg.RedirectURI != "" {
		return cfg.RedirectURI
	}
	return c.redirectURI
}

// BuildAuthorizeURL returns the URL the user is sent to for consent. The
// scope parameter is the selected scopes plus every mandatory scope and
// state carries the handoff token.
func (c *Client) BuildAuthorizeURL(cfg *Config, selected scopes.Set, state string) (string, error) {
	if cfg.AuthorizationEndpoint == "" {
		return "", &Error{Op: opAuthorize, Kind: KindMalformed, Err: errors.New("authorization endpoint is not resolved")}
	}
	requested := selected.Union(cfg.Mandatory())

	oc := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: c.redirectFor(cfg),
		Endpoint:    oauth2.Endpoint{AuthURL: cfg.AuthorizationEndpoint},
	}
	if len(requested) > 0 {
		oc.Scopes = requested.Slice()
	}

	var opts []oauth2.AuthCodeOption
	if cfg.AuthorizeParams == nil {
		opts = append(opts, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	}
	for k, v := range cfg.AuthorizeParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return oc.AuthCodeURL(state, opts...), nil
}

// ExchangeCode trades an authorization code for a token. When the provider
// does not echo the granted scopes, requested is recorded as granted.
func (c *Client) ExchangeCode(ctx context.Context, cfg *Config, code string, requested scopes.Set) (*token.Body, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectFor(cfg))

	body, err := c.postToken(ctx, opExchange, cfg, form)
	if err != nil {
		return nil, err
	}
	if body.Scope == "" {
		body.Scope = requested.Union(cfg.Mandatory()).String()
	}
	return body, nil
}

// Refresh obtains a new access token with the refresh token of tok. The
// result is the provider's answer only; callers merge it with tok.
func (c *Client) Refresh(ctx context.Context, cfg *Config, tok *token.Body) (*token.Body, error) {
	if !token.Renewable(tok) {
		return nil, &Error{Op: opRefresh, Kind: KindInvalidGrant, Err: errors.New("no refresh token")}
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)

	body, err := c.postToken(ctx, opRefresh, cfg, form)
	if err != nil {
		return nil, err
	}
	if body.Scope == "" {
		body.Scope = tok.Scope
	}
	return body, nil
}

func (c *Client) postToken(ctx context.Context, op string, cfg *Config, form url.Values) (body *token.Body, err error) {
	start := time.Now()
	defer func() { c.observe(op, err, time.Since(start)) }()

	if cfg.TokenEndpoint == "" {
		return nil, &Error{Op: op, Kind: KindMalformed, Err: errors.New("token endpoint is not resolved")}
	}
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	requestedAt := c.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Op: op, Kind: KindMalformed, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, decodeErr := decodeObject(resp.Body)

	if resp.StatusCode/100 != 2 {
		code, desc := oauthError(raw)
		return nil, &Error{
			Op:          op,
			Kind:        classify(op, resp.StatusCode, code),
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: desc,
		}
	}
	if decodeErr != nil {
		return nil, &Error{Op: op, Kind: KindMalformed, StatusCode: resp.StatusCode, Err: decodeErr}
	}
	// Some providers answer errors with 200 and an error body.
	if code, desc := oauthError(raw); code != "" {
		return nil, &Error{
			Op:          op,
			Kind:        classify(op, http.StatusBadRequest, code),
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: desc,
		}
	}

	body, err = token.FromProviderResponse(raw, requestedAt)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindMalformed, StatusCode: resp.StatusCode, Err: err}
	}
	if body.ExpiresAt == 0 && cfg.TokensNeverExpire {
		body.NoExpiry = true
	}
	return body, nil
}

// FetchUserinfo returns the profile of the token's owner. A config without a
// userinfo endpoint yields (nil, nil): not applicable rather than failed.
func (c *Client) FetchUserinfo(ctx context.Context, cfg *Config, tok *token.Body) (info map[string]any, err error) {
	if cfg.UserinfoEndpoint == "" {
		return nil, nil
	}
	start := time.Now()
	defer func() { c.observe(opUserinfo, err, time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserinfoEndpoint, nil)
	if err != nil {
		return nil, &Error{Op: opUserinfo, Kind: KindMalformed, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: opUserinfo, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, decodeErr := decodeObject(resp.Body)
	if resp.StatusCode/100 != 2 {
		code, desc := oauthError(raw)
		return nil, &Error{
			Op:          opUserinfo,
			Kind:        classify(opUserinfo, resp.StatusCode, code),
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: desc,
		}
	}
	if decodeErr != nil {
		return nil, &Error{Op: opUserinfo, Kind: KindMalformed, StatusCode: resp.StatusCode, Err: decodeErr}
	}
	return raw, nil
}

// Revoke invalidates tok at the provider. Without a revocation endpoint this
// is a successful no-op and no request is made.
func (c *Client) Revoke(ctx context.Context, cfg *Config, tok *token.Body) (err error) {
	if cfg.RevocationEndpoint == "" || tok == nil {
		return nil
	}
	start := time.Now()
	defer func() { c.observe(opRevoke, err, time.Since(start)) }()

	form := url.Values{}
	if token.Renewable(tok) {
		form.Set("token", tok.RefreshToken)
		form.Set("token_type_hint", "refresh_token")
	} else {
		form.Set("token", tok.AccessToken)
		form.Set("token_type_hint", "access_token")
	}
	form.Set("client_id", cfg.ClientID)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Op: opRevoke, Kind: KindMalformed, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: opRevoke, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := decodeObject(resp.Body)
		code, desc := oauthError(raw)
		return &Error{
			Op:          opRevoke,
			Kind:        classify(opRevoke, resp.StatusCode, code),
			StatusCode:  resp.StatusCode,
			Code:        code,
			Description: desc,
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return nil
}

// VerifyIDToken checks an OpenID Connect id_token against the provider's key
// set and returns its claims. Configs without a JWKS URI yield (nil, nil).
func (c *Client) VerifyIDToken(ctx context.Context, cfg *Config, raw string) (map[string]any, error) {
	if cfg.JWKSURI == "" || raw == "" {
		return nil, nil
	}
	set, err := c.discovery.KeySet(ctx, cfg.JWKSURI)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAudience(cfg.ClientID),
		jwt.WithAcceptableSkew(30 * time.Second),
		jwt.WithClock(jwt.ClockFunc(c.now)),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	parsed, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, &Error{Op: opIDToken, Kind: KindMalformed, Err: err}
	}
	claims, err := parsed.AsMap(ctx)
	if err != nil {
		return nil, &Error{Op: opIDToken, Kind: KindMalformed, Err: err}
	}
	return claims, nil
}

func (c *Client) observe(op string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		c.logger.Warn("Provider call failed", zap.String("op", op), zap.String("kind", outcome), zap.Error(err))
	}
	c.metrics.ProviderCall(op, outcome, elapsed)
}

func decodeObject(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxResponseBytes))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return raw, nil
}

func oauthError(raw map[string]any) (code, description string) {
	if raw == nil {
		return "", ""
	}
	code, _ = raw["error"].(string)
	description, _ = raw["error_description"].(string)
	return code, description
}
