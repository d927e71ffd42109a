// Package token models the OAuth token body persisted with a credential.
package token

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"credential-authorizer/internal/scopes"
)

// ErrMalformed is returned when a provider response cannot be turned into a
// token body.
var ErrMalformed = errors.New("malformed token response")

// Body is a persisted OAuth token. It is replaced wholesale on refresh and is
// never mutated field by field.
type Body struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	// ExpiresAt is an absolute Unix timestamp. Zero means the provider did
	// not report an expiry.
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Scope     string `json:"scope,omitempty"`
	// NoExpiry marks tokens from providers whose contract states that access
	// tokens do not expire.
	NoExpiry bool           `json:"no_expiry,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Expired reports whether the token is unusable at now. A token without an
// expiry is expired unless it is explicitly marked as never expiring.
func Expired(b *Body, now time.Time) bool {
	if b == nil {
		return true
	}
	if b.ExpiresAt == 0 {
		return !b.NoExpiry
	}
	return b.ExpiresAt <= now.Unix()
}

// Renewable reports whether the token can be refreshed without user action.
func Renewable(b *Body) bool {
	return b != nil && strings.TrimSpace(b.RefreshToken) != ""
}

// Granted returns the scopes recorded on the token.
func Granted(b *Body) scopes.Set {
	if b == nil {
		return scopes.Set{}
	}
	return scopes.Normalize(b.Scope)
}

var knownFields = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"token_type":    {},
	"expires_in":    {},
	"expires_at":    {},
	"scope":         {},
}

// FromProviderResponse builds a body from a decoded token endpoint response.
// requestedAt is the time the request was issued; a relative expires_in is
// converted to an absolute expiry against it, while expires_at is taken as
// already absolute.
func FromProviderResponse(raw map[string]any, requestedAt time.Time) (*Body, error) {
	if raw == nil {
		return nil, ErrMalformed
	}
	access, ok := raw["access_token"].(string)
	if !ok || strings.TrimSpace(access) == "" {
		return nil, ErrMalformed
	}

	body := &Body{
		AccessToken:  access,
		RefreshToken: stringField(raw, "refresh_token"),
		TokenType:    stringField(raw, "token_type"),
		Scope:        scopes.Normalize(raw["scope"]).String(),
	}

	if v, present := raw["expires_at"]; present && v != nil {
		at, ok := integer(v)
		if !ok {
			return nil, ErrMalformed
		}
		body.ExpiresAt = at
	} else if v, present := raw["expires_in"]; present && v != nil {
		in, ok := integer(v)
		if !ok {
			return nil, ErrMalformed
		}
		body.ExpiresAt = requestedAt.Unix() + in
	}

	for k, v := range raw {
		if _, known := knownFields[k]; known {
			continue
		}
		if body.Extra == nil {
			body.Extra = make(map[string]any)
		}
		body.Extra[k] = v
	}

	return body, nil
}

// MergeRefresh combines a refreshed token with the one it replaces. Providers
// that do not rotate refresh tokens omit them from refresh responses, in which
// case the previous refresh token is kept.
func MergeRefresh(old, refreshed *Body) *Body {
	if refreshed == nil {
		return old
	}
	merged := *refreshed
	if strings.TrimSpace(merged.RefreshToken) == "" && old != nil {
		merged.RefreshToken = old.RefreshToken
	}
	return &merged
}

// IDToken returns the raw OpenID Connect id_token carried in the extras.
func IDToken(b *Body) string {
	if b == nil || b.Extra == nil {
		return ""
	}
	s, _ := b.Extra["id_token"].(string)
	return s
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// integer accepts the numeric shapes seen from providers: JSON numbers,
// json.Number and numeric strings.
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
