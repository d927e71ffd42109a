package token_test

import (
	"encoding/json"
	"testing"
	"time"

	"credential-authorizer/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromProviderResponse_ExpiresIn(t *testing.T) {
	requestedAt := time.Unix(1_700_000_000, 0)
	body, err := token.FromProviderResponse(map[string]any{
		"access_token":  "at",
		"refresh_token": "rt",
		"token_type":    "Bearer",
		"expires_in":    float64(3600),
		"scope":         "read write",
	}, requestedAt)
	require.NoError(t, err)

	assert.Equal(t, requestedAt.Unix()+3600, body.ExpiresAt)
	assert.Equal(t, "rt", body.RefreshToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, "read write", body.Scope)
	assert.Nil(t, body.Extra)
}

func TestFromProviderResponse_ExpiresAt(t *testing.T) {
	body, err := token.FromProviderResponse(map[string]any{
		"access_token": "at",
		"expires_at":   float64(1_800_000_000),
	}, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1_800_000_000), body.ExpiresAt)
}

func TestFromProviderResponse_NumericShapes(t *testing.T) {
	requestedAt := time.Unix(1_000, 0)

	body, err := token.FromProviderResponse(map[string]any{"access_token": "at", "expires_in": "60"}, requestedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1_060), body.ExpiresAt)

	body, err = token.FromProviderResponse(map[string]any{"access_token": "at", "expires_in": json.Number("120")}, requestedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1_120), body.ExpiresAt)
}

func TestFromProviderResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{name: "nil", raw: nil},
		{name: "missing access token", raw: map[string]any{"token_type": "Bearer"}},
		{name: "empty access token", raw: map[string]any{"access_token": "  "}},
		{name: "non string access token", raw: map[string]any{"access_token": 12}},
		{name: "bad expires_in", raw: map[string]any{"access_token": "at", "expires_in": "soon"}},
		{name: "bad expires_at", raw: map[string]any{"access_token": "at", "expires_at": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := token.FromProviderResponse(tt.raw, time.Now())
			assert.ErrorIs(t, err, token.ErrMalformed)
		})
	}
}

func TestFromProviderResponse_KeepsExtras(t *testing.T) {
	body, err := token.FromProviderResponse(map[string]any{
		"access_token": "at",
		"id_token":     "header.payload.sig",
		"instance_url": "https://example.my.salesforce.com",
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "header.payload.sig", token.IDToken(body))
	assert.Equal(t, "https://example.my.salesforce.com", body.Extra["instance_url"])
}

func TestExpired(t *testing.T) {
	now := time.Unix(2_000, 0)

	assert.True(t, token.Expired(nil, now))
	assert.True(t, token.Expired(&token.Body{AccessToken: "at", ExpiresAt: 2_000}, now))
	assert.True(t, token.Expired(&token.Body{AccessToken: "at", ExpiresAt: 1_999}, now))
	assert.False(t, token.Expired(&token.Body{AccessToken: "at", ExpiresAt: 2_001}, now))
	assert.True(t, token.Expired(&token.Body{AccessToken: "at"}, now), "missing expiry is expired")
	assert.False(t, token.Expired(&token.Body{AccessToken: "at", NoExpiry: true}, now))
}

func TestRenewable(t *testing.T) {
	assert.False(t, token.Renewable(nil))
	assert.False(t, token.Renewable(&token.Body{AccessToken: "at"}))
	assert.True(t, token.Renewable(&token.Body{AccessToken: "at", RefreshToken: "rt"}))
}

func TestMergeRefresh(t *testing.T) {
	old := &token.Body{AccessToken: "old-at", RefreshToken: "old-rt", Scope: "read", ExpiresAt: 10}

	merged := token.MergeRefresh(old, &token.Body{AccessToken: "new-at", ExpiresAt: 20})
	assert.Equal(t, "old-rt", merged.RefreshToken)
	assert.Equal(t, "new-at", merged.AccessToken)
	assert.Equal(t, int64(20), merged.ExpiresAt)
	assert.Empty(t, merged.Scope, "fields other than the refresh token are replaced wholesale")

	rotated := token.MergeRefresh(old, &token.Body{AccessToken: "new-at", RefreshToken: "new-rt"})
	assert.Equal(t, "new-rt", rotated.RefreshToken)

	assert.Equal(t, "old-rt", old.RefreshToken)
	assert.Equal(t, "old-at", old.AccessToken)
}

func TestBodyJSON(t *testing.T) {
	body := token.Body{AccessToken: "at", RefreshToken: "rt", ExpiresAt: 42, Scope: "a b"}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"at","refresh_token":"rt","expires_at":42,"scope":"a b"}`, string(data))
}
