package authorization_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"credential-authorizer/internal/authorization"
	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/metrics"
	"credential-authorizer/internal/mocks"
	"credential-authorizer/internal/models"
	"credential-authorizer/internal/provider"
	"credential-authorizer/internal/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider is an authorization server that accepts one code.
type fakeProvider struct {
	srv           *httptest.Server
	issueRefresh  bool
	validCode     string
	exchangeCalls int32
	userinfoCalls int32
}

func newFakeProvider(t *testing.T, issueRefresh bool) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{issueRefresh: issueRefresh, validCode: "good-code"}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fp.exchangeCalls, 1)
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != fp.validCode {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		resp := map[string]any{"access_token": "access-1", "token_type": "Bearer", "expires_in": 3600, "scope": "openid calendar"}
		if fp.issueRefresh {
			resp["refresh_token"] = "refresh-1"
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fp.userinfoCalls, 1)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"email": "ada@example.com"})
	})
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) config() *provider.Config {
	return &provider.Config{
		ID:                    "acme",
		ClientID:              "client-1",
		ClientSecret:          "secret-1",
		AuthorizationEndpoint: fp.srv.URL + "/authorize",
		TokenEndpoint:         fp.srv.URL + "/token",
		UserinfoEndpoint:      fp.srv.URL + "/userinfo",
		MandatoryScopes:       []string{"openid"},
		OptionalScopes:        []string{"calendar"},
	}
}

type managerFixture struct {
	manager   *authorization.Manager
	broker    *handoff.MemoryBroker
	codec     *handoff.Codec
	repo      *mocks.MockRepository
	providers *mocks.MockProviderSource
	metrics   *metrics.Metrics
}

func newManagerFixture(t *testing.T, fp *fakeProvider) *managerFixture {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	codec, err := handoff.NewCodec(secret, time.Minute)
	require.NoError(t, err)

	f := &managerFixture{
		broker:    handoff.NewMemoryBroker(m, zap.NewNop()),
		codec:     codec,
		repo:      new(mocks.MockRepository),
		providers: new(mocks.MockProviderSource),
		metrics:   m,
	}
	f.providers.On("ProviderConfig", mock.Anything, "acme").Return(fp.config(), nil)

	client := provider.NewClient(fp.srv.Client(), nil, "https://app.example.com/oauth/callback", zap.NewNop())
	f.manager = authorization.NewManager(f.repo, f.providers, client, codec, f.broker, zap.NewNop(),
		authorization.WithManagerMetrics(m),
		authorization.WithAuthorizeTimeout(time.Minute))
	t.Cleanup(f.manager.Shutdown)
	return f
}

// redirect plays the callback endpoint: it decodes the state from the
// authorize URL and publishes the outcome.
func (f *managerFixture) redirect(t *testing.T, authorizeURL string, params url.Values) {
	t.Helper()
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	flow, err := f.codec.Decode(state)
	require.NoError(t, err)

	payload := handoff.Payload{
		Code:  params.Get("code"),
		Error: params.Get("error"),
		Tab:   flow.ComponentRef,
		State: state,
	}
	require.NoError(t, f.broker.Publish(context.Background(), flow.SessionID, flow.HandlerRef, payload))
}

func (f *managerFixture) waitFor(t *testing.T, sessionID, componentRef string, want authorization.State) authorization.Snapshot {
	t.Helper()
	var snap authorization.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = f.manager.Snapshot(context.Background(), sessionID, componentRef)
		return err == nil && snap.State == want
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestManagerEndToEnd(t *testing.T) {
	fp := newFakeProvider(t, true)
	f := newManagerFixture(t, fp)
	ctx := context.Background()

	sid, err := f.manager.StartSession(ctx)
	require.NoError(t, err)

	snap, err := f.manager.Open(ctx, sid, "editor-1", models.OpenFlowRequest{ProviderID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, authorization.StateIdle, snap.State)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActiveFlows))

	snap, err = f.manager.Dispatch(ctx, sid, "editor-1", authorization.ToggleScope{Scope: "calendar"})
	require.NoError(t, err)
	snap, err = f.manager.Dispatch(ctx, sid, "editor-1", authorization.RequestAuthorizeURL{})
	require.NoError(t, err)
	require.Equal(t, authorization.StateAuthorizing, snap.State)

	authURL, err := url.Parse(snap.AuthorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "calendar openid", authURL.Query().Get("scope"))
	assert.Equal(t, "offline", authURL.Query().Get("access_type"))

	f.redirect(t, snap.AuthorizeURL, url.Values{"code": {"good-code"}})
	snap = f.waitFor(t, sid, "editor-1", authorization.StateComplete)
	assert.Equal(t, "ada@example.com", snap.Userinfo["email"])
	assert.True(t, snap.CanSave)

	f.repo.On("SaveCredential", mock.Anything, mock.MatchedBy(func(c *models.Credential) bool {
		return c.ProviderID == "acme" && c.Name == "Work calendar" &&
			c.Token != nil && c.Token.RefreshToken == "refresh-1" &&
			len(c.Scopes) == 2
	})).Return(nil).Once()

	saved, err := f.manager.Save(ctx, sid, "editor-1", models.SaveRequest{Name: "Work calendar"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	snap, err = f.manager.Snapshot(ctx, sid, "editor-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, snap.CredentialID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HandoffMessages.WithLabelValues("delivered")))
	f.repo.AssertExpectations(t)
}

func TestManagerSaveBlockedWithoutRefreshToken(t *testing.T) {
	fp := newFakeProvider(t, false)
	f := newManagerFixture(t, fp)
	ctx := context.Background()

	sid, err := f.manager.StartSession(ctx)
	require.NoError(t, err)
	_, err = f.manager.Open(ctx, sid, "editor", models.OpenFlowRequest{ProviderID: "acme"})
	require.NoError(t, err)
	snap, err := f.manager.Dispatch(ctx, sid, "editor", authorization.RequestAuthorizeURL{})
	require.NoError(t, err)

	f.redirect(t, snap.AuthorizeURL, url.Values{"code": {"good-code"}})
	snap = f.waitFor(t, sid, "editor", authorization.StateError)
	assert.Equal(t, authorization.KindMissingRefreshToken, snap.Error.Kind)

	_, err = f.manager.Save(ctx, sid, "editor", models.SaveRequest{})
	assert.ErrorIs(t, err, authorization.ErrSaveBlocked)
	f.repo.AssertNotCalled(t, "SaveCredential", mock.Anything, mock.Anything)
}

func TestManagerDropsStaleAndUnroutedCallbacks(t *testing.T) {
	fp := newFakeProvider(t, true)
	f := newManagerFixture(t, fp)
	ctx := context.Background()

	sid, err := f.manager.StartSession(ctx)
	require.NoError(t, err)
	_, err = f.manager.Open(ctx, sid, "editor", models.OpenFlowRequest{ProviderID: "acme"})
	require.NoError(t, err)

	first, err := f.manager.Dispatch(ctx, sid, "editor", authorization.RequestAuthorizeURL{})
	require.NoError(t, err)
	second, err := f.manager.Dispatch(ctx, sid, "editor", authorization.RequestAuthorizeURL{})
	require.NoError(t, err)

	f.redirect(t, first.AuthorizeURL, url.Values{"code": {"good-code"}})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.HandoffMessages.WithLabelValues("stale")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	snap, err := f.manager.Snapshot(ctx, sid, "editor")
	require.NoError(t, err)
	assert.Equal(t, authorization.StateAuthorizing, snap.State)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fp.exchangeCalls))

	require.NoError(t, f.manager.Close(sid, "editor"))
	f.redirect(t, second.AuthorizeURL, url.Values{"code": {"good-code"}})
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HandoffMessages.WithLabelValues("unrouted")))

	require.NoError(t, f.manager.EndSession(sid))
	f.redirect(t, second.AuthorizeURL, url.Values{"code": {"good-code"}})
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HandoffMessages.WithLabelValues("dropped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveFlows))
}

func TestManagerOpenStoredCredential(t *testing.T) {
	fp := newFakeProvider(t, true)
	f := newManagerFixture(t, fp)
	ctx := context.Background()

	stored := &models.Credential{
		ID:         "cred-1",
		Name:       "Stored",
		ProviderID: "acme",
		Scopes:     []string{"openid"},
		Token:      validTokenAt(time.Now(), "openid"),
	}
	f.repo.On("GetCredential", mock.Anything, "cred-1").Return(stored, nil)
	f.repo.On("GetCredential", mock.Anything, "missing").Return(nil, nil)

	sid, err := f.manager.StartSession(ctx)
	require.NoError(t, err)

	snap, err := f.manager.Open(ctx, sid, "editor", models.OpenFlowRequest{CredentialID: "cred-1"})
	require.NoError(t, err)
	assert.Equal(t, authorization.StateComplete, snap.State)
	assert.Equal(t, "cred-1", snap.CredentialID)

	_, err = f.manager.Open(ctx, sid, "other", models.OpenFlowRequest{CredentialID: "missing"})
	assert.ErrorIs(t, err, authorization.ErrCredentialNotFound)

	_, err = f.manager.Open(ctx, "no-such-session", "editor", models.OpenFlowRequest{ProviderID: "acme"})
	assert.ErrorIs(t, err, authorization.ErrUnknownSession)

	_, err = f.manager.Dispatch(ctx, sid, "nope", authorization.Retry{})
	assert.ErrorIs(t, err, authorization.ErrUnknownFlow)
}

func validTokenAt(at time.Time, scope string) *token.Body {
	return &token.Body{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    at.Add(time.Hour).Unix(),
		Scope:        scope,
	}
}
