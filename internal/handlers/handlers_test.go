package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"credential-authorizer/internal/authorization"
	"credential-authorizer/internal/handlers"
	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/mocks"
	"credential-authorizer/internal/models"
	"credential-authorizer/internal/provider"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const flowPath = "/sessions/sid-1/flows/tab-1"

func setupFlowRouter() (*mux.Router, *mocks.MockFlowManager) {
	manager := new(mocks.MockFlowManager)
	router := mux.NewRouter()
	handlers.NewFlowHandler(manager, zap.NewNop()).Register(router)
	return router, manager
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestStartAndEndSession(t *testing.T) {
	router, manager := setupFlowRouter()
	manager.On("StartSession", mock.Anything).Return("sid-1", nil)
	manager.On("EndSession", "sid-1").Return(nil)
	manager.On("EndSession", "gone").Return(authorization.ErrUnknownSession)

	rr := serve(router, "POST", "/sessions", "")
	assert.Equal(t, http.StatusCreated, rr.Code)
	var resp models.SessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "sid-1", resp.SessionID)

	rr = serve(router, "DELETE", "/sessions/sid-1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(router, "DELETE", "/sessions/gone", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "UNKNOWN_SESSION", decodeError(t, rr).Error)

	manager.AssertExpectations(t)
}

func TestOpenFlow(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupMock  func(*mocks.MockFlowManager)
		wantStatus int
		wantError  string
	}{
		{
			name: "new credential",
			body: `{"provider_id":"google"}`,
			setupMock: func(m *mocks.MockFlowManager) {
				m.On("Open", mock.Anything, "sid-1", "tab-1", models.OpenFlowRequest{ProviderID: "google"}).
					Return(authorization.Snapshot{ProviderID: "google", State: authorization.StateIdle}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantError:  "INVALID_REQUEST",
		},
		{
			name:       "malformed body",
			body:       `{"provider_id":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "INVALID_REQUEST",
		},
		{
			name: "unknown credential",
			body: `{"credential_id":"c-404"}`,
			setupMock: func(m *mocks.MockFlowManager) {
				m.On("Open", mock.Anything, "sid-1", "tab-1", models.OpenFlowRequest{CredentialID: "c-404"}).
					Return(authorization.Snapshot{}, fmt.Errorf("%w: c-404", authorization.ErrCredentialNotFound))
			},
			wantStatus: http.StatusNotFound,
			wantError:  "CREDENTIAL_NOT_FOUND",
		},
		{
			name: "unknown provider",
			body: `{"provider_id":"nope"}`,
			setupMock: func(m *mocks.MockFlowManager) {
				m.On("Open", mock.Anything, "sid-1", "tab-1", models.OpenFlowRequest{ProviderID: "nope"}).
					Return(authorization.Snapshot{}, provider.ErrUnknownProvider)
			},
			wantStatus: http.StatusNotFound,
			wantError:  "UNKNOWN_PROVIDER",
		},
		{
			name: "discovery unreachable",
			body: `{"provider_id":"google"}`,
			setupMock: func(m *mocks.MockFlowManager) {
				m.On("Open", mock.Anything, "sid-1", "tab-1", models.OpenFlowRequest{ProviderID: "google"}).
					Return(authorization.Snapshot{}, &provider.Error{Op: "discovery", Kind: provider.KindTransport})
			},
			wantStatus: http.StatusBadGateway,
			wantError:  "PROVIDER_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, manager := setupFlowRouter()
			if tt.setupMock != nil {
				tt.setupMock(manager)
			}

			rr := serve(router, "PUT", flowPath, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeError(t, rr).Error)
			} else {
				var snap authorization.Snapshot
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
				assert.Equal(t, "google", snap.ProviderID)
			}
			manager.AssertExpectations(t)
		})
	}
}

func TestFlowEvents(t *testing.T) {
	tests := []struct {
		path  string
		body  string
		event authorization.Event
	}{
		{path: "/scopes", body: `{"scope":"email"}`, event: authorization.ToggleScope{Scope: "email"}},
		{path: "/authorize", event: authorization.RequestAuthorizeURL{}},
		{path: "/retry", event: authorization.Retry{}},
		{path: "/refresh", event: authorization.RefreshToken{}},
		{path: "/disconnect", event: authorization.Disconnect{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			router, manager := setupFlowRouter()
			manager.On("Dispatch", mock.Anything, "sid-1", "tab-1", tt.event).
				Return(authorization.Snapshot{State: authorization.StateAuthorizing, AuthorizeURL: "https://idp/authorize"}, nil)

			rr := serve(router, "POST", flowPath+tt.path, tt.body)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Body.String(), `"state":"authorizing"`)
			manager.AssertExpectations(t)
		})
	}
}

func TestFlowEventErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"busy", authorization.ErrBusy, http.StatusConflict, "FLOW_BUSY"},
		{"invalid", authorization.ErrInvalidEvent, http.StatusConflict, "INVALID_TRANSITION"},
		{"unknown flow", authorization.ErrUnknownFlow, http.StatusNotFound, "UNKNOWN_FLOW"},
		{"closed", authorization.ErrClosed, http.StatusNotFound, "UNKNOWN_FLOW"},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, manager := setupFlowRouter()
			manager.On("Dispatch", mock.Anything, "sid-1", "tab-1", authorization.Retry{}).
				Return(authorization.Snapshot{}, tt.err)

			rr := serve(router, "POST", flowPath+"/retry", "")
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rr).Error)
		})
	}
}

func TestToggleScopeRequiresScope(t *testing.T) {
	router, manager := setupFlowRouter()

	rr := serve(router, "POST", flowPath+"/scopes", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	manager.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSnapshotAndClose(t *testing.T) {
	router, manager := setupFlowRouter()
	manager.On("Snapshot", mock.Anything, "sid-1", "tab-1").
		Return(authorization.Snapshot{ProviderID: "google", State: authorization.StateComplete, CanSave: true}, nil)
	manager.On("Close", "sid-1", "tab-1").Return(nil).Once()
	manager.On("Close", "sid-1", "tab-1").Return(authorization.ErrUnknownFlow).Once()

	rr := serve(router, "GET", flowPath, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"can_save":true`)

	rr = serve(router, "DELETE", flowPath, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(router, "DELETE", flowPath, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	manager.AssertExpectations(t)
}

func TestSaveCredential(t *testing.T) {
	t.Run("Saved", func(t *testing.T) {
		router, manager := setupFlowRouter()
		manager.On("Save", mock.Anything, "sid-1", "tab-1", models.SaveRequest{Name: "Work"}).
			Return(&models.Credential{ID: "c-1", Name: "Work", ProviderID: "google", Scopes: []string{"openid"}}, nil)

		rr := serve(router, "POST", flowPath+"/save", `{"name":"Work"}`)
		assert.Equal(t, http.StatusOK, rr.Code)

		var cred models.Credential
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cred))
		assert.Equal(t, "c-1", cred.ID)
		assert.NotContains(t, rr.Body.String(), "token")
	})

	t.Run("Blocked", func(t *testing.T) {
		router, manager := setupFlowRouter()
		manager.On("Save", mock.Anything, "sid-1", "tab-1", models.SaveRequest{}).
			Return(nil, fmt.Errorf("%w: authorizing", authorization.ErrSaveBlocked))

		rr := serve(router, "POST", flowPath+"/save", "")
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "SAVE_BLOCKED", decodeError(t, rr).Error)
	})
}

func TestCallback(t *testing.T) {
	ref := &handoff.Ref{SessionID: "sid-1", HandlerRef: "hdl-1", ComponentRef: "tab-1"}

	tests := []struct {
		name       string
		query      string
		setupMock  func(*mocks.MockStateDecoder, *mocks.MockBroker)
		wantStatus int
		wantBody   string
	}{
		{
			name:  "code delivered",
			query: "?code=abc&state=good",
			setupMock: func(d *mocks.MockStateDecoder, b *mocks.MockBroker) {
				d.On("Decode", "good").Return(ref, nil)
				b.On("Publish", mock.Anything, "sid-1", "hdl-1", handoff.Payload{Code: "abc", Tab: "tab-1", State: "good"}).Return(nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   "You may close this window.",
		},
		{
			name:  "provider error delivered",
			query: "?error=access_denied&error_description=User+declined&state=good",
			setupMock: func(d *mocks.MockStateDecoder, b *mocks.MockBroker) {
				d.On("Decode", "good").Return(ref, nil)
				b.On("Publish", mock.Anything, "sid-1", "hdl-1", handoff.Payload{
					Error:            "access_denied",
					ErrorDescription: "User declined",
					Tab:              "tab-1",
					State:            "good",
				}).Return(nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   "Authorization denied",
		},
		{
			name:       "missing state",
			query:      "?code=abc",
			wantStatus: http.StatusBadRequest,
			wantBody:   "missing its state",
		},
		{
			name:  "expired state",
			query: "?code=abc&state=old",
			setupMock: func(d *mocks.MockStateDecoder, b *mocks.MockBroker) {
				d.On("Decode", "old").Return(nil, handoff.ErrExpired)
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   "has expired",
		},
		{
			name:  "forged state",
			query: "?code=abc&state=forged",
			setupMock: func(d *mocks.MockStateDecoder, b *mocks.MockBroker) {
				d.On("Decode", "forged").Return(nil, fmt.Errorf("%w: signature is invalid", handoff.ErrMalformed))
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   "is not valid",
		},
		{
			name:  "publish failure",
			query: "?code=abc&state=good",
			setupMock: func(d *mocks.MockStateDecoder, b *mocks.MockBroker) {
				d.On("Decode", "good").Return(ref, nil)
				b.On("Publish", mock.Anything, "sid-1", "hdl-1", mock.Anything).Return(errors.New("redis down"))
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "could not be delivered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder := new(mocks.MockStateDecoder)
			broker := new(mocks.MockBroker)
			if tt.setupMock != nil {
				tt.setupMock(decoder, broker)
			}
			handler := handlers.NewCallbackHandler(decoder, broker, zap.NewNop())

			req := httptest.NewRequest("GET", "/oauth/callback"+tt.query, nil)
			rr := httptest.NewRecorder()
			handler.HandleCallback(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
			assert.Contains(t, rr.Body.String(), tt.wantBody)
			decoder.AssertExpectations(t)
			broker.AssertExpectations(t)
		})
	}
}

func TestCallbackEscapesProviderInput(t *testing.T) {
	decoder := new(mocks.MockStateDecoder)
	broker := new(mocks.MockBroker)
	decoder.On("Decode", "s").Return(&handoff.Ref{SessionID: "a", HandlerRef: "b", ComponentRef: "c"}, nil)
	broker.On("Publish", mock.Anything, "a", "b", mock.Anything).Return(nil)

	handler := handlers.NewCallbackHandler(decoder, broker, zap.NewNop())
	req := httptest.NewRequest("GET", "/oauth/callback?state=s&error=%3Cscript%3E", nil)
	rr := httptest.NewRecorder()
	handler.HandleCallback(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "<script>")
}

func TestHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		db := new(mocks.MockPinger)
		db.On("Ping", mock.Anything).Return(nil)
		handler := handlers.NewHealthHandler(map[string]handlers.Pinger{"database": db}, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})

	t.Run("DependencyDown", func(t *testing.T) {
		cache := new(mocks.MockPinger)
		cache.On("Ping", mock.Anything).Return(errors.New("connection refused"))
		handler := handlers.NewHealthHandler(map[string]handlers.Pinger{"redis": cache}, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.HandleHealth(rr, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.JSONEq(t, `{"status":"redis unavailable"}`, rr.Body.String())
	})
}
