package mocks

import (
	"context"
	"time"

	"credential-authorizer/internal/authorization"
	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/models"
	"credential-authorizer/internal/provider"
	"credential-authorizer/internal/scopes"
	"credential-authorizer/internal/token"

	"github.com/stretchr/testify/mock"
)

// MockRepository is a mock implementation of authorization.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}

func (m *MockRepository) SaveCredential(ctx context.Context, cred *models.Credential) error {
	args := m.Called(ctx, cred)
	return args.Error(0)
}

// MockProviderSource is a mock implementation of authorization.ProviderSource
type MockProviderSource struct {
	mock.Mock
}

func (m *MockProviderSource) ProviderConfig(ctx context.Context, id string) (*provider.Config, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Config), args.Error(1)
}

// MockProviderClient is a mock implementation of authorization.ProviderClient
type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) Resolve(ctx context.Context, cfg *provider.Config) (*provider.Config, error) {
	args := m.Called(ctx, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Config), args.Error(1)
}

func (m *MockProviderClient) BuildAuthorizeURL(cfg *provider.Config, selected scopes.Set, state string) (string, error) {
	args := m.Called(cfg, selected, state)
	return args.String(0), args.Error(1)
}

func (m *MockProviderClient) ExchangeCode(ctx context.Context, cfg *provider.Config, code string, requested scopes.Set) (*token.Body, error) {
	args := m.Called(ctx, cfg, code, requested)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*token.Body), args.Error(1)
}

func (m *MockProviderClient) Refresh(ctx context.Context, cfg *provider.Config, tok *token.Body) (*token.Body, error) {
	args := m.Called(ctx, cfg, tok)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*token.Body), args.Error(1)
}

func (m *MockProviderClient) FetchUserinfo(ctx context.Context, cfg *provider.Config, tok *token.Body) (map[string]any, error) {
	args := m.Called(ctx, cfg, tok)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockProviderClient) Revoke(ctx context.Context, cfg *provider.Config, tok *token.Body) error {
	args := m.Called(ctx, cfg, tok)
	return args.Error(0)
}

func (m *MockProviderClient) VerifyIDToken(ctx context.Context, cfg *provider.Config, raw string) (map[string]any, error) {
	args := m.Called(ctx, cfg, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

// MockRateLimiter is a mock implementation of middleware.RateLimiter
type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// MockBroker is a mock implementation of handoff.Broker
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Subscribe(sessionID string, fn func(handoff.Message)) (func(), error) {
	args := m.Called(sessionID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func (m *MockBroker) Publish(ctx context.Context, sessionID, handlerRef string, payload handoff.Payload) error {
	args := m.Called(ctx, sessionID, handlerRef, payload)
	return args.Error(0)
}

// MockFlowManager is a mock implementation of handlers.FlowManager
type MockFlowManager struct {
	mock.Mock
}

func (m *MockFlowManager) StartSession(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockFlowManager) EndSession(sessionID string) error {
	args := m.Called(sessionID)
	return args.Error(0)
}

func (m *MockFlowManager) Open(ctx context.Context, sessionID, componentRef string, req models.OpenFlowRequest) (authorization.Snapshot, error) {
	args := m.Called(ctx, sessionID, componentRef, req)
	return args.Get(0).(authorization.Snapshot), args.Error(1)
}

func (m *MockFlowManager) Dispatch(ctx context.Context, sessionID, componentRef string, ev authorization.Event) (authorization.Snapshot, error) {
	args := m.Called(ctx, sessionID, componentRef, ev)
	return args.Get(0).(authorization.Snapshot), args.Error(1)
}

func (m *MockFlowManager) Snapshot(ctx context.Context, sessionID, componentRef string) (authorization.Snapshot, error) {
	args := m.Called(ctx, sessionID, componentRef)
	return args.Get(0).(authorization.Snapshot), args.Error(1)
}

func (m *MockFlowManager) Save(ctx context.Context, sessionID, componentRef string, req models.SaveRequest) (*models.Credential, error) {
	args := m.Called(ctx, sessionID, componentRef, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}

func (m *MockFlowManager) Close(sessionID, componentRef string) error {
	args := m.Called(sessionID, componentRef)
	return args.Error(0)
}

// MockStateDecoder is a mock implementation of handlers.StateDecoder
type MockStateDecoder struct {
	mock.Mock
}

func (m *MockStateDecoder) Decode(raw string) (*handoff.Ref, error) {
	args := m.Called(raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*handoff.Ref), args.Error(1)
}

// MockPinger is a mock implementation of handlers.Pinger
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
