package authorization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/metrics"
	"credential-authorizer/internal/models"
	"credential-authorizer/internal/provider"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCredentialNotFound is returned when opening a credential that does not
// exist.
var ErrCredentialNotFound = errors.New("credential not found")

// Repository is the persistence collaborator. GetCredential returns
// (nil, nil) for unknown ids.
type Repository interface {
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
}

// ProviderSource looks up provider registrations by id.
type ProviderSource interface {
	ProviderConfig(ctx context.Context, id string) (*provider.Config, error)
}

// browserSession groups the flows opened from one browser session. Its
// handler ref is embedded in every handoff token issued for those flows.
type browserSession struct {
	handlerRef  string
	unsubscribe func()
	flows       map[string]*Actor
}

// Manager is the registry of live flows. It creates them on Open, routes
// redirect callbacks from the broker to them and persists their credentials
// on Save.
type Manager struct {
	repo      Repository
	providers ProviderSource
	client    ProviderClient
	encoder   StateEncoder
	broker    handoff.Broker
	timeout   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*browserSession
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAuthorizeTimeout bounds how long a flow waits in authorizing.
func WithAuthorizeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// WithManagerMetrics records flow and handoff metrics on mt.
func WithManagerMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithManagerClock overrides the time source of every flow.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty registry.
func NewManager(repo Repository, providers ProviderSource, client ProviderClient, encoder StateEncoder, broker handoff.Broker, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:      repo,
		providers: providers,
		client:    client,
		encoder:   encoder,
		broker:    broker,
		now:       time.Now,
		logger:    logger,
		sessions:  make(map[string]*browserSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSession registers a browser session and subscribes it to handoff
// messages. It returns the new session id.
func (m *Manager) StartSession(_ context.Context) (string, error) {
	sessionID := uuid.NewString()
	bs := &browserSession{
		handlerRef: uuid.NewString(),
		flows:      make(map[string]*Actor),
	}

	unsubscribe, err := m.broker.Subscribe(sessionID, m.deliverer(sessionID))
	if err != nil {
		return "", fmt.Errorf("subscribe session: %w", err)
	}
	bs.unsubscribe = unsubscribe

	m.mu.Lock()
	m.sessions[sessionID] = bs
	m.mu.Unlock()

	m.logger.Info("Session started", zap.String("session_id", sessionID))
	return sessionID, nil
}

// EndSession closes every flow of the session. Callbacks arriving later are
// dropped by the broker.
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	bs, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	bs.unsubscribe()
	for _, actor := range bs.flows {
		actor.Close()
		m.metrics.FlowClosed()
	}
	m.logger.Info("Session ended", zap.String("session_id", sessionID))
	return nil
}

// Shutdown ends every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.EndSession(id)
	}
}

// Open starts a flow for componentRef, replacing any flow already open
// there. An existing credential is loaded when req names one; otherwise a
// new credential for req.ProviderID is edited.
func (m *Manager) Open(ctx context.Context, sessionID, componentRef string, req models.OpenFlowRequest) (Snapshot, error) {
	m.mu.Lock()
	bs, ok := m.sessions[sessionID]
	var handlerRef string
	if ok {
		handlerRef = bs.handlerRef
	}
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrUnknownSession
	}

	var cred *models.Credential
	providerID := req.ProviderID
	if req.CredentialID != "" {
		var err error
		cred, err = m.repo.GetCredential(ctx, req.CredentialID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("load credential: %w", err)
		}
		if cred == nil {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, req.CredentialID)
		}
		providerID = cred.ProviderID
	}
	if providerID == "" {
		return Snapshot{}, fmt.Errorf("%w: no provider given", provider.ErrUnknownProvider)
	}

	cfg, err := m.providers.ProviderConfig(ctx, providerID)
	if err != nil {
		return Snapshot{}, err
	}
	resolved, err := m.client.Resolve(ctx, cfg)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve provider %s: %w", providerID, err)
	}

	ref := FlowRef{SessionID: sessionID, HandlerRef: handlerRef, ComponentRef: componentRef}
	session := NewSession(ref, resolved, cred, Options{
		Client:           m.client,
		Encoder:          m.encoder,
		AuthorizeTimeout: m.timeout,
		Now:              m.now,
		Metrics:          m.metrics,
		Logger:           m.logger,
	})
	actor := NewActor(session, m.logger)

	m.mu.Lock()
	bs, ok = m.sessions[sessionID]
	var previous *Actor
	if ok {
		previous = bs.flows[componentRef]
		bs.flows[componentRef] = actor
	}
	m.mu.Unlock()
	if !ok {
		actor.Close()
		return Snapshot{}, ErrUnknownSession
	}

	if previous != nil {
		previous.Close()
		m.metrics.FlowClosed()
	}
	m.metrics.FlowOpened()
	return actor.Snapshot(ctx)
}

// Dispatch applies a user event to a flow.
func (m *Manager) Dispatch(ctx context.Context, sessionID, componentRef string, ev Event) (Snapshot, error) {
	actor, err := m.flow(sessionID, componentRef)
	if err != nil {
		return Snapshot{}, err
	}
	return actor.Send(ctx, ev)
}

// Snapshot returns the render state of a flow.
func (m *Manager) Snapshot(ctx context.Context, sessionID, componentRef string) (Snapshot, error) {
	actor, err := m.flow(sessionID, componentRef)
	if err != nil {
		return Snapshot{}, err
	}
	return actor.Snapshot(ctx)
}

// Save persists the flow's credential. It fails with ErrSaveBlocked unless
// the flow holds a token that may be stored in its current state.
func (m *Manager) Save(ctx context.Context, sessionID, componentRef string, req models.SaveRequest) (*models.Credential, error) {
	actor, err := m.flow(sessionID, componentRef)
	if err != nil {
		return nil, err
	}

	var (
		draft *models.Credential
		state State
	)
	err = actor.Do(ctx, func(s *Session) Command {
		state = s.State()
		if s.CanSave() {
			draft = s.Draft()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, fmt.Errorf("%w: %s", ErrSaveBlocked, state)
	}

	now := m.now()
	if draft.ID == "" {
		draft.ID = uuid.NewString()
		draft.CreatedAt = now
	}
	if req.Name != "" {
		draft.Name = req.Name
	}
	if draft.Name == "" {
		draft.Name = draft.ProviderID
	}
	draft.UpdatedAt = now

	if err := m.repo.SaveCredential(ctx, draft); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	if err := actor.Do(ctx, func(s *Session) Command {
		s.MarkSaved(draft)
		return nil
	}); err != nil {
		m.logger.Warn("Saved credential for a closed flow", zap.String("credential_id", draft.ID), zap.Error(err))
	}

	m.logger.Info("Credential saved",
		zap.String("credential_id", draft.ID),
		zap.String("provider_id", draft.ProviderID))
	return draft, nil
}

// Close ends one flow.
func (m *Manager) Close(sessionID, componentRef string) error {
	m.mu.Lock()
	bs, ok := m.sessions[sessionID]
	var actor *Actor
	if ok {
		actor = bs.flows[componentRef]
		delete(bs.flows, componentRef)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	if actor == nil {
		return ErrUnknownFlow
	}
	actor.Close()
	m.metrics.FlowClosed()
	return nil
}

func (m *Manager) flow(sessionID, componentRef string) (*Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bs, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	actor, ok := bs.flows[componentRef]
	if !ok {
		return nil, ErrUnknownFlow
	}
	return actor, nil
}

// deliverer routes broker messages for one session to the flow named by the
// payload's tab.
func (m *Manager) deliverer(sessionID string) func(handoff.Message) {
	return func(msg handoff.Message) {
		m.mu.Lock()
		var actor *Actor
		if bs, ok := m.sessions[sessionID]; ok && bs.handlerRef == msg.HandlerRef {
			actor = bs.flows[msg.Payload.Tab]
		}
		m.mu.Unlock()

		if actor == nil {
			m.logger.Info("Dropped handoff message for closed flow",
				zap.String("session_id", sessionID),
				zap.String("component_ref", msg.Payload.Tab))
			m.metrics.Handoff("unrouted")
			return
		}
		actor.Post(CallbackReceived{Payload: msg.Payload}, func(err error) {
			switch {
			case errors.Is(err, ErrStaleHandoff):
				m.metrics.Handoff("stale")
			case err != nil:
				m.logger.Warn("Handoff message rejected", zap.Error(err))
				m.metrics.Handoff("rejected")
			default:
				m.metrics.Handoff("delivered")
			}
		})
	}
}
