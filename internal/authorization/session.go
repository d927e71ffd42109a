// Package authorization drives the OAuth authorization code handshake of a
// credential editor. A Session is a pure state machine: it consumes events
// and returns the next provider call to run as a Command. An Actor owns one
// Session and feeds it events one at a time; a Manager owns every Actor and
// routes redirect callbacks to them.
package authorization

import (
	"context"
	"fmt"
	"time"

	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/metrics"
	"credential-authorizer/internal/models"
	"credential-authorizer/internal/provider"
	"credential-authorizer/internal/scopes"
	"credential-authorizer/internal/token"

	"go.uber.org/zap"
)

// ProviderClient is the outbound side of a flow. *provider.Client
// implements it.
type ProviderClient interface {
	Resolve(ctx context.Context, cfg *provider.Config) (*provider.Config, error)
	BuildAuthorizeURL(cfg *provider.Config, selected scopes.Set, state string) (string, error)
	ExchangeCode(ctx context.Context, cfg *provider.Config, code string, requested scopes.Set) (*token.Body, error)
	Refresh(ctx context.Context, cfg *provider.Config, tok *token.Body) (*token.Body, error)
	FetchUserinfo(ctx context.Context, cfg *provider.Config, tok *token.Body) (map[string]any, error)
	Revoke(ctx context.Context, cfg *provider.Config, tok *token.Body) error
	VerifyIDToken(ctx context.Context, cfg *provider.Config, raw string) (map[string]any, error)
}

// StateEncoder issues the handoff token sent as the OAuth state parameter.
// *handoff.Codec implements it.
type StateEncoder interface {
	Encode(sessionID, handlerRef, componentRef string) (string, error)
}

// FlowRef addresses one flow: the browser session, the handler that owns
// it and the editor component within it.
type FlowRef struct {
	SessionID    string
	HandlerRef   string
	ComponentRef string
}

// Command is a unit of background work. It runs outside the owning actor
// and reports back with an event, or nil when there is nothing to report.
type Command func(ctx context.Context) Event

// Options carries the collaborators of a Session.
type Options struct {
	Client  ProviderClient
	Encoder StateEncoder
	// AuthorizeTimeout bounds the wait for a redirect. Zero waits forever.
	AuthorizeTimeout time.Duration
	Now              func() time.Time
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
}

// Session is the state of one credential editor. It is not safe for
// concurrent use; an Actor serializes access to it.
type Session struct {
	ref     FlowRef
	cfg     *provider.Config
	client  ProviderClient
	encoder StateEncoder
	timeout time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger

	credential *models.Credential

	state     State
	lastErr   *FlowError
	selection scopes.Selection
	// baseline is the selection the current token was authorized for.
	baseline scopes.Set
	tok      *token.Body
	userinfo map[string]any

	pendingState string
	authorizeURL string
	requested    scopes.Set
	seq          uint64
}

// NewSession creates a session for cfg. cred is the stored credential being
// edited, or nil for a new one. Call Start before handing events to it.
func NewSession(ref FlowRef, cfg *provider.Config, cred *models.Credential, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Session{
		ref:     ref,
		cfg:     cfg,
		client:  opts.Client,
		encoder: opts.Encoder,
		timeout: opts.AuthorizeTimeout,
		now:     opts.Now,
		metrics: opts.Metrics,
		logger: opts.Logger.With(
			zap.String("session_id", ref.SessionID),
			zap.String("component_ref", ref.ComponentRef),
			zap.String("provider_id", cfg.ID)),
		state: StateIdle,
	}

	var selected scopes.Set
	if cred != nil {
		c := *cred
		s.credential = &c
		s.tok = cloneToken(cred.Token)
		if len(cred.Scopes) > 0 {
			selected = scopes.Normalize(cred.Scopes)
		} else {
			selected = token.Granted(cred.Token)
		}
	}
	s.selection = scopes.NewSelection(cfg.Mandatory(), cfg.Optional(), selected)
	s.baseline = s.selection.Selected.Clone()
	return s
}

// Start settles the initial state from the stored token. An expired but
// renewable token starts a background refresh.
func (s *Session) Start() Command {
	return s.evaluate()
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Handle applies one event. The returned Command, if any, must be run in the
// background and its event handed back to Handle.
func (s *Session) Handle(ev Event) (Command, error) {
	switch ev := ev.(type) {
	case ToggleScope:
		return s.toggleScope(ev.Scope)
	case RequestAuthorizeURL:
		return s.requestAuthorize()
	case CallbackReceived:
		return s.receive(ev.Payload)
	case Retry:
		return s.retry()
	case RefreshToken:
		return s.refresh()
	case Disconnect:
		return s.disconnect()
	case authorizeExpired:
		s.expireAuthorize(ev.state)
		return nil, nil
	case exchangeDone:
		return s.exchanged(ev), nil
	case userinfoDone:
		s.userinfoFetched(ev)
		return nil, nil
	case refreshDone:
		s.refreshed(ev)
		return nil, nil
	case revokeDone:
		if ev.err != nil {
			s.logger.Warn("Token revocation failed", zap.Error(ev.err))
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidEvent, ev)
	}
}

func (s *Session) toggleScope(scope string) (Command, error) {
	if s.state.busy() {
		return nil, ErrBusy
	}
	if !s.selection.Available().Has(scope) && !s.selection.Selected.Has(scope) {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidEvent, scope)
	}
	next := s.selection.Toggle(scope)
	if next.Selected.Equal(s.selection.Selected) {
		return nil, nil
	}

	s.selection = next
	s.invalidate()
	if scopes.Changed(s.baseline, s.selection.Selected) {
		s.transition(StateIdle, nil)
		return nil, nil
	}
	return s.evaluate(), nil
}

func (s *Session) requestAuthorize() (Command, error) {
	if s.state.busy() {
		return nil, ErrBusy
	}

	state, err := s.encoder.Encode(s.ref.SessionID, s.ref.HandlerRef, s.ref.ComponentRef)
	if err != nil {
		return nil, fmt.Errorf("issue handoff token: %w", err)
	}
	authorizeURL, err := s.client.BuildAuthorizeURL(s.cfg, s.selection.Selected, state)
	if err != nil {
		return nil, fmt.Errorf("build authorize url: %w", err)
	}

	s.pendingState = state
	s.authorizeURL = authorizeURL
	s.requested = s.selection.Selected.Union(s.cfg.Mandatory())
	s.transition(StateAuthorizing, nil)

	if s.timeout <= 0 {
		return nil, nil
	}
	timeout := s.timeout
	return func(ctx context.Context) Event {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			return authorizeExpired{state: state}
		case <-ctx.Done():
			return nil
		}
	}, nil
}

func (s *Session) receive(p handoff.Payload) (Command, error) {
	if s.state != StateAuthorizing || s.pendingState == "" || p.State != s.pendingState {
		s.logger.Info("Dropped stale handoff message", zap.String("state", string(s.state)))
		return nil, ErrStaleHandoff
	}
	s.pendingState = ""
	s.authorizeURL = ""

	switch {
	case p.Error != "":
		msg := p.ErrorDescription
		if msg == "" {
			msg = "failed retrieving authentication code"
		}
		s.fail(KindCodeFailed, msg, p.Error)
		return nil, nil
	case p.Code == "":
		s.fail(KindCodeFailed, "redirect carried neither a code nor an error", "missing_code")
		return nil, nil
	}
	return s.dispatchExchange(p.Code), nil
}

func (s *Session) retry() (Command, error) {
	if s.state != StateError {
		return nil, fmt.Errorf("%w: retry in %s", ErrInvalidEvent, s.state)
	}
	switch s.lastErr.Kind {
	case KindUserinfoFailed:
		if s.tok != nil && s.cfg.UserinfoEndpoint != "" {
			return s.dispatchUserinfo(), nil
		}
	case KindRefreshFailed:
		if token.Renewable(s.tok) {
			return s.dispatchRefresh(), nil
		}
	}
	return s.requestAuthorize()
}

func (s *Session) refresh() (Command, error) {
	if s.state.busy() {
		return nil, ErrBusy
	}
	if s.tok == nil || (s.state != StateComplete && s.state != StateError) {
		return nil, fmt.Errorf("%w: refresh in %s", ErrInvalidEvent, s.state)
	}
	return s.dispatchRefresh(), nil
}

func (s *Session) disconnect() (Command, error) {
	if s.state.busy() {
		return nil, ErrBusy
	}
	s.invalidate()
	old := s.tok
	s.tok = nil
	s.userinfo = nil
	s.transition(StateIdle, nil)
	if old == nil {
		return nil, nil
	}

	cfg, client := s.cfg, s.client
	return func(ctx context.Context) Event {
		return revokeDone{err: client.Revoke(ctx, cfg, old)}
	}, nil
}

func (s *Session) expireAuthorize(state string) {
	if s.state != StateAuthorizing || s.pendingState != state {
		return
	}
	s.pendingState = ""
	s.authorizeURL = ""
	s.fail(KindCodeFailed, "authorization was not completed in time", "timeout")
}

func (s *Session) dispatchExchange(code string) Command {
	s.transition(StateExchangingCode, nil)
	seq := s.nextSeq()
	cfg, client, requested := s.cfg, s.client, s.requested.Clone()

	return func(ctx context.Context) Event {
		body, err := client.ExchangeCode(ctx, cfg, code, requested)
		if err != nil {
			return exchangeDone{seq: seq, err: err}
		}
		done := exchangeDone{seq: seq, body: body}
		if raw := token.IDToken(body); raw != "" && cfg.UserinfoEndpoint == "" {
			done.claims, done.claimsErr = client.VerifyIDToken(ctx, cfg, raw)
		}
		return done
	}
}

func (s *Session) exchanged(ev exchangeDone) Command {
	if !s.current(ev.seq, StateExchangingCode) {
		s.logger.Info("Dropped stale code exchange result")
		return nil
	}
	if ev.err != nil {
		s.fail(KindTokenFailed, exchangeFailure(ev.err), string(provider.KindOf(ev.err)))
		return nil
	}
	if !token.Renewable(ev.body) && !token.Renewable(s.tok) && !ev.body.NoExpiry {
		s.fail(KindMissingRefreshToken,
			"the provider did not issue a refresh token; authorize again requesting offline access", "")
		return nil
	}

	s.tok = token.MergeRefresh(s.tok, ev.body)
	s.baseline = s.selection.Selected.Clone()
	s.userinfo = nil

	if s.cfg.UserinfoEndpoint != "" {
		return s.dispatchUserinfo()
	}
	if ev.claimsErr != nil {
		s.logger.Warn("Discarded unverifiable id_token", zap.Error(ev.claimsErr))
	} else {
		s.userinfo = ev.claims
	}
	s.settle()
	return nil
}

func (s *Session) dispatchUserinfo() Command {
	s.transition(StateFetchingUserinfo, nil)
	seq := s.nextSeq()
	cfg, client, tok := s.cfg, s.client, s.tok

	return func(ctx context.Context) Event {
		info, err := client.FetchUserinfo(ctx, cfg, tok)
		return userinfoDone{seq: seq, info: info, err: err}
	}
}

func (s *Session) userinfoFetched(ev userinfoDone) {
	if !s.current(ev.seq, StateFetchingUserinfo) {
		s.logger.Info("Dropped stale userinfo result")
		return
	}
	if ev.err != nil {
		s.fail(KindUserinfoFailed, "failed fetching user information; the token is still usable",
			string(provider.KindOf(ev.err)))
		return
	}
	s.userinfo = ev.info
	s.settle()
}

func (s *Session) dispatchRefresh() Command {
	s.transition(StateRefreshing, nil)
	seq := s.nextSeq()
	cfg, client, tok := s.cfg, s.client, s.tok

	return func(ctx context.Context) Event {
		body, err := client.Refresh(ctx, cfg, tok)
		return refreshDone{seq: seq, body: body, err: err}
	}
}

func (s *Session) refreshed(ev refreshDone) {
	if !s.current(ev.seq, StateRefreshing) {
		s.logger.Info("Dropped stale refresh result")
		return
	}
	if ev.err != nil {
		kind := string(provider.KindOf(ev.err))
		if provider.IsReauthorizeRequired(ev.err) {
			s.fail(KindReauthorizeRequired, "the provider rejected the refresh token; authorize again", kind)
			return
		}
		s.fail(KindRefreshFailed, "could not refresh the token; try again later", kind)
		return
	}
	s.tok = token.MergeRefresh(s.tok, ev.body)
	s.settle()
}

// evaluate derives the state from the held token alone. An expired token
// that cannot be renewed is kept but leaves the flow idle.
func (s *Session) evaluate() Command {
	switch {
	case s.tok == nil:
		s.transition(StateIdle, nil)
	case token.Expired(s.tok, s.now()):
		if token.Renewable(s.tok) {
			return s.dispatchRefresh()
		}
		s.transition(StateIdle, nil)
	default:
		s.settle()
	}
	return nil
}

func (s *Session) settle() {
	if missing := scopes.Missing(token.Granted(s.tok), s.selection.Selected); len(missing) > 0 {
		s.fail(KindScopeMismatch, "granted scopes do not cover: "+missing.String(), "")
		return
	}
	s.transition(StateComplete, nil)
}

func (s *Session) current(seq uint64, want State) bool {
	return s.state == want && seq == s.seq
}

func (s *Session) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// invalidate makes every outstanding callback and call result stale.
func (s *Session) invalidate() {
	s.seq++
	s.pendingState = ""
	s.authorizeURL = ""
}

func (s *Session) fail(kind ErrorKind, msg, reason string) {
	s.transition(StateError, &FlowError{Kind: kind, Message: msg, Reason: reason})
}

func (s *Session) transition(to State, ferr *FlowError) {
	from := s.label()
	s.state = to
	s.lastErr = ferr
	toLabel := s.label()
	if from == toLabel {
		return
	}
	fields := []zap.Field{zap.String("from", from), zap.String("to", toLabel)}
	if ferr != nil && ferr.Reason != "" {
		fields = append(fields, zap.String("reason", ferr.Reason))
	}
	s.logger.Debug("Flow transition", fields...)
	s.metrics.Transition(from, toLabel)
}

func (s *Session) label() string {
	if s.state == StateError && s.lastErr != nil {
		return string(StateError) + ":" + string(s.lastErr.Kind)
	}
	return string(s.state)
}

// CanSave reports whether the held token may be persisted.
func (s *Session) CanSave() bool {
	if s.tok == nil {
		return false
	}
	switch s.state {
	case StateComplete:
		return true
	case StateError:
		switch s.lastErr.Kind {
		case KindUserinfoFailed:
			return true
		case KindRefreshFailed:
			return !token.Expired(s.tok, s.now())
		}
	}
	return false
}

// Draft returns the credential as it would be saved now.
func (s *Session) Draft() *models.Credential {
	cred := &models.Credential{ProviderID: s.cfg.ID}
	if s.credential != nil {
		c := *s.credential
		cred = &c
	}
	cred.Scopes = s.selection.Selected.Slice()
	cred.Token = cloneToken(s.tok)
	return cred
}

// MarkSaved records the stored credential so later saves update it.
func (s *Session) MarkSaved(cred *models.Credential) {
	c := *cred
	c.Token = nil
	s.credential = &c
}

// Snapshot returns the render state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ProviderID:      s.cfg.ID,
		State:           s.state,
		SelectedScopes:  s.selection.Selected.Slice(),
		MandatoryScopes: s.selection.Mandatory.Slice(),
		OptionalScopes:  s.selection.Optional.Slice(),
		ScopesChanged:   scopes.Changed(s.baseline, s.selection.Selected),
		Userinfo:        s.userinfo,
		HasToken:        s.tok != nil,
		CanSave:         s.CanSave(),
	}
	if s.credential != nil {
		snap.CredentialID = s.credential.ID
	}
	if s.lastErr != nil {
		e := *s.lastErr
		snap.Error = &e
	}
	if s.state == StateAuthorizing {
		snap.AuthorizeURL = s.authorizeURL
	}
	if s.tok != nil {
		snap.TokenExpiresAt = s.tok.ExpiresAt
	}
	return snap
}

func exchangeFailure(err error) string {
	if provider.IsInvalidClient(err) {
		return "the provider rejected the client credentials; check the client id and secret"
	}
	switch provider.KindOf(err) {
	case provider.KindTransport:
		return "could not reach the provider"
	case provider.KindMalformed:
		return "the provider returned an unusable token response"
	default:
		return "the provider rejected the authorization code"
	}
}

func cloneToken(b *token.Body) *token.Body {
	if b == nil {
		return nil
	}
	c := *b
	if b.Extra != nil {
		c.Extra = make(map[string]any, len(b.Extra))
		for k, v := range b.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}
