package authorization

import (
	"errors"
	"fmt"
)

// State is the position of a flow in the authorization code handshake.
type State string

const (
	StateIdle             State = "idle"
	StateAuthorizing      State = "authorizing"
	StateExchangingCode   State = "exchanging_code"
	StateFetchingUserinfo State = "fetching_userinfo"
	StateRefreshing       State = "refreshing"
	StateComplete         State = "complete"
	StateError            State = "error"
)

// busy reports whether a provider call owned by the flow is outstanding.
func (s State) busy() bool {
	return s == StateExchangingCode || s == StateFetchingUserinfo || s == StateRefreshing
}

// ErrorKind qualifies StateError.
type ErrorKind string

const (
	KindCodeFailed          ErrorKind = "code_failed"
	KindTokenFailed         ErrorKind = "token_failed"
	KindMissingRefreshToken ErrorKind = "missing_refresh_token"
	KindUserinfoFailed      ErrorKind = "userinfo_failed"
	KindRefreshFailed       ErrorKind = "refresh_failed"
	KindReauthorizeRequired ErrorKind = "reauthorize_required"
	KindScopeMismatch       ErrorKind = "scope_mismatch"
)

// FlowError is the last error of a flow as shown to the user.
type FlowError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Reason is a machine-readable detail: the provider error code, the
	// failure class of an outbound call, or "timeout".
	Reason string `json:"reason,omitempty"`
}

func (e *FlowError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

var (
	// ErrBusy rejects user events while a provider call is outstanding.
	ErrBusy = errors.New("a provider call is in progress")
	// ErrInvalidEvent rejects user events the current state does not accept.
	ErrInvalidEvent = errors.New("event not allowed in current state")
	// ErrStaleHandoff marks callback deliveries that no longer match the
	// pending authorize request. They are dropped without a transition.
	ErrStaleHandoff = errors.New("stale handoff message")
	// ErrSaveBlocked is returned when the credential cannot be saved in the
	// current state.
	ErrSaveBlocked = errors.New("credential cannot be saved in current state")
	// ErrUnknownSession and ErrUnknownFlow are returned by Manager lookups.
	ErrUnknownSession = errors.New("unknown session")
	ErrUnknownFlow    = errors.New("unknown flow")
	// ErrClosed is returned by an Actor after Close.
	ErrClosed = errors.New("flow closed")
)

// Snapshot is the render state of a flow.
type Snapshot struct {
	CredentialID    string         `json:"credential_id,omitempty"`
	ProviderID      string         `json:"provider_id"`
	State           State          `json:"state"`
	Error           *FlowError     `json:"error,omitempty"`
	SelectedScopes  []string       `json:"selected_scopes"`
	MandatoryScopes []string       `json:"mandatory_scopes"`
	OptionalScopes  []string       `json:"optional_scopes"`
	ScopesChanged   bool           `json:"scopes_changed"`
	Userinfo        map[string]any `json:"userinfo,omitempty"`
	AuthorizeURL    string         `json:"authorize_url,omitempty"`
	HasToken        bool           `json:"has_token"`
	TokenExpiresAt  int64          `json:"token_expires_at,omitempty"`
	CanSave         bool           `json:"can_save"`
}
