package authorization

import (
	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/token"
)

// Event is an input to a Session.
type Event interface {
	isEvent()
}

// User events.
type (
	// ToggleScope adds or removes one optional scope.
	ToggleScope struct{ Scope string }
	// RequestAuthorizeURL issues a fresh authorize URL, invalidating any
	// previous one.
	RequestAuthorizeURL struct{}
	// Retry re-runs whatever failed: userinfo, refresh or the authorize step.
	Retry struct{}
	// RefreshToken refreshes the held token.
	RefreshToken struct{}
	// Disconnect revokes and discards the held token.
	Disconnect struct{}
)

// CallbackReceived delivers the outcome of the provider redirect.
type CallbackReceived struct {
	Payload handoff.Payload
}

// Background results. seq ties a result to the call that produced it.
type (
	authorizeExpired struct{ state string }

	exchangeDone struct {
		seq       uint64
		body      *token.Body
		claims    map[string]any
		claimsErr error
		err       error
	}

	userinfoDone struct {
		seq  uint64
		info map[string]any
		err  error
	}

	refreshDone struct {
		seq  uint64
		body *token.Body
		err  error
	}

	revokeDone struct{ err error }
)

func (ToggleScope) isEvent()         {}
func (RequestAuthorizeURL) isEvent() {}
func (Retry) isEvent()               {}
func (RefreshToken) isEvent()        {}
func (Disconnect) isEvent()          {}
func (CallbackReceived) isEvent()    {}
func (authorizeExpired) isEvent()    {}
func (exchangeDone) isEvent()        {}
func (userinfoDone) isEvent()        {}
func (refreshDone) isEvent()         {}
func (revokeDone) isEvent()          {}
