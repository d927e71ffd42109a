package models

import (
	"time"

	"credential-authorizer/internal/token"
)

// Credential is an OAuth credential as persisted. The token body is sealed
// before it reaches the database.
type Credential struct {
	ID         string      `db:"id" json:"id"`
	Name       string      `db:"name" json:"name"`
	ProviderID string      `db:"provider_id" json:"provider_id"`
	Scopes     []string    `db:"scopes" json:"scopes"`
	Token      *token.Body `db:"token" json:"-"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// OAuthClient is a provider registration stored in the oauth_clients table.
type OAuthClient struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	ClientID     string    `db:"client_id"`
	ClientSecret string    `db:"client_secret"`
	Settings     []byte    `db:"settings"` // JSON endpoints, scopes and flags
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// SessionResponse is returned when a browser session is started.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// OpenFlowRequest opens a credential editor. Exactly one of CredentialID and
// ProviderID is expected; CredentialID wins when both are set.
type OpenFlowRequest struct {
	CredentialID string `json:"credential_id,omitempty"`
	ProviderID   string `json:"provider_id,omitempty"`
}

// ToggleScopeRequest toggles one scope in the selection.
type ToggleScopeRequest struct {
	Scope string `json:"scope"`
}

// SaveRequest carries the editable credential fields.
type SaveRequest struct {
	Name string `json:"name"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
