package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies outbound call failures.
type ErrorKind string

const (
	// KindTransport covers network failures, timeouts and provider 5xx.
	KindTransport ErrorKind = "transport"
	// KindRejected is a 4xx answer with an OAuth error body.
	KindRejected ErrorKind = "rejected"
	// KindInvalidClient means the client credentials are misconfigured.
	KindInvalidClient ErrorKind = "invalid_client"
	// KindInvalidGrant means the code or refresh token is no longer valid.
	KindInvalidGrant ErrorKind = "invalid_grant"
	// KindMalformed is a 2xx answer that could not be decoded.
	KindMalformed ErrorKind = "malformed"
)

// Error is returned by every Client operation.
type Error struct {
	Op          string
	Kind        ErrorKind
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " " + e.Description
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a provider error, or KindTransport for anything
// else.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransport
}

// IsReauthorizeRequired reports whether a refresh failure can only be fixed
// by running the authorize step again.
func IsReauthorizeRequired(err error) bool {
	return KindOf(err) == KindInvalidGrant
}

// IsInvalidClient reports whether the failure points at the client
// registration rather than the user's grant.
func IsInvalidClient(err error) bool {
	return KindOf(err) == KindInvalidClient
}

// classify maps an HTTP error response to an error kind. For refresh calls a
// 401 is treated as a revoked grant.
func classify(op string, status int, code string) ErrorKind {
	switch {
	case code == "invalid_grant":
		return KindInvalidGrant
	case status == 401 && op == opRefresh:
		return KindInvalidGrant
	case status == 401, code == "invalid_client", code == "unauthorized_client":
		return KindInvalidClient
	case status >= 500 || status == 429:
		return KindTransport
	default:
		return KindRejected
	}
}
