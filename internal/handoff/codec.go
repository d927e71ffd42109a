// Package handoff carries the result of an OAuth redirect back to the flow
// that started it. The flow identity travels through the provider as the
// signed `state` parameter; the callback decodes it and publishes the code or
// error to whichever process currently owns the session.
package handoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

var (
	// ErrMalformed is returned for state values that cannot be decoded or
	// whose signature does not verify.
	ErrMalformed = errors.New("malformed handoff token")
	// ErrExpired is returned for well-formed state values past their expiry.
	ErrExpired = errors.New("handoff token expired")
)

// Ref identifies the flow a state value was issued for.
type Ref struct {
	SessionID    string
	HandlerRef   string
	ComponentRef string
	// Nonce is unique per issued token.
	Nonce string
}

type claims struct {
	SessionID    string `json:"sid"`
	HandlerRef   string `json:"hdl"`
	ComponentRef string `json:"cmp"`
	jwt.RegisteredClaims
}

// Codec encodes flow references into HS256-signed tokens.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a codec. A zero ttl issues tokens without expiry.
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("handoff secret must be at least %d bytes", MinSecretLength)
	}
	return &Codec{secret: secret, ttl: ttl, now: time.Now}, nil
}

// WithClock returns a copy of the codec using now as its time source.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// Encode issues a fresh token. Two calls with the same arguments never
// return the same token.
func (c *Codec) Encode(sessionID, handlerRef, componentRef string) (string, error) {
	now := c.now()
	cl := claims{
		SessionID:    sessionID,
		HandlerRef:   handlerRef,
		ComponentRef: componentRef,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if c.ttl > 0 {
		cl.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign handoff token: %w", err)
	}
	return signed, nil
}

// Decode verifies raw and returns the reference it carries.
func (c *Codec) Decode(raw string) (*Ref, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if cl.SessionID == "" || cl.HandlerRef == "" || cl.ComponentRef == "" {
		return nil, fmt.Errorf("%w: missing flow identifiers", ErrMalformed)
	}

	return &Ref{
		SessionID:    cl.SessionID,
		HandlerRef:   cl.HandlerRef,
		ComponentRef: cl.ComponentRef,
		Nonce:        cl.ID,
	}, nil
}
