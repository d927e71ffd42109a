package database

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"credential-authorizer/internal/token"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrUnseal is returned when a sealed token cannot be opened with the
// configured key.
var ErrUnseal = errors.New("cannot unseal token")

// Sealer encrypts token bodies before they are written to the database.
type Sealer struct {
	key [keySize]byte
}

// NewSealer creates a sealer from a base64-encoded 32-byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode token encryption key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("token encryption key must be %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts b. A nil body seals to nil.
func (s *Sealer) Seal(b *token.Body) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	plain, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open decrypts a value produced by Seal. Empty input opens to nil.
func (s *Sealer) Open(sealed []byte) (*token.Body, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}

	var b token.Body
	if err := json.Unmarshal(plain, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	return &b, nil
}
