package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrUnseal is returned when a sealed value cannot be opened with the current key.
var ErrUnseal = errors.New("unseal: authentication failed")

// Sealer encrypts values at rest with a key derived from the account password.
type Sealer struct {
	key [keySize]byte
}

// NewSealer derives the sealing key for an account.
func NewSealer(account, password string) *Sealer {
	s := &Sealer{}
	derived := argon2.IDKey([]byte(password), []byte("serverbot:"+account), 1, 64*1024, 2, keySize)
	copy(s.key[:], derived)
	return s
}

// Seal encrypts plaintext; the nonce is prepended to the output.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return plaintext, nil
}
