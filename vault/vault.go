// Package vault encrypts tokens at rest. Raw token values exist only
// transiently in process memory; everything written to the session store
// passes through here first.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bionicpro/auth-service/internal/errors"
)

// Vault performs authenticated symmetric encryption with a fixed,
// externally provisioned key. Key rotation is not supported; a key change
// invalidates all stored ciphertexts, which the session manager treats as
// corrupted sessions requiring re-login.
type Vault struct {
	key []byte
}

// New creates a Vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("[vault.New] key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Vault{key: k}, nil
}

// Encrypt seals a token with XChaCha20-Poly1305 under a random nonce and
// returns opaque base64url text safe for storage.
func (v *Vault) Encrypt(token string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", errors.Wrapf(err, "[Encrypt] chacha20poly1305.NewX")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrapf(err, "[Encrypt] rand.Read")
	}

	sealed := aead.Seal(nonce, nonce, []byte(token), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered input or a key
// mismatch yields ErrInvalidCiphertext.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.ErrInvalidCiphertext
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", errors.Wrapf(err, "[Decrypt] chacha20poly1305.NewX")
	}

	if len(sealed) < aead.NonceSize() {
		return "", errors.ErrInvalidCiphertext
	}
	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	token, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", errors.ErrInvalidCiphertext
	}
	return string(token), nil
}
