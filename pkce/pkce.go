// Package pkce implements RFC 7636 Proof Key for Code Exchange material:
// verifier/challenge/state generation and the one-time state-to-verifier
// binding consumed at callback time.
package pkce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/bionicpro/auth-service/internal/errors"
	"github.com/bionicpro/auth-service/kvstore"
)

const (
	// 48 bytes encode to 64 base64url characters, comfortably inside the
	// RFC 7636 43-128 character bounds.
	verifierByteLength = 48
	stateByteLength    = 32

	statePrefix = "pkce:"
)

// Bundle holds the three values produced for one authorization attempt.
// State is independent randomness used only for CSRF binding; it is never
// derived from the verifier.
type Bundle struct {
	Verifier  string
	Challenge string
	State     string
}

// Generator produces PKCE bundles and manages their one-time bindings in
// the backing store.
type Generator struct {
	store kvstore.Store
	ttl   time.Duration
}

// NewGenerator creates a Generator binding states for the given TTL.
func NewGenerator(store kvstore.Store, ttl time.Duration) *Generator {
	return &Generator{store: store, ttl: ttl}
}

// Generate returns a fresh verifier, its S256 challenge, and a random state.
func (g *Generator) Generate() (Bundle, error) {
	verifier, err := randomString(verifierByteLength)
	if err != nil {
		return Bundle{}, errors.Wrapf(err, "[Generate] verifier")
	}
	state, err := randomString(stateByteLength)
	if err != nil {
		return Bundle{}, errors.Wrapf(err, "[Generate] state")
	}

	return Bundle{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		State:     state,
	}, nil
}

// Bind stores the state-to-verifier binding for later consumption.
func (g *Generator) Bind(ctx context.Context, state, verifier string) error {
	if err := g.store.Put(ctx, statePrefix+state, []byte(verifier), g.ttl); err != nil {
		return errors.Wrapf(err, "[Bind] store.Put")
	}
	return nil
}

// Consume atomically retrieves and deletes the verifier bound to state. A
// missing, expired, or already-consumed state yields ErrInvalidState; two
// concurrent consumes of the same state cannot both succeed.
func (g *Generator) Consume(ctx context.Context, state string) (string, error) {
	value, err := g.store.GetDel(ctx, statePrefix+state)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return "", errors.ErrInvalidState
		}
		return "", errors.Wrapf(err, "[Consume] store.GetDel")
	}
	return string(value), nil
}

// Challenge computes the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func randomString(byteLength int) (string, error) {
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
