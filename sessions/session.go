package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// sessionIDByteLength gives 256 bits of entropy per identifier.
const sessionIDByteLength = 32

// Session is the stored record for one authenticated browser. Token fields
// hold vault ciphertext only; the raw values never reach the store or the
// browser.
type Session struct {
	ID                   string         `json:"-"`
	AccessToken          string         `json:"access_token"`
	RefreshToken         string         `json:"refresh_token"`
	AccessTokenExpiresAt time.Time      `json:"access_token_expires_at"`
	CreatedAt            time.Time      `json:"created_at"`
	UserInfo             map[string]any `json:"user_info,omitempty"`
}

// NewSessionID generates a cryptographically random opaque identifier.
func NewSessionID() (string, error) {
	b := make([]byte, sessionIDByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
