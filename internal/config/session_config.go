package config

import "time"

type SessionConfig interface {
	GetCookieName() string
	GetSessionTTL() time.Duration
	GetDefaultAccessTokenTTL() time.Duration
	GetPKCETTL() time.Duration
	GetTokenEncryptionKey() []byte
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetCookieName() string {
	return GetEnv("SESSION_COOKIE_NAME", "bionicpro_session")
}

func (Session) GetSessionTTL() time.Duration {
	return time.Duration(GetEnvInt("SESSION_TTL", 3600)) * time.Second
}

// GetDefaultAccessTokenTTL is the fallback expiry applied when the provider
// omits expires_in from a token response.
func (Session) GetDefaultAccessTokenTTL() time.Duration {
	return time.Duration(GetEnvInt("ACCESS_TOKEN_TTL", 120)) * time.Second
}

func (Session) GetPKCETTL() time.Duration {
	return time.Duration(GetEnvInt("PKCE_TTL", 300)) * time.Second
}

// GetTokenEncryptionKey returns the externally provisioned 32-byte vault
// key. Key rotation is not handled here; the key is fixed for the lifetime
// of the deployment.
func (Session) GetTokenEncryptionKey() []byte {
	key := GetEnv("TOKEN_ENCRYPTION_KEY", "")
	b := make([]byte, 32)
	copy(b, key)
	return b
}
