package config

import "time"

// ProviderConfig describes the external identity provider. The issuer has
// two base URLs: the internal one the broker calls directly, and the public
// one the browser is redirected to. Behind Docker networking these differ.
type ProviderConfig interface {
	GetIssuerURL() string
	GetPublicIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURL() string
	GetScopes() []string
	GetProviderTimeout() time.Duration
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetIssuerURL() string {
	return GetEnv("PROVIDER_URL", "http://keycloak:8080/realms/reports-realm")
}

func (Provider) GetPublicIssuerURL() string {
	return GetEnv("PROVIDER_PUBLIC_URL", "http://localhost:8080/realms/reports-realm")
}

func (Provider) GetClientID() string {
	return GetEnv("PROVIDER_CLIENT_ID", "reports-frontend")
}

// GetClientSecret may be empty: public clients authenticate with PKCE only.
func (Provider) GetClientSecret() string {
	return GetEnv("PROVIDER_CLIENT_SECRET", "")
}

func (Provider) GetRedirectURL() string {
	return GetEnv("PROVIDER_REDIRECT_URL", "http://localhost:8001/auth/callback")
}

func (Provider) GetScopes() []string {
	return []string{"openid", "profile", "email"}
}

func (Provider) GetProviderTimeout() time.Duration {
	return 10 * time.Second
}
