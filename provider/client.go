// Package provider is the HTTP client for the external OAuth2 identity
// provider: authorization-code exchange, refresh, revocation, and
// introspection. Endpoints come from OIDC discovery.
package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/bionicpro/auth-service/internal/errors"
)

// TokenSet is the provider's answer to an exchange or refresh. A zero
// Expiry means the provider omitted expires_in; callers apply their own
// default in that case.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Config describes the provider connection. PublicIssuerURL is the
// browser-facing base of the same issuer; when set, the authorization URL
// handed to browsers is rewritten onto it while direct calls keep using
// IssuerURL. Behind container networking the two differ.
type Config struct {
	IssuerURL       string
	PublicIssuerURL string
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	Scopes          []string
	Timeout         time.Duration
}

// Client talks to the identity provider with a bounded timeout on every
// call. A non-2xx provider response surfaces as ErrUpstreamRejected and a
// transport failure as ErrUpstreamUnavailable; callers depend on the
// distinction.
type Client struct {
	oauthCfg         *oauth2.Config
	httpClient       *http.Client
	clientID         string
	clientSecret     string
	endSessionURL    string
	introspectionURL string
}

// providerEndpoints are the non-standard discovery claims we need beyond
// what go-oidc exposes directly.
type providerEndpoints struct {
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
}

// New discovers the provider's endpoints and builds a client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	p, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "oidc discovery for %s: %v", cfg.IssuerURL, err)
	}

	var eps providerEndpoints
	if err := p.Claims(&eps); err != nil {
		return nil, errors.Wrapf(err, "[provider.New] discovery claims")
	}
	endSession := eps.EndSessionEndpoint
	if endSession == "" {
		endSession = eps.RevocationEndpoint
	}

	endpoint := p.Endpoint()
	if cfg.PublicIssuerURL != "" && cfg.PublicIssuerURL != cfg.IssuerURL {
		// Only the browser follows the authorization URL; everything else
		// stays on the internal issuer.
		endpoint.AuthURL = strings.Replace(endpoint.AuthURL, cfg.IssuerURL, cfg.PublicIssuerURL, 1)
	}

	return &Client{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		httpClient:       httpClient,
		clientID:         cfg.ClientID,
		clientSecret:     cfg.ClientSecret,
		endSessionURL:    endSession,
		introspectionURL: eps.IntrospectionEndpoint,
	}, nil
}

// AuthCodeURL builds the browser redirect target carrying the S256
// challenge and the CSRF state.
func (c *Client) AuthCodeURL(state, challenge string) string {
	return c.oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode swaps an authorization code plus its PKCE verifier for a
// token set.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (TokenSet, error) {
	tok, err := c.oauthCfg.Exchange(c.clientContext(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		return TokenSet{}, classify(err, "exchange")
	}
	return tokenSet(tok), nil
}

// Refresh exchanges a refresh token for a fresh token set. The provider
// treats refresh tokens as single-use, so a replayed token is rejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	src := c.oauthCfg.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenSet{}, classify(err, "refresh")
	}
	ts := tokenSet(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// Revoke ends the provider-side session for a refresh token. Callers treat
// this as best-effort and ignore the result.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	if c.endSessionURL == "" {
		return nil
	}
	form := url.Values{
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
	}
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	_, err := c.postForm(ctx, c.endSessionURL, form, "revoke")
	return err
}

// Introspect asks the provider for a token's claims. Diagnostic only; the
// broker's refresh decisions never depend on it.
func (c *Client) Introspect(ctx context.Context, token string) (map[string]any, error) {
	if c.introspectionURL == "" {
		return nil, errors.Wrapf(errors.ErrUpstreamRejected, "provider exposes no introspection endpoint")
	}
	form := url.Values{
		"token":     {token},
		"client_id": {c.clientID},
	}
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	return c.postForm(ctx, c.introspectionURL, form, "introspect")
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, op string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] build request", op)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "%s: %v", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Wrapf(errors.ErrUpstreamRejected, "%s: provider returned %d", op, resp.StatusCode)
	}

	var claims map[string]any
	if err := decodeJSONBody(resp, &claims); err != nil {
		// Revocation endpoints often answer with an empty body.
		return nil, nil
	}
	return claims, nil
}

func decodeJSONBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func tokenSet(tok *oauth2.Token) TokenSet {
	return TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// classify separates an explicit provider rejection from a transport
// failure. Downstream handling differs: rejection expires sessions,
// unavailability leaves them intact for retry.
func classify(err error, op string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return errors.Wrapf(errors.ErrUpstreamRejected, "%s: provider returned %d", op, retrieveErr.Response.StatusCode)
	}
	return errors.Wrapf(errors.ErrUpstreamUnavailable, "%s: %v", op, err)
}
