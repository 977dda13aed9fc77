// Package auth orchestrates the session lifecycle: login, callback,
// refresh-on-expiry, rotation, validation, and logout. Session state lives
// in three places only (the PKCE binding, the session record, and the
// refresh lease), all owned by the backing store.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/bionicpro/auth-service/internal/errors"
	"github.com/bionicpro/auth-service/pkce"
	"github.com/bionicpro/auth-service/provider"
	"github.com/bionicpro/auth-service/sessions"
	"github.com/bionicpro/auth-service/vault"
)

const (
	// refreshLeaseTTL bounds how long a crashed holder can block other
	// requests from refreshing the same session.
	refreshLeaseTTL = 15 * time.Second

	// refreshRetries is the budget for transient provider failures during
	// a single refresh attempt. An exhausted budget fails the current call
	// but leaves the session intact.
	refreshRetries = 2

	leaseWaitStep   = 50 * time.Millisecond
	leaseWaitRounds = 40
)

// IdentityProvider is the slice of the provider client the manager needs.
// Declared here so tests can substitute a fake.
type IdentityProvider interface {
	AuthCodeURL(state, challenge string) string
	ExchangeCode(ctx context.Context, code, verifier string) (provider.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (provider.TokenSet, error)
	Revoke(ctx context.Context, refreshToken string) error
	Introspect(ctx context.Context, token string) (map[string]any, error)
}

// Info is the non-token session status returned to browsers. It never
// carries token material.
type Info struct {
	Authenticated bool
	SessionID     string // rotated identifier the caller must re-set as the cookie
	ValidUntil    time.Time
}

// SessionManager is the lifecycle state machine. Session state is implied
// by the stored record: present and unexpired means active, present past
// its access-token deadline means a refresh is due, absent means the
// caller must re-authenticate.
type SessionManager struct {
	sessions              *sessions.Repo
	pkce                  *pkce.Generator
	vault                 *vault.Vault
	provider              IdentityProvider
	defaultAccessTokenTTL time.Duration
	nowTime               func() time.Time
}

// SessionManagerOption modifies a SessionManager instance.
type SessionManagerOption func(*SessionManager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		m.nowTime = nowFunc
	}
}

// NewSessionManager initialises the manager with its explicit
// dependencies; nothing here reaches for ambient singletons.
func NewSessionManager(
	sessionRepo *sessions.Repo,
	pkceGenerator *pkce.Generator,
	tokenVault *vault.Vault,
	idp IdentityProvider,
	defaultAccessTokenTTL time.Duration,
	options ...SessionManagerOption,
) (*SessionManager, error) {
	if sessionRepo == nil {
		return nil, fmt.Errorf("[NewSessionManager] session repo is required")
	}
	if pkceGenerator == nil {
		return nil, fmt.Errorf("[NewSessionManager] pkce generator is required")
	}
	if tokenVault == nil {
		return nil, fmt.Errorf("[NewSessionManager] vault is required")
	}
	if idp == nil {
		return nil, fmt.Errorf("[NewSessionManager] identity provider is required")
	}

	m := &SessionManager{
		sessions:              sessionRepo,
		pkce:                  pkceGenerator,
		vault:                 tokenVault,
		provider:              idp,
		defaultAccessTokenTTL: defaultAccessTokenTTL,
		nowTime:               time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Login generates and binds a PKCE bundle and returns the provider
// authorization URL the browser should be redirected to. No session exists
// yet at this point.
func (m *SessionManager) Login(ctx context.Context) (string, error) {
	bundle, err := m.pkce.Generate()
	if err != nil {
		return "", errors.Wrapf(err, "[Login] pkce.Generate")
	}
	if err := m.pkce.Bind(ctx, bundle.State, bundle.Verifier); err != nil {
		return "", errors.Wrapf(err, "[Login] pkce.Bind")
	}
	return m.provider.AuthCodeURL(bundle.State, bundle.Challenge), nil
}

// Callback consumes the PKCE binding for state, exchanges the code, and
// creates the session. Any failure before the final store write leaves no
// session behind.
func (m *SessionManager) Callback(ctx context.Context, code, state string) (sessions.Session, error) {
	verifier, err := m.pkce.Consume(ctx, state)
	if err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[Callback] pkce.Consume")
	}

	toks, err := m.provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[Callback] exchange")
	}

	sessionID, err := sessions.NewSessionID()
	if err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[Callback] NewSessionID")
	}

	now := m.nowTime()
	session := sessions.Session{
		ID:                   sessionID,
		AccessTokenExpiresAt: m.expiryOrDefault(toks),
		CreatedAt:            now,
		UserInfo:             cachedUserInfo(toks.AccessToken),
	}
	if session.AccessToken, err = m.vault.Encrypt(toks.AccessToken); err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[Callback] encrypt access token")
	}
	if session.RefreshToken, err = m.vault.Encrypt(toks.RefreshToken); err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[Callback] encrypt refresh token")
	}

	if err := m.sessions.Put(ctx, session); err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[Callback] persist session")
	}
	return session, nil
}

// EnsureFresh returns the session, refreshing its tokens first when the
// access token deadline has passed. Refresh is reactive only: no upstream
// call happens before the deadline, not even by a safety margin.
func (m *SessionManager) EnsureFresh(ctx context.Context, sessionID string) (sessions.Session, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return sessions.Session{}, err
	}
	if m.nowTime().Before(session.AccessTokenExpiresAt) {
		return session, nil
	}
	return m.refreshSession(ctx, sessionID)
}

// SessionInfo runs the refresh check, rotates the session identifier, and
// returns non-token status. The caller must replace the cookie with
// Info.SessionID; the prior identifier no longer resolves.
func (m *SessionManager) SessionInfo(ctx context.Context, sessionID string) (Info, error) {
	session, err := m.EnsureFresh(ctx, sessionID)
	if err != nil {
		return Info{}, err
	}

	rotated, err := m.sessions.Rotate(ctx, session)
	if err != nil {
		return Info{}, errors.Wrapf(err, "[SessionInfo] rotate")
	}
	return Info{
		Authenticated: true,
		SessionID:     rotated.ID,
		ValidUntil:    m.sessions.ValidUntil(rotated),
	}, nil
}

// Validate runs the refresh check and returns the raw decrypted access
// token under the same identifier. This is the only operation that ever
// exposes a token, and only to internal callers; the restriction is enforced by
// network policy at deployment, not by anything in the token itself.
func (m *SessionManager) Validate(ctx context.Context, sessionID string) (string, error) {
	session, err := m.EnsureFresh(ctx, sessionID)
	if err != nil {
		return "", err
	}

	accessToken, err := m.vault.Decrypt(session.AccessToken)
	if err != nil {
		// Undecryptable record: corrupted session, force re-login.
		_ = m.sessions.Delete(ctx, sessionID)
		return "", errors.Wrapf(errors.ErrSessionExpired, "stored access token unreadable: %v", err)
	}
	return accessToken, nil
}

// Logout revokes the refresh token at the provider on a best-effort basis
// and deletes the session locally. Local deletion is unconditional; a
// provider failure never blocks it.
func (m *SessionManager) Logout(ctx context.Context, sessionID string) error {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrNoSession) {
			return nil
		}
		return errors.Wrapf(err, "[Logout] sessions.Get")
	}

	if refreshToken, err := m.vault.Decrypt(session.RefreshToken); err == nil {
		// Result intentionally discarded: provider-side logout is
		// best-effort and must never block local deletion.
		_ = m.provider.Revoke(ctx, refreshToken)
	}

	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return errors.Wrapf(err, "[Logout] sessions.Delete")
	}
	return nil
}

// Introspect asks the provider about the session's current access token.
// Diagnostic only; the refresh decision never consults it.
func (m *SessionManager) Introspect(ctx context.Context, sessionID string) (map[string]any, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	accessToken, err := m.vault.Decrypt(session.AccessToken)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSessionExpired, "stored access token unreadable: %v", err)
	}
	return m.provider.Introspect(ctx, accessToken)
}

// refreshSession serialises the read-refresh-write sequence behind a
// per-session lease so that concurrent requests crossing the expiry
// deadline trigger at most one upstream refresh: the provider accepts each
// refresh-token value at most once, and a second exchange with a consumed
// token would fail. Non-holders wait and re-read until they observe the
// winner's record.
func (m *SessionManager) refreshSession(ctx context.Context, sessionID string) (sessions.Session, error) {
	for round := 0; ; round++ {
		acquired, err := m.sessions.AcquireRefreshLease(ctx, sessionID, refreshLeaseTTL)
		if err != nil {
			return sessions.Session{}, errors.Wrapf(err, "[refreshSession] acquire lease")
		}
		if acquired {
			break
		}
		if round >= leaseWaitRounds {
			return sessions.Session{}, errors.Wrapf(errors.ErrUpstreamUnavailable, "timed out waiting for concurrent refresh")
		}

		select {
		case <-ctx.Done():
			return sessions.Session{}, errors.Wrapf(errors.ErrUpstreamUnavailable, "cancelled waiting for concurrent refresh: %v", ctx.Err())
		case <-time.After(leaseWaitStep):
		}

		// The holder deletes the session on rejection and rewrites it on
		// success; re-read to observe either outcome.
		session, err := m.sessions.Get(ctx, sessionID)
		if err != nil {
			return sessions.Session{}, err
		}
		if m.nowTime().Before(session.AccessTokenExpiresAt) {
			return session, nil
		}
	}
	defer func() {
		_ = m.sessions.ReleaseRefreshLease(ctx, sessionID)
	}()

	// Re-read under the lease: another request may have completed the
	// refresh between our expiry check and lease acquisition.
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return sessions.Session{}, err
	}
	if m.nowTime().Before(session.AccessTokenExpiresAt) {
		return session, nil
	}

	refreshToken, err := m.vault.Decrypt(session.RefreshToken)
	if err != nil {
		_ = m.sessions.Delete(ctx, sessionID)
		return sessions.Session{}, errors.Wrapf(errors.ErrSessionExpired, "stored refresh token unreadable: %v", err)
	}

	var toks provider.TokenSet
	for attempt := 0; attempt < refreshRetries; attempt++ {
		toks, err = m.provider.Refresh(ctx, refreshToken)
		if err == nil {
			break
		}
		if errors.Is(err, errors.ErrUpstreamRejected) {
			// The refresh token was revoked or already consumed; the
			// session cannot recover.
			_ = m.sessions.Delete(ctx, sessionID)
			return sessions.Session{}, errors.Wrapf(errors.ErrSessionExpired, "refresh rejected: %v", err)
		}
	}
	if err != nil {
		// Transient failure past the retry budget: fail this call but
		// leave the session intact for the next request.
		return sessions.Session{}, errors.Wrapf(err, "[refreshSession] refresh")
	}

	session.AccessTokenExpiresAt = m.expiryOrDefault(toks)
	if session.AccessToken, err = m.vault.Encrypt(toks.AccessToken); err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[refreshSession] encrypt access token")
	}
	if session.RefreshToken, err = m.vault.Encrypt(toks.RefreshToken); err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[refreshSession] encrypt refresh token")
	}
	if info := cachedUserInfo(toks.AccessToken); info != nil {
		session.UserInfo = info
	}

	if err := m.sessions.Put(ctx, session); err != nil {
		return sessions.Session{}, errors.Wrapf(err, "[refreshSession] persist refreshed session")
	}
	return session, nil
}

func (m *SessionManager) expiryOrDefault(toks provider.TokenSet) time.Time {
	if !toks.Expiry.IsZero() {
		return toks.Expiry
	}
	return m.nowTime().Add(m.defaultAccessTokenTTL)
}
