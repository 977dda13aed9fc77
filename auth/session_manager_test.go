package auth_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bionicpro/auth-service/auth"
	"github.com/bionicpro/auth-service/internal/errors"
	"github.com/bionicpro/auth-service/kvstore"
	"github.com/bionicpro/auth-service/pkce"
	"github.com/bionicpro/auth-service/provider"
	"github.com/bionicpro/auth-service/sessions"
	"github.com/bionicpro/auth-service/vault"
)

// fakeProvider implements auth.IdentityProvider with single-use refresh
// tokens, mirroring how the real provider consumes each refresh token on
// first use.
type fakeProvider struct {
	mu            sync.Mutex
	now           func() time.Time
	accessTTL     time.Duration
	mintAccess    func(n int) string
	issued        int
	exchangeCalls int
	refreshCalls  int
	revokeCalls   int
	refreshErr    error
	revokeErr     error
	validRefresh  map[string]bool
	lastVerifier  string
	lastRevoked   string
}

func newFakeProvider(now func() time.Time) *fakeProvider {
	return &fakeProvider{
		now:          now,
		accessTTL:    2 * time.Minute,
		mintAccess:   func(n int) string { return fmt.Sprintf("access-%d", n) },
		validRefresh: map[string]bool{},
	}
}

func (f *fakeProvider) AuthCodeURL(state, challenge string) string {
	return "https://idp.example/auth?state=" + url.QueryEscape(state) +
		"&code_challenge=" + url.QueryEscape(challenge)
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code, verifier string) (provider.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	f.lastVerifier = verifier
	return f.mintLocked(), nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (provider.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return provider.TokenSet{}, f.refreshErr
	}
	if !f.validRefresh[refreshToken] {
		return provider.TokenSet{}, errors.Wrapf(errors.ErrUpstreamRejected, "refresh: provider returned 400")
	}
	delete(f.validRefresh, refreshToken)
	return f.mintLocked(), nil
}

func (f *fakeProvider) Revoke(ctx context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	f.lastRevoked = refreshToken
	return f.revokeErr
}

func (f *fakeProvider) Introspect(ctx context.Context, token string) (map[string]any, error) {
	return map[string]any{"active": true}, nil
}

func (f *fakeProvider) mintLocked() provider.TokenSet {
	f.issued++
	refresh := fmt.Sprintf("refresh-%d", f.issued)
	f.validRefresh[refresh] = true
	return provider.TokenSet{
		AccessToken:  f.mintAccess(f.issued),
		RefreshToken: refresh,
		Expiry:       f.now().Add(f.accessTTL),
	}
}

func (f *fakeProvider) counts() (exchanges, refreshes, revokes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls, f.refreshCalls, f.revokeCalls
}

type managerEnv struct {
	store   *kvstore.InMemoryStore
	repo    *sessions.Repo
	manager *auth.SessionManager
	idp     *fakeProvider
	now     *time.Time
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := kvstore.NewInMemoryStore()
	store.SetNowFunc(clock)

	repo := sessions.NewRepo(store, time.Hour)
	repo.SetNowFunc(clock)

	v, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	idp := newFakeProvider(clock)
	manager, err := auth.NewSessionManager(
		repo,
		pkce.NewGenerator(store, 5*time.Minute),
		v,
		idp,
		2*time.Minute,
		auth.WithNowTime(clock),
	)
	require.NoError(t, err)

	return &managerEnv{store: store, repo: repo, manager: manager, idp: idp, now: &now}
}

// loginAndCallback runs the full authorization-code flow against the fake
// provider and returns the created session plus the state and challenge
// that were bound during login.
func (e *managerEnv) loginAndCallback(t *testing.T) (sessions.Session, string, string) {
	t.Helper()
	ctx := context.Background()

	authURL, err := e.manager.Login(ctx)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	challenge := u.Query().Get("code_challenge")
	require.NotEmpty(t, state)
	require.NotEmpty(t, challenge)

	session, err := e.manager.Callback(ctx, "auth-code", state)
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	return session, state, challenge
}

func TestLoginCallbackFlow(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, state, challenge := e.loginAndCallback(t)

	// The verifier sent to the provider must hash to the challenge that
	// went out in the authorization URL.
	require.Equal(t, challenge, pkce.Challenge(e.idp.lastVerifier))

	token, err := e.manager.Validate(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, "access-1", token)

	// Replaying the state must fail: the binding is consumed on first use.
	_, err = e.manager.Callback(ctx, "auth-code", state)
	require.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestCallbackUnknownState(t *testing.T) {
	e := newManagerEnv(t)

	_, err := e.manager.Callback(context.Background(), "auth-code", "never-bound")
	require.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestEnsureFreshBeforeDeadlineMakesNoUpstreamCall(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	// Right up to the deadline the stored token is served as-is.
	*e.now = e.now.Add(2*time.Minute - time.Second)
	got, err := e.manager.EnsureFresh(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.AccessToken, got.AccessToken)

	exchanges, refreshes, _ := e.idp.counts()
	require.Equal(t, 1, exchanges)
	require.Equal(t, 0, refreshes)
}

func TestRefreshAtDeadline(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	*e.now = e.now.Add(2 * time.Minute)
	token, err := e.manager.Validate(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, "access-2", token)

	// The refreshed deadline is in the future again, so the next call
	// serves the stored token without another upstream round trip.
	token, err = e.manager.Validate(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, "access-2", token)

	_, refreshes, _ := e.idp.counts()
	require.Equal(t, 1, refreshes)
}

func TestConcurrentEnsureFreshRefreshesOnce(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)
	*e.now = e.now.Add(2 * time.Minute)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.manager.EnsureFresh(ctx, session.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	_, refreshes, _ := e.idp.counts()
	require.Equal(t, 1, refreshes)
}

func TestRejectedRefreshExpiresSession(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	// Simulate the provider revoking the refresh token out of band.
	e.idp.mu.Lock()
	e.idp.validRefresh = map[string]bool{}
	e.idp.mu.Unlock()

	*e.now = e.now.Add(2 * time.Minute)
	_, err := e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrSessionExpired)

	// Rejection is terminal: no retry, and the record is gone.
	_, refreshes, _ := e.idp.counts()
	require.Equal(t, 1, refreshes)
	_, err = e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrNoSession)
}

func TestUnavailableProviderKeepsSession(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	e.idp.mu.Lock()
	e.idp.refreshErr = errors.Wrapf(errors.ErrUpstreamUnavailable, "refresh: connection refused")
	e.idp.mu.Unlock()

	*e.now = e.now.Add(2 * time.Minute)
	_, err := e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrUpstreamUnavailable)

	_, refreshes, _ := e.idp.counts()
	require.Equal(t, 2, refreshes)

	// Once the provider recovers the same session refreshes normally.
	e.idp.mu.Lock()
	e.idp.refreshErr = nil
	e.idp.mu.Unlock()

	token, err := e.manager.Validate(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, "access-2", token)
}

func TestSessionInfoRotatesIdentifier(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	info, err := e.manager.SessionInfo(ctx, session.ID)
	require.NoError(t, err)
	require.True(t, info.Authenticated)
	require.NotEqual(t, session.ID, info.SessionID)
	require.True(t, info.ValidUntil.Equal(session.CreatedAt.Add(time.Hour)))

	// The prior identifier no longer resolves; the rotated one does.
	_, err = e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrNoSession)

	token, err := e.manager.Validate(ctx, info.SessionID)
	require.NoError(t, err)
	require.Equal(t, "access-1", token)
}

func TestValidateDoesNotRotate(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	for i := 0; i < 3; i++ {
		token, err := e.manager.Validate(ctx, session.ID)
		require.NoError(t, err)
		require.Equal(t, "access-1", token)
	}
}

func TestLogout(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	require.NoError(t, e.manager.Logout(ctx, session.ID))

	_, _, revokes := e.idp.counts()
	require.Equal(t, 1, revokes)
	require.Equal(t, "refresh-1", e.idp.lastRevoked)

	_, err := e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrNoSession)

	// Logging out an absent session is a no-op, not an error.
	require.NoError(t, e.manager.Logout(ctx, session.ID))
}

func TestLogoutSurvivesRevokeFailure(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	e.idp.mu.Lock()
	e.idp.revokeErr = errors.Wrapf(errors.ErrUpstreamUnavailable, "revoke: connection refused")
	e.idp.mu.Unlock()

	require.NoError(t, e.manager.Logout(ctx, session.ID))

	_, err := e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrNoSession)
}

func TestCorruptedAccessTokenForcesRelogin(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	stored, err := e.repo.Get(ctx, session.ID)
	require.NoError(t, err)
	stored.AccessToken = "not-a-ciphertext"
	require.NoError(t, e.repo.Put(ctx, stored))

	_, err = e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrSessionExpired)

	_, err = e.manager.Validate(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrNoSession)
}

func TestCorruptedRefreshTokenForcesRelogin(t *testing.T) {
	e := newManagerEnv(t)
	ctx := context.Background()

	session, _, _ := e.loginAndCallback(t)

	stored, err := e.repo.Get(ctx, session.ID)
	require.NoError(t, err)
	stored.RefreshToken = "not-a-ciphertext"
	require.NoError(t, e.repo.Put(ctx, stored))

	*e.now = e.now.Add(2 * time.Minute)
	_, err = e.manager.EnsureFresh(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrSessionExpired)

	_, err = e.manager.EnsureFresh(ctx, session.ID)
	require.ErrorIs(t, err, errors.ErrNoSession)
}

func TestCallbackCachesUserInfoFromJWT(t *testing.T) {
	e := newManagerEnv(t)

	e.idp.mintAccess = func(n int) string {
		return unsignedJWT(t, map[string]any{
			"sub":                "user-1",
			"preferred_username": "alice",
			"email":              "alice@example.com",
			"iat":                1234567890,
		})
	}

	session, _, _ := e.loginAndCallback(t)

	stored, err := e.repo.Get(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, "user-1", stored.UserInfo["sub"])
	require.Equal(t, "alice", stored.UserInfo["preferred_username"])
	require.Equal(t, "alice@example.com", stored.UserInfo["email"])

	// Claims outside the cached subset are not persisted.
	require.NotContains(t, stored.UserInfo, "iat")
}

func TestCallbackOpaqueTokenLeavesUserInfoEmpty(t *testing.T) {
	e := newManagerEnv(t)

	session, _, _ := e.loginAndCallback(t)

	stored, err := e.repo.Get(context.Background(), session.ID)
	require.NoError(t, err)
	require.Nil(t, stored.UserInfo)
}

func TestManagerIntrospect(t *testing.T) {
	e := newManagerEnv(t)

	session, _, _ := e.loginAndCallback(t)

	claims, err := e.manager.Introspect(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, true, claims["active"])
}

// unsignedJWT builds a three-segment token with an empty signature, which
// is enough for unverified claim parsing.
func unsignedJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "."
}
