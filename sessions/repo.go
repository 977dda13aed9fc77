package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bionicpro/auth-service/internal/errors"
	"github.com/bionicpro/auth-service/kvstore"
)

const (
	sessionPrefix = "session:"
	leasePrefix   = "lease:"
)

// Repo persists sessions in the backing store as JSON with an absolute
// lifetime: every write carries the time remaining until
// CreatedAt + sessionTTL, so rotation and refresh never extend a session
// past its original deadline. The store is the sole source of truth;
// nothing is cached in process across requests.
type Repo struct {
	store      kvstore.Store
	sessionTTL time.Duration
	nowTime    func() time.Time
}

// NewRepo creates a session repository over the given store.
func NewRepo(store kvstore.Store, sessionTTL time.Duration) *Repo {
	return &Repo{store: store, sessionTTL: sessionTTL, nowTime: time.Now}
}

// SetNowFunc overrides the clock (primarily for testing).
func (r *Repo) SetNowFunc(now func() time.Time) {
	r.nowTime = now
}

// Get loads a session by identifier. A missing or expired record yields
// ErrNoSession; a store failure is surfaced as-is, never as absence.
func (r *Repo) Get(ctx context.Context, sessionID string) (Session, error) {
	data, err := r.store.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return Session{}, errors.ErrNoSession
		}
		return Session{}, errors.Wrapf(err, "[Repo.Get] store.Get")
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, errors.Wrapf(err, "[Repo.Get] unmarshal session")
	}
	session.ID = sessionID
	return session, nil
}

// Put writes a session under its identifier.
func (r *Repo) Put(ctx context.Context, session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrapf(err, "[Repo.Put] marshal session")
	}

	ttl := r.remainingTTL(session)
	if ttl <= 0 {
		return errors.ErrSessionExpired
	}
	if err := r.store.Put(ctx, sessionPrefix+session.ID, data, ttl); err != nil {
		return errors.Wrapf(err, "[Repo.Put] store.Put")
	}
	return nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (r *Repo) Delete(ctx context.Context, sessionID string) error {
	if err := r.store.Delete(ctx, sessionPrefix+sessionID); err != nil {
		return errors.Wrapf(err, "[Repo.Delete] store.Delete")
	}
	return nil
}

// Rotate writes the session under a brand-new identifier and deletes the
// old record, returning the rotated session. The new record is written
// first so a failure between the two steps cannot strand the browser
// without any resolvable session.
func (r *Repo) Rotate(ctx context.Context, session Session) (Session, error) {
	oldID := session.ID
	newID, err := NewSessionID()
	if err != nil {
		return Session{}, errors.Wrapf(err, "[Repo.Rotate] NewSessionID")
	}

	session.ID = newID
	if err := r.Put(ctx, session); err != nil {
		return Session{}, errors.Wrapf(err, "[Repo.Rotate] put new record")
	}
	if err := r.Delete(ctx, oldID); err != nil {
		return Session{}, errors.Wrapf(err, "[Repo.Rotate] delete old record")
	}
	return session, nil
}

// AcquireRefreshLease attempts to take the per-session refresh lease,
// serialising EnsureFresh's read-refresh-write sequence across concurrent
// requests (and across broker instances sharing the store).
func (r *Repo) AcquireRefreshLease(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := r.store.SetNX(ctx, leasePrefix+sessionID, []byte("1"), ttl)
	if err != nil {
		return false, errors.Wrapf(err, "[Repo.AcquireRefreshLease] store.SetNX")
	}
	return ok, nil
}

// ReleaseRefreshLease frees the per-session refresh lease.
func (r *Repo) ReleaseRefreshLease(ctx context.Context, sessionID string) error {
	return r.store.Delete(ctx, leasePrefix+sessionID)
}

// ValidUntil is the absolute deadline after which the session cannot be
// used regardless of token refreshes.
func (r *Repo) ValidUntil(session Session) time.Time {
	return session.CreatedAt.Add(r.sessionTTL)
}

func (r *Repo) remainingTTL(session Session) time.Duration {
	return r.ValidUntil(session).Sub(r.nowTime())
}
