package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/chatauth/kv"
)

var (
	// ErrNotFound is returned when the session, or its rotation id, no longer exists.
	ErrNotFound = errors.New("session not found")
	// ErrReuse is returned by Rotate when the presented rotation id is stale.
	ErrReuse = errors.New("refresh rotation id reused")
)

// Registry records sessions and answers revocation queries.
type Registry struct {
	store    *kv.Store
	lifetime time.Duration
	cache    *RevokedCache
}

// NewRegistry creates a [Registry]. lifetime must be the refresh-token
// lifetime; session records and revocation markers live that long. cache may
// be nil.
func NewRegistry(store *kv.Store, lifetime time.Duration, cache *RevokedCache) *Registry {
	return &Registry{store: store, lifetime: lifetime, cache: cache}
}

func sessionKey(userID, sessionID string) string {
	return "sess:" + userID + ":" + sessionID
}

func rotationKey(userID, sessionID string) string {
	return "sref:" + userID + ":" + sessionID
}

func revokedKey(userID, sessionID string) string {
	return "srev:" + userID + ":" + sessionID
}

func userKey(userID string) string {
	return "suser:" + userID
}

// Record stores rec together with its refresh rotation id and adds it to the
// user's session index in one transaction.
func (r *Registry) Record(ctx context.Context, rec Record, refreshID string) error {
	if rec.UserID == "" || rec.SessionID == "" {
		return errors.New("session record requires user and session id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return r.store.Atomic(ctx, func(b *kv.Batch) {
		b.Set(sessionKey(rec.UserID, rec.SessionID), string(data), r.lifetime)
		b.Set(rotationKey(rec.UserID, rec.SessionID), refreshID, r.lifetime)
		b.AddMember(userKey(rec.UserID), rec.SessionID, r.lifetime)
	})
}

// Get returns the live session or [ErrNotFound].
func (r *Registry) Get(ctx context.Context, userID, sessionID string) (*Record, error) {
	raw, ok, err := r.store.Get(ctx, sessionKey(userID, sessionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}

// Exists reports whether the session record is still present.
func (r *Registry) Exists(ctx context.Context, userID, sessionID string) (bool, error) {
	return r.store.Exists(ctx, sessionKey(userID, sessionID))
}

// IsRevoked reports whether a revocation marker exists for the session.
// Store errors are returned to the caller, which must treat them as revoked.
func (r *Registry) IsRevoked(ctx context.Context, userID, sessionID string) (bool, error) {
	key := revokedKey(userID, sessionID)
	if r.cache.Revoked(key) {
		return true, nil
	}
	revoked, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if revoked {
		r.cache.MarkRevoked(key)
	}
	return revoked, nil
}

// Revoke writes the revocation marker and removes the session from the
// registry. It reports whether a live session record existed. Revoking an
// already revoked or unknown session is not an error.
func (r *Registry) Revoke(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := r.store.Exists(ctx, sessionKey(userID, sessionID))
	if err != nil {
		return false, err
	}

	err = r.store.Atomic(ctx, func(b *kv.Batch) {
		b.Set(revokedKey(userID, sessionID), "1", r.lifetime)
		b.Delete(sessionKey(userID, sessionID), rotationKey(userID, sessionID))
		b.RemoveMember(userKey(userID), sessionID)
	})
	if err != nil {
		return false, err
	}
	r.cache.MarkRevoked(revokedKey(userID, sessionID))
	return existed, nil
}

// RevokeAll revokes every indexed session of userID except exceptSessionID
// (which may be empty) and returns how many live sessions were terminated.
//
// The index is read once; a session recorded concurrently with this call is
// not covered and must be revoked by a later call.
func (r *Registry) RevokeAll(ctx context.Context, userID, exceptSessionID string) (int, error) {
	ids, err := r.store.Members(ctx, userKey(userID))
	if err != nil {
		return 0, err
	}

	terminated := 0
	for _, sid := range ids {
		if sid == exceptSessionID {
			continue
		}
		existed, err := r.Revoke(ctx, userID, sid)
		if err != nil {
			return terminated, err
		}
		if existed {
			terminated++
		}
	}
	return terminated, nil
}

// Sessions lists the user's live sessions, oldest first. Index members whose
// record has expired are pruned.
func (r *Registry) Sessions(ctx context.Context, userID string) ([]Record, error) {
	ids, err := r.store.Members(ctx, userKey(userID))
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(ids))
	for _, sid := range ids {
		rec, err := r.Get(ctx, userID, sid)
		if errors.Is(err, ErrNotFound) {
			if err := r.store.RemoveMember(ctx, userKey(userID), sid); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Rotate replaces the session's refresh rotation id with next when presented
// is the current one. A stale id yields [ErrReuse]; a missing session yields
// [ErrNotFound].
func (r *Registry) Rotate(ctx context.Context, userID, sessionID, presented, next string) error {
	res, err := r.store.CompareAndSwap(ctx, rotationKey(userID, sessionID), presented, next)
	if err != nil {
		return err
	}
	switch res {
	case kv.CASSwapped:
		return nil
	case kv.CASMismatch:
		return ErrReuse
	default:
		return ErrNotFound
	}
}
