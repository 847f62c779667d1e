// Package guard tracks consumed session identifiers and per-(user, campaign)
// redemption timestamps to block replay attacks and enforce the redemption
// rate limit.
//
// The guard owns no storage itself: it depends on a narrow Store abstraction
// so a single-process deployment can run on the in-memory implementation
// while a multi-instance deployment backs it with Redis. Expiry is handled
// by an opportunistic sweep triggered from the verification path rather
// than a dedicated timer, keeping the core free of background machinery.
package guard

import (
	"context"
	"sync"
	"time"
)

const (
	// RetentionWindow is how long session and redemption records are kept.
	RetentionWindow = 24 * time.Hour

	// RateLimitWindow is the minimum gap between redemptions for the same
	// (user, campaign) pair.
	RateLimitWindow = 24 * time.Hour

	// SweepInterval bounds how often the opportunistic cleanup runs.
	SweepInterval = 5 * time.Minute
)

// Store is the shared mutable state behind the guard. Implementations must
// make each operation atomic relative to concurrent callers. Values are
// epoch-millisecond timestamps.
type Store interface {
	// Get returns the recorded timestamp for key, and whether one exists.
	Get(ctx context.Context, key string) (int64, bool, error)

	// Set records (or overwrites) the timestamp for key.
	Set(ctx context.Context, key string, at int64) error

	// SetNX records the timestamp for key only if no entry exists, and
	// reports whether the claim stuck. The check and the write must be a
	// single atomic step — this is what closes the check-then-record race
	// between concurrent verifications sharing a key.
	SetNX(ctx context.Context, key string, at int64) (bool, error)

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error

	// Sweep removes every entry recorded before cutoff. Implementations
	// with native TTL support may make this a no-op.
	Sweep(ctx context.Context, cutoff int64) error
}

// Guard is the replay and rate-limit checker used by the verification
// orchestrator.
type Guard struct {
	store Store

	mu        sync.Mutex
	lastSweep time.Time
}

// New creates a Guard backed by the given store.
func New(store Store) *Guard {
	return &Guard{store: store}
}

// ClaimSession atomically marks the session identifier as consumed. A false
// return means another verification already holds it: a replay. Claim
// before any analysis runs and release via ReleaseSession if the
// verification does not ultimately succeed — two concurrent calls sharing a
// session must never both get past this point.
func (g *Guard) ClaimSession(ctx context.Context, sessionID string) (bool, error) {
	return g.store.SetNX(ctx, sessionKey(sessionID), time.Now().UnixMilli())
}

// ClaimRedemption atomically stamps the redemption time for the (user,
// campaign) pair. A false return means a redemption within the rate-limit
// window already holds the stamp. A stale stamp is replaced; when several
// callers race to replace one, exactly one wins and the rest are limited.
func (g *Guard) ClaimRedemption(ctx context.Context, userID, campaignID string) (bool, error) {
	key := redemptionKey(userID, campaignID)
	now := time.Now().UnixMilli()

	claimed, err := g.store.SetNX(ctx, key, now)
	if err != nil || claimed {
		return claimed, err
	}

	last, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if ok && last > now-RateLimitWindow.Milliseconds() {
		return false, nil
	}

	// Stamp is stale (or expired between the calls): clear it and race for
	// the replacement.
	if err := g.store.Delete(ctx, key); err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, now)
}

// ReleaseSession returns a claimed session so a later attempt can reuse it.
// Called when a verification is rejected after the claim was taken.
func (g *Guard) ReleaseSession(ctx context.Context, sessionID string) error {
	return g.store.Delete(ctx, sessionKey(sessionID))
}

// ReleaseRedemption clears the caller's own redemption stamp. Only call
// after a successful ClaimRedemption — the stamp may belong to another
// verification otherwise.
func (g *Guard) ReleaseRedemption(ctx context.Context, userID, campaignID string) error {
	return g.store.Delete(ctx, redemptionKey(userID, campaignID))
}

// Sweep opportunistically expires old records. It no-ops unless the sweep
// interval has elapsed since the last run, so calling it on every
// verification is cheap.
func (g *Guard) Sweep(ctx context.Context) {
	g.mu.Lock()
	if time.Since(g.lastSweep) < SweepInterval {
		g.mu.Unlock()
		return
	}
	g.lastSweep = time.Now()
	g.mu.Unlock()

	cutoff := time.Now().Add(-RetentionWindow).UnixMilli()
	// Best effort: a failed sweep only delays expiry until the next one.
	_ = g.store.Sweep(ctx, cutoff)
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func redemptionKey(userID, campaignID string) string {
	return "redemption:" + userID + "|" + campaignID
}
