// Package gossip implements the Work-Claim Gossip layer: a best-effort
// distributed lock over canonical (hashA,hashB) pairs, heartbeats, and the
// peer directory. Grounded on the teacher's pkg/batch/peer_manager.go
// HTTPPeerManager — announce/heartbeat/broadcast over HTTP JSON, per-peer
// timeout and failure isolation — generalized from BLS attestation
// broadcast to work-claim coordination.
package gossip

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// ClaimTable is the shared region (d) work-claim half: at most one
// unexpired claim per canonical key (invariant 4).
type ClaimTable struct {
	mu     sync.Mutex
	claims map[string]*model.WorkClaim
	ttl    time.Duration
}

// NewClaimTable constructs an empty table with the given claim TTL
// (default 5 minutes per spec.md §3).
func NewClaimTable(ttl time.Duration) *ClaimTable {
	return &ClaimTable{claims: make(map[string]*model.WorkClaim), ttl: ttl}
}

// TryClaim attempts to claim the canonical (hashA,hashB) key for
// mediatorID. Re-claiming a key already held by the same mediator returns
// the existing claim unchanged (idempotent claim, testable property 8).
func (t *ClaimTable) TryClaim(hashA, hashB, mediatorID string, now time.Time) (*model.WorkClaim, error) {
	keyA, keyB := model.CanonicalPair(hashA, hashB)
	key := keyA + "|" + keyB

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.claims[key]; ok && !existing.Expired(now.UnixMilli()) {
		if existing.MediatorID == mediatorID {
			return existing, nil
		}
		return nil, apierr.Conflict("work claim already held by another mediator", nil)
	}

	claim := &model.WorkClaim{
		ClaimID:    uuid.NewString(),
		MediatorID: mediatorID,
		KeyA:       keyA,
		KeyB:       keyB,
		ClaimedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(t.ttl).UnixMilli(),
	}
	t.claims[key] = claim
	return claim, nil
}

// Release drops a claim. It is a no-op if the claim does not exist or
// belongs to a different mediator, mirroring the "best effort, not a
// correctness boundary" design of spec.md §4.4.
func (t *ClaimTable) Release(hashA, hashB, mediatorID string) {
	keyA, keyB := model.CanonicalPair(hashA, hashB)
	key := keyA + "|" + keyB

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.claims[key]; ok && existing.MediatorID == mediatorID {
		delete(t.claims, key)
	}
}

// AdoptRemoteClaim records a claim announced by a peer (via a work_claim
// gossip message) so local TryClaim calls correctly refuse it.
func (t *ClaimTable) AdoptRemoteClaim(claim model.WorkClaim) {
	key := claim.KeyA + "|" + claim.KeyB
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.claims[key]; ok && existing.ClaimedAt >= claim.ClaimedAt {
		return
	}
	t.claims[key] = &claim
}

// AdoptRemoteRelease removes a claim a peer announced releasing.
func (t *ClaimTable) AdoptRemoteRelease(keyA, keyB, mediatorID string) {
	key := keyA + "|" + keyB
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.claims[key]; ok && existing.MediatorID == mediatorID {
		delete(t.claims, key)
	}
}

// SweepExpired drops every expired claim, called by the periodic stale-claim
// sweep.
func (t *ClaimTable) SweepExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, c := range t.claims {
		if c.Expired(now.UnixMilli()) {
			delete(t.claims, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of claims currently held, including expired
// ones SweepExpired has not yet removed (for testable property 5: no two
// claims share a key on one node, which holds trivially from the map's
// keying but is exposed for tests).
func (t *ClaimTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.claims)
}
