// Package evidence implements the Evidence Freezer of spec.md §4.7: it
// snapshots and freezes artifacts referenced by an open dispute, rejecting
// further mutation until resolution. Grounded on the teacher's
// pkg/database repository pattern (mutex-guarded in-memory map mirroring a
// persisted table), adapted from a Postgres-backed repository to the
// file-per-entity store this module uses.
package evidence

import (
	"fmt"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Freezer owns the shared region (f) frozen-items table.
type Freezer struct {
	mu    sync.Mutex
	items map[string]*model.FrozenItem
}

// New constructs an empty Freezer; callers rehydrate it from pkg/store.
func New() *Freezer {
	return &Freezer{items: make(map[string]*model.FrozenItem)}
}

// Freeze snapshots itemType/itemID as of snapshotContent, computing its
// snapshotHash and binding it to disputeID. Freezing an already-frozen item
// for the same dispute is idempotent.
func (f *Freezer) Freeze(disputeID, itemType, itemID string, snapshotContent any) (*model.FrozenItem, error) {
	snapshotHash, err := model.HashFields(snapshotContent)
	if err != nil {
		return nil, apierr.Integrity(fmt.Sprintf("failed to snapshot %s %s", itemType, itemID), err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.items[itemID]; ok && existing.Status == model.FrozenUnderDispute {
		if existing.DisputeID == disputeID {
			return existing, nil
		}
		return nil, apierr.Conflict(fmt.Sprintf("item %s is already frozen by dispute %s", itemID, existing.DisputeID), nil)
	}

	item := &model.FrozenItem{
		ItemID:       itemID,
		ItemType:     itemType,
		DisputeID:    disputeID,
		SnapshotHash: snapshotHash,
		Status:       model.FrozenUnderDispute,
	}
	f.items[itemID] = item
	return item, nil
}

// RejectMutation records a rejected mutation attempt against a frozen item
// in its MutationAttempts and returns a Conflict error, so the rejection
// itself is auditable. An item not in the freezer is ignored (nil error).
func (f *Freezer) RejectMutation(itemID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return nil
	}
	item.MutationAttempts = append(item.MutationAttempts, at.UnixMilli())
	return apierr.Conflict(fmt.Sprintf("item %s is frozen under dispute %s", itemID, item.DisputeID), nil)
}

// IsFrozen reports whether itemID is currently frozen (under_dispute), the
// gate every other component checks before allowing a mutation.
func (f *Freezer) IsFrozen(itemID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	return ok && item.Status == model.FrozenUnderDispute
}

// Unfreeze moves every item tied to disputeID to dispute_resolved, re-making
// them mutable, but only when outcome is non-punitive (spec.md §4.7 step 3).
// Punitive outcomes leave items frozen pending external enforcement.
func (f *Freezer) Unfreeze(disputeID string, outcome model.ResolutionOutcome) []string {
	if outcome.Punitive() {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var unfrozen []string
	for id, item := range f.items {
		if item.DisputeID == disputeID && item.Status == model.FrozenUnderDispute {
			item.Status = model.FrozenDisputeResolved
			unfrozen = append(unfrozen, id)
		}
	}
	return unfrozen
}

// ItemsForDispute returns a snapshot of every frozen item tied to disputeID.
func (f *Freezer) ItemsForDispute(disputeID string) []model.FrozenItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.FrozenItem
	for _, item := range f.items {
		if item.DisputeID == disputeID {
			out = append(out, *item)
		}
	}
	return out
}

// Hydrate restores persisted frozen items at startup.
func (f *Freezer) Hydrate(items []model.FrozenItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range items {
		item := items[i]
		f.items[item.ItemID] = &item
	}
}
