// Package dispute implements dispute lifecycle tracking and the
// DisputePackage builder of spec.md §4.7. Grounded on the teacher's
// pkg/database repository pattern for the dispute table and pkg/proof's
// artifact-bundling idiom (collect named pieces, stamp a hash, produce one
// self-contained object) for the package builder.
package dispute

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/evidence"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Registry owns the open disputes and their timelines.
type Registry struct {
	mu       sync.Mutex
	disputes map[string]*model.Dispute
	freezer  *evidence.Freezer
}

// New constructs an empty Registry bound to a Freezer for evidence
// snapshotting.
func New(freezer *evidence.Freezer) *Registry {
	return &Registry{disputes: make(map[string]*model.Dispute), freezer: freezer}
}

// Initiate opens a dispute over contestedItems, freezing a snapshot of
// each one.
func (r *Registry) Initiate(claimant string, contestedItems []model.ContestedItem, snapshots map[string]any, now time.Time) (*model.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := &model.Dispute{
		DisputeID:      uuid.NewString(),
		Status:         model.DisputeInitiated,
		Claimant:       claimant,
		ContestedItems: contestedItems,
		CreatedAt:      now.UnixMilli(),
	}

	for _, item := range contestedItems {
		snapshot, ok := snapshots[item.ID]
		if !ok {
			return nil, apierr.Validation(fmt.Sprintf("no evidence snapshot supplied for contested item %s", item.ID), nil)
		}
		frozen, err := r.freezer.Freeze(d.DisputeID, item.Type, item.ID, snapshot)
		if err != nil {
			return nil, err
		}
		d.FrozenItemIDs = append(d.FrozenItemIDs, frozen.ItemID)
	}

	d.Timeline = append(d.Timeline, model.TimelineEvent{Type: model.EventInitiated, At: now.UnixMilli()})
	r.disputes[d.DisputeID] = d
	return d, nil
}

// Advance appends a typed timeline event and, for clarifying/escalated
// events, updates the dispute's status to match.
func (r *Registry) Advance(disputeID string, eventType model.TimelineEventType, detail string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.disputes[disputeID]
	if !ok {
		return apierr.Validation(fmt.Sprintf("no such dispute %s", disputeID), nil)
	}

	d.Timeline = append(d.Timeline, model.TimelineEvent{Type: eventType, At: now.UnixMilli(), Detail: detail})

	switch eventType {
	case model.EventClarificationStarted:
		d.Status = model.DisputeClarifying
	case model.EventEscalated:
		d.Status = model.DisputeEscalated
	case model.EventEvidenceAdded:
		if d.Status == model.DisputeInitiated {
			d.Status = model.DisputeUnderReview
		}
	}
	return nil
}

// Resolve closes a dispute with a final outcome, unfreezing its items
// unless the outcome is punitive.
func (r *Registry) Resolve(disputeID string, outcome model.ResolutionOutcome, notes string, now time.Time) (*model.Resolution, error) {
	r.mu.Lock()
	d, ok := r.disputes[disputeID]
	if !ok {
		r.mu.Unlock()
		return nil, apierr.Validation(fmt.Sprintf("no such dispute %s", disputeID), nil)
	}
	d.Status = model.DisputeResolved
	d.Timeline = append(d.Timeline, model.TimelineEvent{Type: model.EventResolved, At: now.UnixMilli(), Detail: string(outcome)})
	r.mu.Unlock()

	r.freezer.Unfreeze(disputeID, outcome)

	return &model.Resolution{
		ResolutionID: uuid.NewString(),
		DisputeID:    disputeID,
		Outcome:      outcome,
		IsImmutable:  true,
		DecidedAt:    now.UnixMilli(),
		Notes:        notes,
	}, nil
}

// HasActiveDispute implements pkg/settlement's DisputeLookup contract.
func (r *Registry) HasActiveDispute(itemType, itemID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.disputes {
		if !d.Status.IsActive() {
			continue
		}
		for _, item := range d.ContestedItems {
			if item.Type == itemType && item.ID == itemID {
				return true
			}
		}
	}
	return false
}

// Get returns a copy of a dispute by id.
func (r *Registry) Get(disputeID string) (model.Dispute, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[disputeID]
	if !ok {
		return model.Dispute{}, false
	}
	return *d, true
}

// Hydrate restores persisted disputes at startup.
func (r *Registry) Hydrate(disputes []model.Dispute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range disputes {
		d := disputes[i]
		r.disputes[d.DisputeID] = &d
	}
}

// BuildInput bundles the named pieces a DisputePackage is assembled from.
type BuildInput struct {
	Dispute        model.Dispute
	EvidenceIDs    []string
	Clarifications []string
	IntentHashes   []string
	SettlementIDs  []string
	ReceiptIDs     []string
}

// touchedClarifyingStates reports whether the dispute's timeline ever
// entered clarifying or escalated, which makes clarification records
// mandatory for a complete package.
func touchedClarifyingStates(d model.Dispute) bool {
	for _, ev := range d.Timeline {
		if ev.Type == model.EventClarificationStarted || ev.Type == model.EventEscalated {
			return true
		}
	}
	return false
}

// BuildPackage assembles a DisputePackage and checks the completeness
// rule of spec.md §4.7: every contested item referenced by at least one
// evidence entry, and clarification records present if the dispute ever
// touched clarifying/escalated.
func BuildPackage(in BuildInput, now time.Time) (*model.DisputePackage, error) {
	if touchedClarifyingStates(in.Dispute) && len(in.Clarifications) == 0 {
		return nil, apierr.Validation(fmt.Sprintf("dispute %s touched clarifying/escalated but has no clarification records", in.Dispute.DisputeID), nil)
	}

	evidenceSet := make(map[string]bool, len(in.EvidenceIDs))
	for _, id := range in.EvidenceIDs {
		evidenceSet[id] = true
	}
	for _, item := range in.Dispute.ContestedItems {
		if !evidenceSet[item.ID] {
			return nil, apierr.Validation(fmt.Sprintf("contested item %s has no evidence entry", item.ID), nil)
		}
	}

	pkg := &model.DisputePackage{
		PackageID:      uuid.NewString(),
		DisputeID:      in.Dispute.DisputeID,
		Timeline:       append([]model.TimelineEvent(nil), in.Dispute.Timeline...),
		EvidenceIDs:    append([]string(nil), in.EvidenceIDs...),
		Clarifications: append([]string(nil), in.Clarifications...),
		IntentHashes:   append([]string(nil), in.IntentHashes...),
		SettlementIDs:  append([]string(nil), in.SettlementIDs...),
		ReceiptIDs:     append([]string(nil), in.ReceiptIDs...),
		BuiltAt:        now.UnixMilli(),
	}

	h, err := pkg.ComputeHash()
	if err != nil {
		return nil, apierr.Integrity(fmt.Sprintf("failed to hash dispute package for %s", in.Dispute.DisputeID), err)
	}
	pkg.PackageHash = h
	return pkg, nil
}
