// Package settlement implements the settlement lifecycle state machine and
// its precondition validator. Grounded on the teacher's
// pkg/proof/lifecycle.go (ProofLifecycleManager: a ValidTransitions table,
// an isValidTransition guard, and a TransitionState entry point with
// listeners), generalized from proof custody states to settlement
// ratification states.
package settlement

import (
	"fmt"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// transition is one legal (from, to) edge in the settlement lifecycle.
type transition struct {
	From model.SettlementStatus
	To   model.SettlementStatus
}

// validTransitions enumerates every edge in spec.md §4.5's table.
var validTransitions = []transition{
	{"", model.SettlementProposed},
	{model.SettlementProposed, model.SettlementRatified},
	{model.SettlementRatified, model.SettlementFinalized},
	{model.SettlementProposed, model.SettlementContested},
	{model.SettlementRatified, model.SettlementContested},
	{model.SettlementFinalized, model.SettlementReversed},
}

func isValidTransition(from, to model.SettlementStatus) bool {
	for _, t := range validTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// ReceiptLookup resolves an effort-receipt by id, for the validator's
// receipt-existence gate.
type ReceiptLookup interface {
	Receipt(id string) (model.Receipt, bool)
}

// DisputeLookup reports whether an artifact is currently referenced by an
// active dispute.
type DisputeLookup interface {
	HasActiveDispute(itemType, itemID string) bool
}

// LicenseLookup resolves license/delegation activity by id.
type LicenseLookup interface {
	LicenseActive(id string, now int64) bool
	DelegationActive(id string, now int64) bool
}

// StateChangeListener is notified after a successful transition, mirroring
// the teacher's lifecycle-manager listener hook.
type StateChangeListener func(s *model.ProposedSettlement, from, to model.SettlementStatus)

// ValidationIssue is one precondition failure, classified as blocking
// (rejects the transition) or advisory (accepted with a warning).
type ValidationIssue struct {
	Blocking bool
	Message  string
}

// Config toggles the skippable precondition gates of spec.md §4.6.
type Config struct {
	RequireHumanRatification bool
	EnableDisputeSystem      bool
}

// Machine owns settlement transitions and the precondition validator. It
// holds no settlement state itself — callers pass the settlement by
// pointer and persist it via pkg/store after a successful call.
type Machine struct {
	mu sync.Mutex

	cfg       Config
	receipts  ReceiptLookup
	disputes  DisputeLookup
	licenses  LicenseLookup
	listeners []StateChangeListener
}

// New constructs a settlement Machine. Any lookup may be nil, in which case
// the gates it backs are treated as satisfied (used in tests and in
// deployments where that subsystem is disabled).
func New(cfg Config, receipts ReceiptLookup, disputes DisputeLookup, licenses LicenseLookup) *Machine {
	return &Machine{cfg: cfg, receipts: receipts, disputes: disputes, licenses: licenses}
}

// OnStateChange registers a listener invoked after every successful
// transition.
func (m *Machine) OnStateChange(fn StateChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// ValidatePreconditions runs the gates of spec.md §4.6 against s, returning
// every issue found. The caller decides how to react to advisory issues;
// any blocking issue means the transition must be refused.
func (m *Machine) ValidatePreconditions(s *model.ProposedSettlement, now int64) []ValidationIssue {
	var issues []ValidationIssue

	if m.receipts != nil {
		for _, rid := range s.ReceiptIDs {
			r, ok := m.receipts.Receipt(rid)
			if !ok {
				issues = append(issues, ValidationIssue{Blocking: true, Message: fmt.Sprintf("referenced receipt %s does not exist", rid)})
				continue
			}
			if r.Status != model.ReceiptAnchored && r.Status != model.ReceiptVerified {
				issues = append(issues, ValidationIssue{Blocking: true, Message: fmt.Sprintf("receipt %s is not anchored or verified (status=%s)", rid, r.Status)})
			}
		}
	}

	if m.cfg.EnableDisputeSystem && m.disputes != nil {
		if m.disputes.HasActiveDispute("intent", s.IntentHashA) || m.disputes.HasActiveDispute("intent", s.IntentHashB) {
			issues = append(issues, ValidationIssue{Blocking: true, Message: "an underlying intent has an active dispute"})
		}
		for _, rid := range s.ReceiptIDs {
			if m.disputes.HasActiveDispute("receipt", rid) {
				issues = append(issues, ValidationIssue{Blocking: true, Message: fmt.Sprintf("receipt %s has an active dispute", rid)})
			}
		}
	}

	if m.licenses != nil {
		for _, lid := range s.LicenseIDs {
			if !m.licenses.LicenseActive(lid, now) {
				issues = append(issues, ValidationIssue{Blocking: true, Message: fmt.Sprintf("license %s is not active", lid)})
			}
		}
		for _, did := range s.DelegationIDs {
			if !m.licenses.DelegationActive(did, now) {
				issues = append(issues, ValidationIssue{Blocking: true, Message: fmt.Sprintf("delegation %s is not active", did)})
			}
		}
	}

	for i, st := range s.Stages {
		if st.Index != i+1 {
			issues = append(issues, ValidationIssue{Blocking: true, Message: "stages are not strictly ordered 1..N"})
			break
		}
	}

	return issues
}

// blockingOf filters a slice of issues down to the blocking ones.
func blockingOf(issues []ValidationIssue) []ValidationIssue {
	var out []ValidationIssue
	for _, i := range issues {
		if i.Blocking {
			out = append(out, i)
		}
	}
	return out
}

// Declare records a required party's signed declaration and, once every
// required party has declared, ratifies the settlement.
func (m *Machine) Declare(s *model.ProposedSettlement, party, signature string, humanAuthorship bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Status != model.SettlementProposed {
		return apierr.Conflict(fmt.Sprintf("settlement %s is not in proposed state", s.ID), nil)
	}
	if !contains(s.RequiredParties, party) {
		return apierr.Validation(fmt.Sprintf("%s is not a required party of settlement %s", party, s.ID), nil)
	}
	if m.cfg.RequireHumanRatification && !humanAuthorship {
		return apierr.Validation("declaration must assert human authorship", nil)
	}

	issues := m.ValidatePreconditions(s, now.UnixMilli())
	if blocking := blockingOf(issues); len(blocking) > 0 {
		return apierr.Validation(fmt.Sprintf("declaration for %s blocked: %s", s.ID, blocking[0].Message), nil)
	}

	for i, d := range s.Declarations {
		if d.Party == party {
			s.Declarations[i] = model.Declaration{Party: party, Signature: signature, HumanAuthorship: humanAuthorship, DeclaredAt: now.UnixMilli()}
			return m.maybeRatify(s, now)
		}
	}
	s.Declarations = append(s.Declarations, model.Declaration{Party: party, Signature: signature, HumanAuthorship: humanAuthorship, DeclaredAt: now.UnixMilli()})
	return m.maybeRatify(s, now)
}

func (m *Machine) maybeRatify(s *model.ProposedSettlement, now time.Time) error {
	for _, party := range s.RequiredParties {
		found := false
		for _, d := range s.Declarations {
			if d.Party == party {
				found = true
				if m.cfg.RequireHumanRatification && !d.HumanAuthorship {
					return nil
				}
				break
			}
		}
		if !found {
			return nil
		}
	}
	return m.transition(s, model.SettlementRatified, func() {
		s.RatifiedAt = now.UnixMilli()
	})
}

// Finalize moves a ratified settlement to finalized, if its stages (if any)
// are all complete and no active dispute blocks it.
func (m *Machine) Finalize(s *model.ProposedSettlement, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Status != model.SettlementRatified {
		return apierr.Conflict(fmt.Sprintf("settlement %s is not ratified", s.ID), nil)
	}
	if !s.AllStagesComplete() {
		return apierr.Validation(fmt.Sprintf("settlement %s has incomplete stages", s.ID), nil)
	}
	if m.cfg.EnableDisputeSystem && m.disputes != nil {
		if m.disputes.HasActiveDispute("settlement", s.ID) {
			return apierr.Conflict(fmt.Sprintf("settlement %s has an active dispute", s.ID), nil)
		}
	}
	return m.transition(s, model.SettlementFinalized, func() {
		s.FinalizedAt = now.UnixMilli()
	})
}

// Contest moves a proposed or ratified settlement to contested, linking it
// to the initiating dispute.
func (m *Machine) Contest(s *model.ProposedSettlement, disputeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Status == model.SettlementFinalized || s.Status == model.SettlementReversed {
		return apierr.Conflict(fmt.Sprintf("finalized settlement %s is not contestable", s.ID), nil)
	}
	return m.transition(s, model.SettlementContested, func() {
		s.DisputeID = disputeID
	})
}

// Reverse links a finalized settlement to the reversal that supersedes it.
// The original record is never mutated beyond this pointer; its hash and
// immutability are untouched.
func (m *Machine) Reverse(s *model.ProposedSettlement, reversalSettlementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Status != model.SettlementFinalized {
		return apierr.Conflict(fmt.Sprintf("settlement %s is not finalized", s.ID), nil)
	}
	return m.transition(s, model.SettlementReversed, func() {
		s.ReversalSettlementID = reversalSettlementID
	})
}

// transition applies a validated state change, recomputes the hash (unless
// already immutable), and notifies listeners.
func (m *Machine) transition(s *model.ProposedSettlement, to model.SettlementStatus, apply func()) error {
	from := s.Status
	if !isValidTransition(from, to) {
		return apierr.Validation(fmt.Sprintf("invalid settlement transition %s -> %s for %s", from, to, s.ID), nil)
	}
	apply()
	s.Status = to
	if !s.Immutable {
		if err := s.Rehash(); err != nil {
			return apierr.Integrity(fmt.Sprintf("failed to rehash settlement %s after transition", s.ID), err)
		}
	}
	if to == model.SettlementFinalized {
		s.Immutable = true
	}
	for _, l := range m.listeners {
		l(s, from, to)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
