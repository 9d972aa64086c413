package model

// DisputeStatus is the lifecycle of a dispute.
type DisputeStatus string

const (
	DisputeInitiated   DisputeStatus = "initiated"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeClarifying  DisputeStatus = "clarifying"
	DisputeEscalated   DisputeStatus = "escalated"
	DisputeResolved    DisputeStatus = "resolved"
)

// IsActive reports whether a dispute with this status blocks ratification
// of artifacts it references.
func (s DisputeStatus) IsActive() bool {
	switch s {
	case DisputeInitiated, DisputeUnderReview, DisputeClarifying, DisputeEscalated:
		return true
	default:
		return false
	}
}

// ContestedItem references one artifact (intent, settlement, receipt) a
// dispute contests.
type ContestedItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// TimelineEventType enumerates the monotonic event sequence recorded
// against a dispute.
type TimelineEventType string

const (
	EventInitiated            TimelineEventType = "initiated"
	EventEvidenceAdded        TimelineEventType = "evidence_added"
	EventClarificationStarted TimelineEventType = "clarification_started"
	EventEscalated            TimelineEventType = "escalated"
	EventResolved             TimelineEventType = "resolved"
)

// TimelineEvent is one entry in a dispute's monotonic event sequence.
type TimelineEvent struct {
	Type      TimelineEventType `json:"type"`
	At        int64             `json:"at"`
	Detail    string            `json:"detail,omitempty"`
}

// Dispute tracks a contested set of artifacts through resolution.
type Dispute struct {
	DisputeID      string          `json:"disputeId"`
	Status         DisputeStatus   `json:"status"`
	Claimant       string          `json:"claimant"`
	Respondent     string          `json:"respondent,omitempty"`
	ContestedItems []ContestedItem `json:"contestedItems"`
	FrozenItemIDs  []string        `json:"frozenItems"`
	Timeline       []TimelineEvent `json:"timeline"`
	CreatedAt      int64           `json:"createdAt"`
}

// FrozenItemStatus is the lifecycle of a frozen artifact.
type FrozenItemStatus string

const (
	FrozenUnderDispute    FrozenItemStatus = "under_dispute"
	FrozenDisputeResolved FrozenItemStatus = "dispute_resolved"
)

// FrozenItem is an artifact made temporarily immutable by an open dispute.
type FrozenItem struct {
	ItemID           string           `json:"itemId"`
	ItemType         string           `json:"itemType"`
	DisputeID        string           `json:"disputeId"`
	SnapshotHash     string           `json:"snapshotHash"`
	Status           FrozenItemStatus `json:"status"`
	MutationAttempts []int64          `json:"mutationAttempts"`
}

// ResolutionOutcome is the final disposition of a dispute.
type ResolutionOutcome string

const (
	OutcomeClaimantFavored  ResolutionOutcome = "claimant_favored"
	OutcomeRespondentFavored ResolutionOutcome = "respondent_favored"
	OutcomeCompromise       ResolutionOutcome = "compromise"
	OutcomeDismissed        ResolutionOutcome = "dismissed"
	OutcomeOther            ResolutionOutcome = "other"
)

// Punitive reports whether this outcome keeps frozen items frozen pending
// external enforcement rather than releasing them.
func (o ResolutionOutcome) Punitive() bool {
	return o == OutcomeRespondentFavored || o == OutcomeClaimantFavored
}

// Resolution is the immutable record of how a dispute was decided.
type Resolution struct {
	ResolutionID string            `json:"resolutionId"`
	DisputeID    string            `json:"disputeId"`
	Outcome      ResolutionOutcome `json:"outcome"`
	IsImmutable  bool              `json:"isImmutable"`
	DecidedAt    int64             `json:"decidedAt"`
	Notes        string            `json:"notes,omitempty"`
}

// DisputePackage bundles everything needed to audit a dispute end to end.
type DisputePackage struct {
	PackageID     string          `json:"packageId"`
	DisputeID     string          `json:"disputeId"`
	Timeline      []TimelineEvent `json:"timeline"`
	EvidenceIDs   []string        `json:"evidenceIds"`
	Clarifications []string       `json:"clarifications,omitempty"`
	IntentHashes  []string        `json:"intentHashes"`
	SettlementIDs []string        `json:"settlementIds"`
	ReceiptIDs    []string        `json:"receiptIds"`
	PackageHash   string          `json:"packageHash"`
	BuiltAt       int64           `json:"builtAt"`
}

type disputePackageHashable struct {
	DisputeID     string   `json:"disputeId"`
	EvidenceIDs   []string `json:"evidenceIds"`
	IntentHashes  []string `json:"intentHashes"`
	SettlementIDs []string `json:"settlementIds"`
	ReceiptIDs    []string `json:"receiptIds"`
}

// ComputeHash hashes the canonical subset of a dispute package.
func (p *DisputePackage) ComputeHash() (string, error) {
	return HashFields(disputePackageHashable{
		DisputeID:     p.DisputeID,
		EvidenceIDs:   append([]string(nil), p.EvidenceIDs...),
		IntentHashes:  append([]string(nil), p.IntentHashes...),
		SettlementIDs: append([]string(nil), p.SettlementIDs...),
		ReceiptIDs:    append([]string(nil), p.ReceiptIDs...),
	})
}
