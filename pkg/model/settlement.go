package model

import "fmt"

// SettlementStatus is the lifecycle state of a ProposedSettlement.
type SettlementStatus string

const (
	SettlementProposed  SettlementStatus = "proposed"
	SettlementRatified  SettlementStatus = "ratified"
	SettlementFinalized SettlementStatus = "finalized"
	SettlementContested SettlementStatus = "contested"
	SettlementReversed  SettlementStatus = "reversed"
)

// Declaration is one required party's signed statement affirming a
// settlement.
type Declaration struct {
	Party           string `json:"party"`
	Signature       string `json:"signature"`
	HumanAuthorship bool   `json:"humanAuthorship"`
	DeclaredAt      int64  `json:"declaredAt"`
}

// Stage is one step of a staged settlement.
type Stage struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
	CompletedAt int64  `json:"completedAt,omitempty"`
}

// ProposedSettlement is a prose agreement binding two intents.
type ProposedSettlement struct {
	ID                  string           `json:"id"`
	IntentHashA         string           `json:"intentHashA"`
	IntentHashB         string           `json:"intentHashB"`
	MediatorID          string           `json:"mediatorId"`
	Stake               float64          `json:"stake"`
	Prose               string           `json:"prose"`
	Status              SettlementStatus `json:"status"`
	RequiredParties     []string         `json:"requiredParties"`
	Declarations        []Declaration    `json:"declarations"`
	Stages              []Stage          `json:"stages,omitempty"`
	ReceiptIDs          []string         `json:"receiptIds,omitempty"`
	LicenseIDs          []string         `json:"licenseIds,omitempty"`
	DelegationIDs       []string         `json:"delegationIds,omitempty"`
	Statement           string           `json:"statement"`
	SettlementHash      string           `json:"settlementHash"`
	Immutable           bool             `json:"immutable"`
	ReversalSettlementID string          `json:"reversalSettlementId,omitempty"`
	DisputeID           string           `json:"disputeId,omitempty"`
	CreatedAt           int64            `json:"createdAt"`
	RatifiedAt          int64            `json:"ratifiedAt,omitempty"`
	FinalizedAt         int64            `json:"finalizedAt,omitempty"`
}

// settlementHashable is the canonical subset of fields the settlementHash is computed
// over, per spec.md §3: id, intent hashes, required parties, declarations,
// statement, ratifiedAt, finalizedAt.
type settlementHashable struct {
	ID              string           `json:"id"`
	IntentHashA     string           `json:"intentHashA"`
	IntentHashB     string           `json:"intentHashB"`
	RequiredParties []string         `json:"requiredParties"`
	Declarations    []Declaration    `json:"declarations"`
	Statement       string           `json:"statement"`
	RatifiedAt      int64            `json:"ratifiedAt"`
	FinalizedAt     int64            `json:"finalizedAt"`
}

// ComputeHash recomputes the settlementHash from the canonical fields.
func (s *ProposedSettlement) ComputeHash() (string, error) {
	return HashFields(settlementHashable{
		ID:              s.ID,
		IntentHashA:     s.IntentHashA,
		IntentHashB:     s.IntentHashB,
		RequiredParties: append([]string(nil), s.RequiredParties...),
		Declarations:    append([]Declaration(nil), s.Declarations...),
		Statement:       s.Statement,
		RatifiedAt:      s.RatifiedAt,
		FinalizedAt:     s.FinalizedAt,
	})
}

// Rehash recomputes and stores the settlementHash, refusing to touch an
// already-immutable settlement (invariant 3).
func (s *ProposedSettlement) Rehash() error {
	if s.Immutable {
		return fmt.Errorf("settlement %s is immutable, refusing to rehash", s.ID)
	}
	h, err := s.ComputeHash()
	if err != nil {
		return err
	}
	s.SettlementHash = h
	return nil
}

// Verify recomputes the hash and compares it to the stored one.
func (s *ProposedSettlement) Verify() error {
	want, err := s.ComputeHash()
	if err != nil {
		return err
	}
	if want != s.SettlementHash {
		return fmt.Errorf("settlement hash mismatch for %s: stored=%s computed=%s", s.ID, s.SettlementHash, want)
	}
	return nil
}

// AllStagesComplete reports whether every stage carries a CompletedAt,
// strictly in order.
func (s *ProposedSettlement) AllStagesComplete() bool {
	for i, stage := range s.Stages {
		if stage.Index != i+1 {
			return false
		}
		if stage.CompletedAt == 0 {
			return false
		}
	}
	return true
}

// RatifiedButNotFinalizable is the §9 open-question state: a staged
// settlement may be ratified before all stages complete, leaving it unable
// to reach finalized until the remaining stages close out.
func (s *ProposedSettlement) RatifiedButNotFinalizable() bool {
	return s.Status == SettlementRatified && len(s.Stages) > 0 && !s.AllStagesComplete()
}
