package model

import "fmt"

// Signal is one raw activity observation from a capability implementation
// (editor, terminal, browser, ...).
type Signal struct {
	ID        string `json:"id"`
	Modality  string `json:"modality"`
	Timestamp int64  `json:"timestamp"` // unix millis
	Content   string `json:"content"`
	Hash      string `json:"hash"`
}

// ComputeHash hashes the signal's content and modality.
func (s *Signal) ComputeHash() (string, error) {
	return HashFields(struct {
		Modality string `json:"modality"`
		Content  string `json:"content"`
	}{s.Modality, s.Content})
}

// Segment groups signals produced by one of the three deterministic
// segmentation rules (fixed window, activity gap, hybrid).
type Segment struct {
	ID         string   `json:"id"`
	SignalIDs  []string `json:"signalIds"`
	StartAt    int64    `json:"startAt"`
	EndAt      int64    `json:"endAt"`
	Strategy   string   `json:"strategy"`
}

// ValidationScores is the four-score rubric tuple produced by the Validator
// capability, each in [0,1].
type ValidationScores struct {
	Coherence   float64  `json:"coherence"`
	Progression float64  `json:"progression"`
	Consistency float64  `json:"consistency"`
	Synthesis   float64  `json:"synthesis"`
	Flags       []string `json:"flags,omitempty"`
}

// FallbackScores is produced when the Validator call fails; never lost.
func FallbackScores() ValidationScores {
	return ValidationScores{Flags: []string{"validation_error", "low_confidence"}}
}

// ReceiptStatus is the lifecycle of an effort receipt.
type ReceiptStatus string

const (
	ReceiptDraft     ReceiptStatus = "draft"
	ReceiptValidated ReceiptStatus = "validated"
	ReceiptAnchored  ReceiptStatus = "anchored"
	ReceiptVerified  ReceiptStatus = "verified"
)

// Receipt is a hash-chained record attesting that a segment of human work
// occurred, validated by rubric. The chain is a linked tape (priorReceipts),
// not a Merkle tree.
type Receipt struct {
	ReceiptID       string           `json:"receiptId"`
	SegmentID       string           `json:"segmentId"`
	SignalHashes    []string         `json:"signalHashes"`
	Validation      ValidationScores `json:"validation"`
	PriorReceiptIDs []string         `json:"priorReceiptIds"`
	ReceiptHash     string           `json:"receiptHash"`
	Status          ReceiptStatus    `json:"status"`
	LedgerReference string           `json:"ledgerReference,omitempty"`
	CreatedAt       int64            `json:"createdAt"`
}

type receiptHashable struct {
	ReceiptID       string           `json:"receiptId"`
	SegmentID       string           `json:"segmentId"`
	SignalHashes    []string         `json:"signalHashes"`
	Validation      ValidationScores `json:"validation"`
	PriorReceiptIDs []string         `json:"priorReceiptIds"`
}

// ComputeHash hashes the receipt's canonical fields given the receiptId it
// was assigned, including the prior-receipt ids. pkg/receipt calls it twice
// during construction, both times with the final id.
func (r *Receipt) ComputeHash() (string, error) {
	return HashFields(receiptHashable{
		ReceiptID:       r.ReceiptID,
		SegmentID:       r.SegmentID,
		SignalHashes:    append([]string(nil), r.SignalHashes...),
		Validation:      r.Validation,
		PriorReceiptIDs: append([]string(nil), r.PriorReceiptIDs...),
	})
}

// Verify recomputes the receipt hash and compares it to the stored value.
func (r *Receipt) Verify() error {
	want, err := r.ComputeHash()
	if err != nil {
		return err
	}
	if want != r.ReceiptHash {
		return fmt.Errorf("receipt hash mismatch for %s: stored=%s computed=%s", r.ReceiptID, r.ReceiptHash, want)
	}
	return nil
}
