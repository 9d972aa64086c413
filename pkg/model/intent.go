package model

import "fmt"

// Intent is the canonical, hashed, human-authored unit of desire flowing
// through the system. It is immutable once recorded on chain.
type Intent struct {
	Hash        string   `json:"hash"`
	Author      string   `json:"author"`
	Prose       string   `json:"prose"`
	Desires     []string `json:"desires"`
	Constraints []string `json:"constraints"`
	CreatedAt   int64    `json:"createdAt"` // unix millis
	Priority    int      `json:"priority"`
}

// ComputeHash reproduces hash = SHA256(prose|author|createdAt).
func (i *Intent) ComputeHash() (string, error) {
	return HashFields(struct {
		Prose     string `json:"prose"`
		Author    string `json:"author"`
		CreatedAt int64  `json:"createdAt"`
	}{i.Prose, i.Author, i.CreatedAt})
}

// Verify recomputes the hash and compares it to the stored one (invariant 1).
func (i *Intent) Verify() error {
	want, err := i.ComputeHash()
	if err != nil {
		return err
	}
	if want != i.Hash {
		return fmt.Errorf("intent hash mismatch: stored=%s computed=%s", i.Hash, want)
	}
	return nil
}

// AlignmentCandidate is a transient pairing produced within one alignment
// cycle; it is never persisted.
type AlignmentCandidate struct {
	IntentA          string
	IntentB          string
	CosineSimilarity float64
}

// CanonicalPair returns (min, max) by byte order, the orientation required
// for work-claim key uniqueness and settlement hash (hA,b)) canonicalization.
func CanonicalPair(hashA, hashB string) (string, string) {
	if hashA <= hashB {
		return hashA, hashB
	}
	return hashB, hashA
}
