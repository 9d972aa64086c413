// Package capability defines the narrow, pluggable interfaces the engine
// uses for every LLM-backed collaborator operation, per spec.md §9's
// translation of "LLM calls as free-form strings" into a typed capability
// quartet. Grounded on the teacher's pluggable strategy pattern
// (pkg/strategy, pkg/chain/strategy) — narrow interfaces wired once at
// startup, swappable without touching call sites.
package capability

import (
	"context"

	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Embedder maps prose to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, prose string) ([]float32, error)
}

// NegotiationVerdict is the typed result of asking the Negotiator to align
// two intents.
type NegotiationVerdict struct {
	Success    bool
	Confidence float64
	Prose      string
	Reasoning  string
}

// Negotiator takes two intents and returns an alignment verdict.
type Negotiator interface {
	Negotiate(ctx context.Context, a, b model.Intent) (NegotiationVerdict, error)
}

// Validator scores one effort segment against the fixed rubric
// (coherence, progression, consistency, synthesis), each in [0,1].
type Validator interface {
	Validate(ctx context.Context, segment model.Segment, signals []model.Signal) (model.ValidationScores, error)
}

// DetectionVerdict is the typed result of asking the Detector whether a
// settlement contradicts its underlying intents.
type DetectionVerdict struct {
	Contradicts bool
	Confidence  float64
	Severity    Severity
	Reasoning   string
}

// Severity classifies how serious a detected contradiction is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Detector scans a settlement for contradictions with its underlying
// intents.
type Detector interface {
	Detect(ctx context.Context, settlement model.ProposedSettlement, a, b model.Intent) (DetectionVerdict, error)
}

// ParaphraseResult is one peer verifier's semantic-consensus response.
type ParaphraseResult struct {
	Summary  string
	Approved bool
}

// Paraphraser independently paraphrases a settlement for semantic
// consensus verification.
type Paraphraser interface {
	Paraphrase(ctx context.Context, settlement model.ProposedSettlement) (ParaphraseResult, error)
}
