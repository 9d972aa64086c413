// Package receipt implements the Effort Receipt pipeline of spec.md §4.8:
// Signals -> Segments -> Validation -> Receipts, with three deterministic
// segmentation strategies and a linked-tape hash chain (not a Merkle tree).
// Grounded on the teacher's pkg/merkle hash-chaining idiom (sha256 over a
// canonical struct, with the result feeding the next link), generalized
// from a tree-shaped proof to a flat prior-receipt chain.
package receipt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/capability"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// SegmentationStrategy selects how raw signals are grouped into segments.
type SegmentationStrategy string

const (
	StrategyTimeWindow      SegmentationStrategy = "fixed_window"
	StrategyActivityGap     SegmentationStrategy = "activity_gap"
	StrategyHybrid          SegmentationStrategy = "hybrid"
)

// Config carries every effort-capture option from pkg/config.
type Config struct {
	Strategy         SegmentationStrategy
	TimeWindow       time.Duration
	ActivityGap      time.Duration
}

// Engine runs the Signals->Segments->Validation->Receipts pipeline. It
// holds no signal state of its own; callers pass the full signal set for
// one capture session.
type Engine struct {
	cfg       Config
	validator capability.Validator
}

// New constructs an Engine bound to a Validator capability.
func New(cfg Config, validator capability.Validator) *Engine {
	return &Engine{cfg: cfg, validator: validator}
}

// Segment splits signals (assumed to share one capture session) into
// segments per the configured strategy. Signals are sorted by timestamp
// first, so segmentation is independent of arrival order.
func (e *Engine) Segment(signals []model.Signal) []model.Segment {
	if len(signals) == 0 {
		return nil
	}
	sorted := append([]model.Signal(nil), signals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var segments []model.Segment
	var current []model.Signal
	var segmentStart int64

	flush := func() {
		if len(current) == 0 {
			return
		}
		ids := make([]string, len(current))
		for i, s := range current {
			ids[i] = s.ID
		}
		segments = append(segments, model.Segment{
			ID:        uuid.NewString(),
			SignalIDs: ids,
			StartAt:   current[0].Timestamp,
			EndAt:     current[len(current)-1].Timestamp,
			Strategy:  string(e.cfg.Strategy),
		})
		current = nil
	}

	for _, s := range sorted {
		if len(current) == 0 {
			current = append(current, s)
			segmentStart = s.Timestamp
			continue
		}
		last := current[len(current)-1]
		gapSplit := e.cfg.Strategy != StrategyTimeWindow && s.Timestamp-last.Timestamp > e.cfg.ActivityGap.Milliseconds()
		windowSplit := e.cfg.Strategy != StrategyActivityGap && s.Timestamp-segmentStart >= e.cfg.TimeWindow.Milliseconds()
		if gapSplit || windowSplit {
			flush()
			current = append(current, s)
			segmentStart = s.Timestamp
			continue
		}
		current = append(current, s)
	}
	flush()
	return segments
}

// Validate scores a segment against the fixed four-part rubric, falling
// back to an all-zero, flagged record if the capability call fails — a
// validation result is never lost (spec.md §4.8).
func (e *Engine) Validate(ctx context.Context, segment model.Segment, signals []model.Signal) model.ValidationScores {
	scores, err := e.validator.Validate(ctx, segment, signals)
	if err != nil {
		return model.FallbackScores()
	}
	return scores
}

// BuildReceipt constructs a receipt for segment, chaining it to
// priorReceiptIDs. receiptId is `uuid-firstSignalHash[:8]`; the hash is
// computed twice over the same fields and the same final id. The first
// result is discarded (a failure there is reported as a provisional-hash
// error); only the second is stored as ReceiptHash. No provisional id is
// used.
func (e *Engine) BuildReceipt(segment model.Segment, signalHashes []string, scores model.ValidationScores, priorReceiptIDs []string, now time.Time) (*model.Receipt, error) {
	if len(signalHashes) == 0 {
		return nil, apierr.Validation("cannot build a receipt with no signals", nil)
	}

	receiptID := fmt.Sprintf("%s-%s", uuid.NewString(), firstEight(signalHashes[0]))
	r := &model.Receipt{
		ReceiptID:       receiptID,
		SegmentID:       segment.ID,
		SignalHashes:    append([]string(nil), signalHashes...),
		Validation:      scores,
		PriorReceiptIDs: append([]string(nil), priorReceiptIDs...),
		Status:          model.ReceiptDraft,
		CreatedAt:        now.UnixMilli(),
	}

	if _, err := r.ComputeHash(); err != nil {
		return nil, apierr.Integrity(fmt.Sprintf("failed provisional hash for receipt over segment %s", segment.ID), err)
	}

	final, err := r.ComputeHash()
	if err != nil {
		return nil, apierr.Integrity(fmt.Sprintf("failed final hash for receipt over segment %s", segment.ID), err)
	}
	r.ReceiptHash = final

	if len(scores.Flags) == 0 {
		r.Status = model.ReceiptValidated
	}
	return r, nil
}

// Anchor transitions a validated receipt to anchored, recording the chain
// reference it was posted under.
func Anchor(r *model.Receipt, ledgerReference string) error {
	if r.Status != model.ReceiptValidated {
		return apierr.Conflict(fmt.Sprintf("receipt %s is not validated", r.ReceiptID), nil)
	}
	r.LedgerReference = ledgerReference
	r.Status = model.ReceiptAnchored
	return nil
}

// MarkVerified transitions an anchored receipt to verified, the terminal
// state.
func MarkVerified(r *model.Receipt) error {
	if r.Status != model.ReceiptAnchored {
		return apierr.Conflict(fmt.Sprintf("receipt %s is not anchored", r.ReceiptID), nil)
	}
	r.Status = model.ReceiptVerified
	return nil
}

func firstEight(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
