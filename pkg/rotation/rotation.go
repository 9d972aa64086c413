// Package rotation implements the DPoS slot schedule and shouldMediate()
// gate. Loosely grounded on the concepts in the teacher's pkg/consensus
// (validator set membership, slot-holder concepts) without taking a
// CometBFT dependency — rotation here is a deterministic slot computation,
// not a BFT consensus engine (see DESIGN.md).
package rotation

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"time"
)

// Mode mirrors spec.md §6's consensusMode enum.
type Mode string

const (
	ModePermissionless Mode = "permissionless"
	ModeDPoS           Mode = "dpos"
	ModePoA            Mode = "poa"
	ModeHybrid         Mode = "hybrid"
)

// Validator is one member of the rotation set with its effective stake.
type Validator struct {
	MediatorID      string
	EffectiveStake  float64
}

// Rotation computes the current slot holder from a validator set and a
// slot duration.
type Rotation struct {
	mode            Mode
	minEffectiveStake float64
	slotDuration    time.Duration
	epoch           time.Time
}

// New constructs a Rotation. epoch anchors slot numbering (e.g. process
// start or a fixed genesis time).
func New(mode Mode, minEffectiveStake float64, slotDuration time.Duration, epoch time.Time) *Rotation {
	return &Rotation{mode: mode, minEffectiveStake: minEffectiveStake, slotDuration: slotDuration, epoch: epoch}
}

// eligible filters the validator set to those meeting invariant 7:
// effectiveStake >= minEffectiveStake.
func (r *Rotation) eligible(validators []Validator) []Validator {
	out := make([]Validator, 0, len(validators))
	for _, v := range validators {
		if v.EffectiveStake >= r.minEffectiveStake {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MediatorID < out[j].MediatorID })
	return out
}

// SlotHolder returns the mediatorID authorised to act as primary proposer
// in the slot containing `at`, deterministically derived from the epoch,
// slot index and sorted validator set so every node agrees without a
// leader-election round trip.
func (r *Rotation) SlotHolder(validators []Validator, at time.Time) (string, bool) {
	eligible := r.eligible(validators)
	if len(eligible) == 0 {
		return "", false
	}
	slotIndex := int64(at.Sub(r.epoch) / r.slotDuration)
	idx := slotSeed(slotIndex) % uint64(len(eligible))
	return eligible[idx].MediatorID, true
}

func slotSeed(slotIndex int64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(slotIndex))
	sum := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint64(sum[:8])
}

// ShouldMediate implements spec.md §4.1 step 1's slot gate: if DPoS (or
// hybrid) is active, this mediator may only act when it holds the current
// slot. Permissionless and PoA modes always permit mediation.
func (r *Rotation) ShouldMediate(selfID string, validators []Validator, at time.Time) bool {
	switch r.mode {
	case ModeDPoS, ModeHybrid:
		holder, ok := r.SlotHolder(validators, at)
		return ok && holder == selfID
	default:
		return true
	}
}
