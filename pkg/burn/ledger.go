// Package burn implements the per-user daily escalation burn formula, the
// success-burn calculation, and anti-Sybil deposit/forfeiture accounting.
// Grounded on the teacher's pkg/ledger (mutex-guarded running-balance
// bookkeeping) generalized from block/anchor accounting to per-author burn
// accounting.
package burn

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Config carries every burn/deposit-related option from pkg/config.
type Config struct {
	FreeDailySubmissions  int
	BaseFilingBurn        float64
	EscalationBase        float64
	EscalationExponent    float64
	SuccessBurnPercentage float64
	LoadScalingEnabled    bool

	EnableSybilResistance bool
	DailyFreeLimit        int
	ExcessDepositAmount   float64
	DepositRefundDays     int
}

// Ledger owns the mutable per-user-daily, burn-history and deposit state
// (shared region (c) in the concurrency model).
type Ledger struct {
	mu sync.RWMutex

	cfg Config

	userDaily map[string]*model.UserDaily // key: author|date
	history   []model.BurnRecord          // truncated to last 10000 on append
	deposits  map[string]*model.Deposit

	logger *log.Logger
}

// New constructs an empty Ledger; callers rehydrate it from pkg/store.
func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:       cfg,
		userDaily: make(map[string]*model.UserDaily),
		deposits:  make(map[string]*model.Deposit),
		logger:    logx.New("BurnLedger"),
	}
}

func dailyKey(author, date string) string { return author + "|" + date }

// RecordSubmission advances author's daily counter for the given day,
// charges the burn amount the §4.3 formula gives for this ordinal
// submission, and returns the resulting BurnRecord (nil if free).
func (l *Ledger) RecordSubmission(author string, date string, now int64, loadMultiplier float64) (*model.BurnRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := dailyKey(author, date)
	daily, ok := l.userDaily[key]
	if !ok {
		daily = &model.UserDaily{Author: author, Date: date}
		l.userDaily[key] = daily
	}
	daily.SubmissionCount++
	daily.LastSubmissionAt = now

	amount := FilingBurnAmount(daily.SubmissionCount, l.cfg.FreeDailySubmissions, l.cfg.BaseFilingBurn,
		l.cfg.EscalationBase, l.cfg.EscalationExponent, loadMultiplier, l.cfg.LoadScalingEnabled)

	daily.TotalBurned += amount

	var rec *model.BurnRecord
	if amount > 0 {
		rec = &model.BurnRecord{
			ID:         uuid.NewString(),
			Type:       model.BurnEscalated,
			Author:     author,
			Amount:     amount,
			Multiplier: loadMultiplier,
			Timestamp:  now,
		}
		l.appendHistory(*rec)
	}
	return rec, nil
}

// FilingBurnAmount implements spec.md §4.3's formula exactly:
//
//	n <= F           => 0
//	n > F            => B * β^((n-F)*γ) * (loadScalingEnabled ? λ : 1)
func FilingBurnAmount(n, freeDaily int, base, escalationBase, escalationExponent, loadMultiplier float64, loadScalingEnabled bool) float64 {
	if float64(n) <= float64(freeDaily) {
		return 0
	}
	mult := 1.0
	if loadScalingEnabled {
		mult = loadMultiplier
	}
	exponent := (float64(n) - float64(freeDaily)) * escalationExponent
	return base * math.Pow(escalationBase, exponent) * mult
}

// SuccessBurnAmount implements the success-burn charge on settlement
// closure; amounts below 1e-4 are skipped (returns 0, skip=true).
func SuccessBurnAmount(settlementValue, successBurnPercentage float64) (amount float64, skip bool) {
	amount = settlementValue * successBurnPercentage
	if amount < 1e-4 {
		return 0, true
	}
	return amount, false
}

func (l *Ledger) appendHistory(rec model.BurnRecord) {
	l.history = append(l.history, rec)
	if len(l.history) > 10000 {
		l.history = l.history[len(l.history)-10000:]
	}
}

// RecordSuccessBurn charges the success burn for a finalized settlement.
func (l *Ledger) RecordSuccessBurn(author, settlementID string, settlementValue float64, now int64) *model.BurnRecord {
	amount, skip := SuccessBurnAmount(settlementValue, l.cfg.SuccessBurnPercentage)
	if skip {
		return nil
	}
	rec := model.BurnRecord{
		ID:           uuid.NewString(),
		Type:         model.BurnSuccess,
		Author:       author,
		Amount:       amount,
		SettlementID: settlementID,
		Multiplier:   1,
		Timestamp:    now,
	}
	l.mu.Lock()
	l.appendHistory(rec)
	l.mu.Unlock()
	return &rec
}

// UserDaily returns a copy of the tracked daily record, if any, satisfying
// invariant 6 (a record exists iff at least one submission was recorded).
func (l *Ledger) UserDaily(author, date string) (model.UserDaily, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.userDaily[dailyKey(author, date)]
	if !ok {
		return model.UserDaily{}, false
	}
	return *d, true
}

// History returns a copy of the recent burn history.
func (l *Ledger) History() []model.BurnRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.BurnRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Snapshot returns a copy of every tracked daily record, the burn history,
// and open deposits, for pkg/store to persist on a clean shutdown.
func (l *Ledger) Snapshot() (daily []model.UserDaily, history []model.BurnRecord, deposits []model.Deposit) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, d := range l.userDaily {
		daily = append(daily, *d)
	}
	history = make([]model.BurnRecord, len(l.history))
	copy(history, l.history)
	for _, d := range l.deposits {
		deposits = append(deposits, *d)
	}
	return daily, history, deposits
}

// Hydrate restores persisted state (called once at startup by cmd/mediator
// with the state pkg/store loaded).
func (l *Ledger) Hydrate(daily []model.UserDaily, history []model.BurnRecord, deposits []model.Deposit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range daily {
		d := daily[i]
		l.userDaily[dailyKey(d.Author, d.Date)] = &d
	}
	l.history = append(l.history, history...)
	for i := range deposits {
		d := deposits[i]
		l.deposits[d.DepositID] = &d
	}
}

// OpenDeposit escrows an anti-Sybil bond when an author exceeds the daily
// free limit, per §4.3's deposit/forfeiture design.
func (l *Ledger) OpenDeposit(author, intentHash string, now int64) *model.Deposit {
	if !l.cfg.EnableSybilResistance {
		return nil
	}
	d := &model.Deposit{
		DepositID:      uuid.NewString(),
		Author:         author,
		IntentHash:     intentHash,
		Amount:         l.cfg.ExcessDepositAmount,
		SubmittedAt:    now,
		RefundDeadline: now + int64(l.cfg.DepositRefundDays)*24*int64(time.Hour/time.Millisecond),
		Status:         model.DepositActive,
	}
	l.mu.Lock()
	l.deposits[d.DepositID] = d
	l.mu.Unlock()
	return d
}

// Refund marks a deposit refunded if its deadline has passed uncontested.
func (l *Ledger) Refund(depositID string, now int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deposits[depositID]
	if !ok {
		return apierr.Validation(fmt.Sprintf("no such deposit %s", depositID), nil)
	}
	if d.Status != model.DepositActive {
		return apierr.Conflict(fmt.Sprintf("deposit %s is not active", depositID), nil)
	}
	if now < d.RefundDeadline {
		return apierr.Validation(fmt.Sprintf("deposit %s refund deadline not reached", depositID), nil)
	}
	d.Status = model.DepositRefunded
	return nil
}

// Forfeit marks a deposit forfeited after a validated spam proof, before
// its refund deadline.
func (l *Ledger) Forfeit(depositID string, now int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deposits[depositID]
	if !ok {
		return apierr.Validation(fmt.Sprintf("no such deposit %s", depositID), nil)
	}
	if d.Status != model.DepositActive {
		return apierr.Conflict(fmt.Sprintf("deposit %s is not active", depositID), nil)
	}
	d.Status = model.DepositForfeited
	return nil
}

// NeedsDeposit reports whether ordinal submission n requires an anti-Sybil
// escrow deposit.
func (l *Ledger) NeedsDeposit(n int) bool {
	return l.cfg.EnableSybilResistance && n > l.cfg.DailyFreeLimit
}
