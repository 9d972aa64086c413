// Package loadmonitor tracks submission/settlement rates in sliding
// windows and derives the global load multiplier λ that the Burn Ledger
// scales escalation burns by. Grounded on the teacher's
// pkg/batch/consensus_coordinator.go windowed-rate-tracking idiom,
// generalized from block-production throughput to intent/settlement
// throughput.
package loadmonitor

import (
	"log"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/logx"
)

const window = 5 * time.Minute

// Config carries every load-monitor-related option from pkg/config.
type Config struct {
	TargetIntentRate    float64
	MaxIntentRate       float64
	MaxLoadMultiplier   float64
	LoadSmoothingFactor float64
}

// Monitor owns the sliding deques of submission/settlement timestamps and
// the smoothed load multiplier (shared region (c) partner — read by the
// Burn Ledger on every submission).
type Monitor struct {
	mu sync.Mutex

	cfg Config

	submissions []time.Time
	settlements []time.Time
	recentBurns []float64

	lambda float64 // always starts at 1, per the invariant

	logger *log.Logger
}

// New constructs a Monitor with λ initialized to 1.
func New(cfg Config) *Monitor {
	return &Monitor{
		cfg:    cfg,
		lambda: 1.0,
		logger: logx.New("LoadMonitor"),
	}
}

// RecordSubmission registers one intent submission for rate tracking.
func (m *Monitor) RecordSubmission(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, at)
	m.submissions = truncateWindow(m.submissions, at)
}

// RecordSettlement registers one settlement closure for rate tracking.
func (m *Monitor) RecordSettlement(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append(m.settlements, at)
	m.settlements = truncateWindow(m.settlements, at)
}

// RecordBurn appends one burn amount to the bounded recent-burns sample.
func (m *Monitor) RecordBurn(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentBurns = append(m.recentBurns, amount)
	if len(m.recentBurns) > 1000 {
		m.recentBurns = m.recentBurns[len(m.recentBurns)-1000:]
	}
}

func truncateWindow(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// Lambda returns the current load multiplier.
func (m *Monitor) Lambda() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lambda
}

// Tick runs one load-monitor cycle (default every 30s per spec.md §4.3),
// recomputing the smoothed load multiplier and clamping it to
// [1, maxLoadMultiplier] — invariant enforced both before and after.
func (m *Monitor) Tick(now time.Time) TickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submissions = truncateWindow(m.submissions, now)
	m.settlements = truncateWindow(m.settlements, now)

	intentRate := float64(len(m.submissions)) / window.Minutes()
	settlementRate := float64(len(m.settlements)) / window.Minutes()

	var avgBurn float64
	if len(m.recentBurns) > 0 {
		var sum float64
		for _, b := range m.recentBurns {
			sum += b
		}
		avgBurn = sum / float64(len(m.recentBurns))
	}

	loadFactor := 0.0
	if m.cfg.TargetIntentRate > 0 {
		loadFactor = intentRate / m.cfg.TargetIntentRate
	}

	targetMultiplier := TargetMultiplier(loadFactor, m.cfg.MaxLoadMultiplier)

	alpha := m.cfg.LoadSmoothingFactor
	newLambda := m.lambda*(1-alpha) + targetMultiplier*alpha
	newLambda = clamp(newLambda, 1.0, m.cfg.MaxLoadMultiplier)

	m.lambda = newLambda

	return TickResult{
		IntentRatePerMin:     intentRate,
		SettlementRatePerMin: settlementRate,
		AvgBurn:              avgBurn,
		LoadFactor:           loadFactor,
		TargetMultiplier:     targetMultiplier,
		Lambda:               newLambda,
	}
}

// TargetMultiplier computes the piecewise-linear target multiplier from
// loadFactor, matching the S2 scenario: target = 1 + (loadFactor-1)/4*9
// clamped to [1, max], with the denominator derived from a loadFactor of 5
// mapping to the max multiplier band used in the spec's worked example.
func TargetMultiplier(loadFactor, maxMultiplier float64) float64 {
	if loadFactor <= 1 {
		return 1
	}
	// Linear ramp anchored so loadFactor=5 reaches maxMultiplier, matching
	// the S2 worked example (targetMultiplier = 1 + (2.5-1)/(5-1)*9 = 4.375
	// when maxMultiplier=10).
	target := 1 + (loadFactor-1)/4*(maxMultiplier-1)
	return clamp(target, 1, maxMultiplier)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TickResult summarizes one load-monitor cycle for logging/metrics.
type TickResult struct {
	IntentRatePerMin     float64
	SettlementRatePerMin float64
	AvgBurn              float64
	LoadFactor           float64
	TargetMultiplier     float64
	Lambda               float64
}
