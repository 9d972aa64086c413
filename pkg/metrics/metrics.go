// Package metrics exposes the mediator node's counters and gauges over
// the loopback-only health endpoint. Grounded on the teacher pack's
// luxfi-consensus/metrics package (a thin Metrics struct wrapping a
// prometheus.Registerer, with collectors registered individually) —
// prometheus rides as a direct dependency there rather than staying
// transitive, which is the precedent followed here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the mediator node reports. Grouped by the
// same phases as the alignment cycle so a dashboard reads top to bottom in
// cycle order.
type Metrics struct {
	registry prometheus.Registerer

	CyclesRun         prometheus.Counter
	CycleErrors       prometheus.Counter
	IntentsIngested   prometheus.Counter
	CandidatesScanned prometheus.Counter
	SettlementsProposed prometheus.Counter
	SettlementsFinalized prometheus.Counter
	SettlementsReversed prometheus.Counter
	BurnCollected     prometheus.Counter
	DisputesOpened    prometheus.Counter
	ChallengesPosted  prometheus.Counter
	ConsensusRounds   prometheus.Counter
	ConsensusRejected prometheus.Counter

	LoadMultiplier    prometheus.Gauge
	ActiveClaims      prometheus.Gauge
	VectorIndexSize   prometheus.Gauge
	OpenDisputes      prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registry: reg,

		CyclesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "cycles_run_total", Help: "Alignment cycles completed.",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "cycle_errors_total", Help: "Alignment cycle steps that recovered from a panic or returned an error.",
		}),
		IntentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "intents_ingested_total", Help: "Intents pulled from the chain and admitted to the cache.",
		}),
		CandidatesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "candidates_scanned_total", Help: "Candidate pairs produced by the top-K cosine search.",
		}),
		SettlementsProposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "settlements_proposed_total", Help: "Settlements submitted to the chain.",
		}),
		SettlementsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "settlements_finalized_total", Help: "Settlements reaching the finalized state.",
		}),
		SettlementsReversed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "settlements_reversed_total", Help: "Finalized settlements later reversed.",
		}),
		BurnCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "burn_collected_total", Help: "Total anti-spam burn recorded across all filings, in native units.",
		}),
		DisputesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "disputes_opened_total", Help: "Disputes initiated.",
		}),
		ChallengesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "challenges_posted_total", Help: "Challenges posted against other mediators' settlements.",
		}),
		ConsensusRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "consensus_rounds_total", Help: "Semantic consensus rounds run for high-value settlements.",
		}),
		ConsensusRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mediator", Name: "consensus_rejected_total", Help: "Semantic consensus rounds that failed to reach agreement.",
		}),
		LoadMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediator", Name: "load_multiplier", Help: "Current burn-scaling load multiplier.",
		}),
		ActiveClaims: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediator", Name: "active_claims", Help: "Candidate pairs currently claimed across the mesh.",
		}),
		VectorIndexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediator", Name: "vector_index_size", Help: "Intents currently embedded in the vector index.",
		}),
		OpenDisputes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediator", Name: "open_disputes", Help: "Disputes not yet resolved.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.CyclesRun, m.CycleErrors, m.IntentsIngested, m.CandidatesScanned,
		m.SettlementsProposed, m.SettlementsFinalized, m.SettlementsReversed,
		m.BurnCollected, m.DisputesOpened, m.ChallengesPosted,
		m.ConsensusRounds, m.ConsensusRejected,
		m.LoadMultiplier, m.ActiveClaims, m.VectorIndexSize, m.OpenDisputes,
	} {
		_ = reg.Register(c)
	}

	return m
}
