// Package challenge implements the Challenge Detector of spec.md §4.9: a
// periodic scan of other mediators' recent settlements, flagging prose
// that contradicts its underlying intents. Grounded on the teacher's
// pkg/batch/collector.go polling idiom (fetch a bounded recent window,
// process each item independently, never abort the scan on one failure).
package challenge

import (
	"context"
	"log"
	"sync"

	"github.com/kase1111-hash/mediator-node/pkg/capability"
	"github.com/kase1111-hash/mediator-node/pkg/chainclient"
	"github.com/kase1111-hash/mediator-node/pkg/identity"
	"github.com/kase1111-hash/mediator-node/pkg/intentcache"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Config carries every challenge-detection option from pkg/config.
type Config struct {
	Enabled                bool
	MinConfidenceToChallenge float64
	ScanLimit              int
}

// Challenge is a signed accusation that a settlement contradicts one of
// its underlying intents.
type Challenge struct {
	SettlementID string                `json:"settlementId"`
	MediatorID   string                `json:"mediatorId"`
	Confidence   float64               `json:"confidence"`
	Severity     capability.Severity   `json:"severity"`
	Reasoning    string                `json:"reasoning"`
	Signature    string                `json:"signature"`
}

// Detector scans recent settlements authored by other mediators.
type Detector struct {
	mu sync.Mutex

	cfg      Config
	chain    *chainclient.Client
	cache    *intentcache.Cache
	detector capability.Detector
	signer   *identity.Signer
	selfID   string
	seen     map[string]bool // already-challenged or already-cleared settlement ids
	logger   *log.Logger
}

// New constructs a Detector.
func New(cfg Config, chain *chainclient.Client, cache *intentcache.Cache, detector capability.Detector, signer *identity.Signer, selfID string) *Detector {
	return &Detector{
		cfg: cfg, chain: chain, cache: cache, detector: detector, signer: signer, selfID: selfID,
		seen: make(map[string]bool), logger: logx.New("ChallengeDetector"),
	}
}

// Scan fetches recent settlements and evaluates each un-challenged one
// authored by another mediator, posting a signed challenge to the chain
// when the detector capability returns high enough confidence and
// severity.
func (d *Detector) Scan(ctx context.Context) {
	if !d.cfg.Enabled {
		return
	}

	settlements, err := d.chain.RecentSettlements(ctx, d.cfg.ScanLimit)
	if err != nil {
		d.logger.Printf("scan: failed to fetch recent settlements: %v", err)
		return
	}

	for _, s := range settlements {
		if s.MediatorID == d.selfID {
			continue
		}
		d.mu.Lock()
		already := d.seen[s.ID]
		d.mu.Unlock()
		if already {
			continue
		}
		d.evaluate(ctx, s)
	}
}

func (d *Detector) evaluate(ctx context.Context, s model.ProposedSettlement) {
	intentA, okA := d.cache.Get(s.IntentHashA)
	intentB, okB := d.cache.Get(s.IntentHashB)
	if !okA || !okB {
		// Can't evaluate without the underlying intents; try again next scan.
		return
	}

	verdict, err := d.detector.Detect(ctx, s, intentA, intentB)
	if err != nil {
		d.logger.Printf("evaluate: detector failed for settlement %s: %v", s.ID, err)
		return
	}

	d.mu.Lock()
	d.seen[s.ID] = true
	d.mu.Unlock()

	if !verdict.Contradicts || verdict.Confidence < d.cfg.MinConfidenceToChallenge {
		return
	}
	if verdict.Severity == capability.SeverityLow {
		return
	}

	challenge := Challenge{
		SettlementID: s.ID,
		MediatorID:   d.selfID,
		Confidence:   verdict.Confidence,
		Severity:     verdict.Severity,
		Reasoning:    verdict.Reasoning,
	}
	sig, err := d.signer.SignEntry(challenge)
	if err != nil {
		d.logger.Printf("evaluate: failed to sign challenge for %s: %v", s.ID, err)
		return
	}
	challenge.Signature = sig

	if _, err := d.chain.PostChallenge(ctx, challenge); err != nil {
		d.logger.Printf("evaluate: failed to post challenge for %s: %v", s.ID, err)
		return
	}
	d.logger.Printf("posted challenge for settlement %s (confidence=%.2f, severity=%s)", s.ID, verdict.Confidence, verdict.Severity)
}

// Reset forgets a settlement id, letting it be re-evaluated on the next
// scan.
func (d *Detector) Reset(settlementID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, settlementID)
}
