// Package alignment implements the four-stage alignment cycle — ingestion,
// mapping, negotiation, submission — as one scheduled tick, per spec.md
// §4.1. Grounded on the teacher's pkg/batch/processor.go tick loop (poll,
// transform, submit, isolate-errors-per-step), generalized from batch
// anchoring to intent-pair settlement.
package alignment

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node/pkg/burn"
	"github.com/kase1111-hash/mediator-node/pkg/capability"
	"github.com/kase1111-hash/mediator-node/pkg/chainclient"
	"github.com/kase1111-hash/mediator-node/pkg/gossip"
	"github.com/kase1111-hash/mediator-node/pkg/identity"
	"github.com/kase1111-hash/mediator-node/pkg/intentcache"
	"github.com/kase1111-hash/mediator-node/pkg/loadmonitor"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
	"github.com/kase1111-hash/mediator-node/pkg/rotation"
	"github.com/kase1111-hash/mediator-node/pkg/vectorindex"
)

// Config carries every alignment-cycle-related option from pkg/config.
type Config struct {
	TopNIntents              int
	TopKCandidates           int
	MaxClaimsPerCycle        int
	MinNegotiationConfidence float64
	FreeDailySubmissions     int
}

// SettlementSink persists and/or forwards a freshly built settlement once
// the engine is done with it; cmd/mediator supplies one that saves the
// settlement to pkg/store and mirrors it to pkg/auditdb.
type SettlementSink func(ctx context.Context, s model.ProposedSettlement)

// Engine owns one tick of the alignment cycle. It holds no state of its
// own beyond configuration; the mutable shared regions it touches
// (Cache, Index, Claims) are owned by their respective packages.
type Engine struct {
	cfg Config

	cache      *intentcache.Cache
	index      *vectorindex.Index
	claims     *gossip.ClaimTable
	mesh       *gossip.Mesh
	chain      *chainclient.Client
	burnLedger *burn.Ledger
	load       *loadmonitor.Monitor
	rot        *rotation.Rotation
	embedder   capability.Embedder
	negotiator capability.Negotiator
	signer     *identity.Signer
	onSettled  SettlementSink

	logger *log.Logger
}

// New wires an Engine from its dependencies.
func New(
	cfg Config,
	cache *intentcache.Cache,
	index *vectorindex.Index,
	claims *gossip.ClaimTable,
	mesh *gossip.Mesh,
	chain *chainclient.Client,
	burnLedger *burn.Ledger,
	load *loadmonitor.Monitor,
	rot *rotation.Rotation,
	embedder capability.Embedder,
	negotiator capability.Negotiator,
	signer *identity.Signer,
	onSettled SettlementSink,
) *Engine {
	return &Engine{
		cfg: cfg, cache: cache, index: index, claims: claims, mesh: mesh,
		chain: chain, burnLedger: burnLedger, load: load, rot: rot,
		embedder: embedder, negotiator: negotiator, signer: signer,
		onSettled: onSettled, logger: logx.New("Alignment"),
	}
}

// candidate is a transient scored pair considered for this tick only.
type candidate struct {
	hashA, hashB string
	cosine       float64
}

// RunOnce executes one tick: slot gate, ingestion, mapping, negotiation,
// submission, cleanup. Every step is isolated — a failure at one step is
// logged and the cycle proceeds with the next candidate or returns, but
// never propagates a panic or error out to the scheduler (spec.md §4.1's
// "a cycle never aborts the engine").
func (e *Engine) RunOnce(ctx context.Context, selfID string, validators []rotation.Validator) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("cycle panicked (recovered): %v", r)
		}
	}()

	now := time.Now()

	// Step 1: slot gate.
	if !e.rot.ShouldMediate(selfID, validators, now) {
		return
	}

	// Ingestion: pull newly pending intents from chain into the cache,
	// charging the filing burn for genuinely new ones.
	e.ingest(ctx, now)

	// Step 2: snapshot the top-N prioritised intents.
	topIntents := e.cache.TopN(e.cfg.TopNIntents)
	if len(topIntents) < 2 {
		return
	}

	// Step 3: embed any intent missing from the embedding cache.
	e.embed(ctx, topIntents)

	// Step 4: candidate search.
	candidates := e.findCandidates(topIntents)

	// Steps 5-7: attempt claims, negotiate, build & submit, up to M per
	// cycle.
	negotiated := 0
	for _, c := range candidates {
		if negotiated >= e.cfg.MaxClaimsPerCycle {
			break
		}
		if e.tryOneCandidate(ctx, c, selfID, now) {
			negotiated++
		}
	}

	// Step 8: cleanup.
	e.cache.PruneEmbeddings()
}

// ingest upserts newly observed pending intents into the cache and charges
// the filing burn for each author's new submission ordinal, per spec.md
// §4.3. Already-cached intents are refreshed without re-charging.
func (e *Engine) ingest(ctx context.Context, now time.Time) {
	intents, err := e.chain.PendingIntents(ctx)
	if err != nil {
		e.logger.Printf("ingestion: failed to poll pending intents: %v", err)
		return
	}

	date := now.UTC().Format("2006-01-02")
	lambda := e.load.Lambda()

	for _, intent := range intents {
		if _, known := e.cache.Get(intent.Hash); known {
			e.cache.Upsert(intent)
			continue
		}
		if err := intent.Verify(); err != nil {
			e.logger.Printf("ingestion: rejecting intent %s: %v", intent.Hash, err)
			continue
		}

		rec, err := e.burnLedger.RecordSubmission(intent.Author, date, now.UnixMilli(), lambda)
		if err != nil {
			e.logger.Printf("ingestion: burn accounting failed for %s: %v", intent.Author, err)
		}
		if rec != nil {
			if _, err := e.chain.RecordBurn(ctx, rec); err != nil {
				e.logger.Printf("ingestion: failed to record burn on chain: %v", err)
			}
		}

		daily, _ := e.burnLedger.UserDaily(intent.Author, date)
		if e.burnLedger.NeedsDeposit(daily.SubmissionCount) {
			deposit := e.burnLedger.OpenDeposit(intent.Author, intent.Hash, now.UnixMilli())
			if deposit != nil {
				if err := e.chain.RecordDeposit(ctx, deposit); err != nil {
					e.logger.Printf("ingestion: failed to record deposit on chain: %v", err)
				}
			}
		}

		e.cache.Upsert(intent)
		e.load.RecordSubmission(now)
		if rec != nil {
			e.load.RecordBurn(rec.Amount)
		}
	}
}

func (e *Engine) embed(ctx context.Context, intents []model.Intent) {
	for _, intent := range intents {
		if _, ok := e.cache.Embedding(intent.Hash); ok {
			continue
		}
		vec, err := e.embedder.Embed(ctx, intent.Prose)
		if err != nil {
			e.logger.Printf("mapping: embed failed for %s: %v", intent.Hash, err)
			continue
		}
		e.cache.SetEmbedding(intent.Hash, vec)
		e.index.AddOrUpdate(intent.Hash, vec)
	}
}

// findCandidates runs top-K neighbour search for every snapshot intent and
// flattens the result into one globally ordered, de-duplicated candidate
// list: cosine descending, ties broken by canonical (min,max) hash pair.
func (e *Engine) findCandidates(intents []model.Intent) []candidate {
	seen := make(map[string]bool)
	var out []candidate

	for _, intent := range intents {
		vec, ok := e.cache.Embedding(intent.Hash)
		if !ok {
			continue
		}
		self := intent.Hash
		matches := e.index.TopK(vec, e.cfg.TopKCandidates, func(hash string) bool {
			return hash == self
		})
		for _, m := range matches {
			a, b := model.CanonicalPair(self, m.Hash)
			key := a + "|" + b
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, candidate{hashA: a, hashB: b, cosine: m.Cosine})
		}
	}

	sortCandidates(out)
	return out
}

func sortCandidates(c []candidate) {
	// Insertion sort is adequate at the bounded TopN*TopK scale and keeps
	// the comparator inline and easy to audit against the spec's tie-break
	// rule.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && less(c[j], c[j-1]); j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func less(a, b candidate) bool {
	if a.cosine != b.cosine {
		return a.cosine > b.cosine
	}
	if a.hashA != b.hashA {
		return a.hashA < b.hashA
	}
	return a.hashB < b.hashB
}

// tryOneCandidate attempts to claim, negotiate, and (on success) submit a
// settlement for one candidate pair. It returns true iff a negotiation
// attempt was made (regardless of its outcome), for the per-cycle
// negotiated-candidate counter.
func (e *Engine) tryOneCandidate(ctx context.Context, c candidate, selfID string, now time.Time) bool {
	claim, err := e.claims.TryClaim(c.hashA, c.hashB, selfID, now)
	if err != nil {
		// Refused: another mediator already holds this pair. Not a
		// failure, just move on to the next candidate.
		return false
	}

	e.mesh.Broadcast(ctx, gossip.MsgWorkClaim, gossip.WorkClaimPayload{
		KeyA: c.hashA, KeyB: c.hashB, ClaimID: claim.ClaimID,
		MediatorID: selfID, ClaimedAt: claim.ClaimedAt, ExpiresAt: claim.ExpiresAt,
	})

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		e.claims.Release(c.hashA, c.hashB, selfID)
		e.mesh.Broadcast(ctx, gossip.MsgWorkRelease, gossip.WorkClaimPayload{
			KeyA: c.hashA, KeyB: c.hashB, MediatorID: selfID,
		})
	}
	defer release()

	intentA, okA := e.cache.Get(c.hashA)
	intentB, okB := e.cache.Get(c.hashB)
	if !okA || !okB {
		return false
	}

	verdict, err := e.negotiator.Negotiate(ctx, intentA, intentB)
	if err != nil {
		e.logger.Printf("negotiation: failed for (%s,%s): %v", c.hashA, c.hashB, err)
		return true
	}
	if !verdict.Success || verdict.Confidence < e.cfg.MinNegotiationConfidence {
		return true
	}

	settlement := model.ProposedSettlement{
		ID:              uuid.NewString(),
		IntentHashA:     c.hashA,
		IntentHashB:     c.hashB,
		MediatorID:      selfID,
		Prose:           verdict.Prose,
		Statement:       verdict.Prose,
		Status:          model.SettlementProposed,
		RequiredParties: []string{intentA.Author, intentB.Author},
		CreatedAt:       now.UnixMilli(),
	}
	if err := settlement.Rehash(); err != nil {
		e.logger.Printf("submission: failed to hash settlement for (%s,%s): %v", c.hashA, c.hashB, err)
		return true
	}

	txID, err := e.chain.SubmitSettlement(ctx, &settlement)
	if err != nil {
		e.logger.Printf("submission: failed for (%s,%s): %v", c.hashA, c.hashB, err)
		return true
	}
	e.logger.Printf("submitted settlement %s for (%s,%s), tx=%s", settlement.ID, c.hashA, c.hashB, txID)

	e.mesh.Broadcast(ctx, gossip.MsgSettlementBroadcast, settlement)
	if e.onSettled != nil {
		e.onSettled(ctx, settlement)
	}

	return true
}
