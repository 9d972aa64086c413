// Package consensuscheck implements Semantic Consensus (spec.md §4.9
// second half): for high-value settlements, fan out a verification request
// to N peers, each of which independently paraphrases the settlement.
// Grounded on the teacher's pkg/attestation/service.go RequestAttestations
// — WaitGroup fan-out, a buffered response channel closed by a goroutine
// once every request completes, collected under a deadline — generalized
// from BLS attestation collection to paraphrase-and-approve verification.
package consensuscheck

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/gossip"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Config carries every semantic-consensus option from pkg/config.
type Config struct {
	Enabled                     bool
	HighValueThreshold          float64
	RequiredVerifiers           int
	RequiredConsensus           int
	SemanticSimilarityThreshold float64
	VerificationDeadline        time.Duration
}

// response is one peer's verification outcome, or an abstention.
type response struct {
	peerID    string
	summary   string
	approved  bool
	abstained bool
}

// Result is the outcome of a semantic-consensus round.
type Result struct {
	Accepted   bool
	Approvals  int
	Abstentions int
	Summaries  []string
}

// Service runs semantic-consensus rounds over the peer mesh.
type Service struct {
	cfg    Config
	mesh   *gossip.Mesh
	peers  *gossip.PeerTable
	embed  Embedder
	logger *log.Logger
}

// Embedder maps a summary string to a vector for pairwise similarity
// scoring, reusing the same capability contract as the rest of the engine.
type Embedder interface {
	Embed(ctx context.Context, prose string) ([]float32, error)
}

// New constructs a Service.
func New(cfg Config, mesh *gossip.Mesh, peers *gossip.PeerTable, embed Embedder) *Service {
	return &Service{cfg: cfg, mesh: mesh, peers: peers, embed: embed, logger: logx.New("SemanticConsensus")}
}

// RequiresConsensus reports whether a settlement's value crosses the
// high-value threshold and therefore needs peer verification before
// finalization.
func (s *Service) RequiresConsensus(settlementValue float64) bool {
	return s.cfg.Enabled && settlementValue >= s.cfg.HighValueThreshold
}

// Verify fans the settlement out to RequiredVerifiers peers and collects
// their paraphrase verdicts until either every peer has answered or the
// verification deadline elapses; unanswered peers count as abstentions.
func (s *Service) Verify(ctx context.Context, settlement model.ProposedSettlement) Result {
	endpoints := s.peers.Endpoints()
	if len(endpoints) > s.cfg.RequiredVerifiers {
		endpoints = endpoints[:s.cfg.RequiredVerifiers]
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, s.cfg.VerificationDeadline)
	defer cancel()

	responses := make(chan response, len(endpoints))
	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			summary, approved, ok := s.mesh.RequestConsensus(deadlineCtx, endpoint, settlement)
			if !ok {
				responses <- response{peerID: endpoint, abstained: true}
				return
			}
			responses <- response{peerID: endpoint, summary: summary, approved: approved}
		}(endpoint)
	}

	go func() {
		wg.Wait()
		close(responses)
	}()

	var collected []response
	for r := range responses {
		collected = append(collected, r)
	}

	return s.tally(collected)
}

func (s *Service) tally(responses []response) Result {
	var approvals int
	var abstentions int
	var summaries []string

	for _, r := range responses {
		if r.abstained {
			abstentions++
			continue
		}
		if r.approved {
			approvals++
			summaries = append(summaries, r.summary)
		}
	}

	result := Result{Approvals: approvals, Abstentions: abstentions, Summaries: summaries}
	if approvals < s.cfg.RequiredConsensus {
		return result
	}

	similar := s.pairwiseSimilarityOK(context.Background(), summaries)
	result.Accepted = similar
	return result
}

// pairwiseSimilarityOK reports whether every pair of approving summaries
// has cosine similarity at or above the configured threshold — requiring
// genuine independent agreement, not just a majority of approvals.
func (s *Service) pairwiseSimilarityOK(ctx context.Context, summaries []string) bool {
	if len(summaries) < 2 {
		return len(summaries) > 0
	}

	vectors := make([][]float32, 0, len(summaries))
	for _, summary := range summaries {
		vec, err := s.embed.Embed(ctx, summary)
		if err != nil {
			s.logger.Printf("pairwiseSimilarityOK: embed failed, treating round as non-similar: %v", err)
			return false
		}
		vectors = append(vectors, vec)
	}

	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			if cosine(vectors[i], vectors[j]) < s.cfg.SemanticSimilarityThreshold {
				return false
			}
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
