// Command mediator runs one mediator node: the four-stage alignment cycle
// (ingestion, mapping, negotiation, submission) plus the economics,
// rotation, gossip, dispute, and effort-capture subsystems it depends on.
// A single start subcommand reads configuration from the environment;
// every background task runs on its own pkg/scheduler loop so a failure in
// one never blocks another, mirroring the teacher's independently-started
// batch services.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kase1111-hash/mediator-node/pkg/alignment"
	"github.com/kase1111-hash/mediator-node/pkg/auditdb"
	"github.com/kase1111-hash/mediator-node/pkg/burn"
	"github.com/kase1111-hash/mediator-node/pkg/capability"
	"github.com/kase1111-hash/mediator-node/pkg/chainclient"
	"github.com/kase1111-hash/mediator-node/pkg/challenge"
	"github.com/kase1111-hash/mediator-node/pkg/config"
	"github.com/kase1111-hash/mediator-node/pkg/consensuscheck"
	"github.com/kase1111-hash/mediator-node/pkg/dispute"
	"github.com/kase1111-hash/mediator-node/pkg/evidence"
	"github.com/kase1111-hash/mediator-node/pkg/gossip"
	"github.com/kase1111-hash/mediator-node/pkg/guard"
	"github.com/kase1111-hash/mediator-node/pkg/identity"
	"github.com/kase1111-hash/mediator-node/pkg/intentcache"
	"github.com/kase1111-hash/mediator-node/pkg/loadmonitor"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/metrics"
	"github.com/kase1111-hash/mediator-node/pkg/model"
	"github.com/kase1111-hash/mediator-node/pkg/receipt"
	"github.com/kase1111-hash/mediator-node/pkg/rotation"
	"github.com/kase1111-hash/mediator-node/pkg/scheduler"
	"github.com/kase1111-hash/mediator-node/pkg/settlement"
	"github.com/kase1111-hash/mediator-node/pkg/store"
	"github.com/kase1111-hash/mediator-node/pkg/vectorindex"
)

const (
	maxShutdownDelay      = 30 * time.Second
	challengeScanInterval = 5 * time.Minute
)

var log = logx.New("Main")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mediator", flag.ContinueOnError)
	help := fs.Bool("help", false, "print usage and exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || len(args) == 0 || args[0] != "start" {
		fmt.Println("usage: mediator start")
		fmt.Println("configuration is read entirely from the environment; see pkg/config")
		if *help {
			return 0
		}
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("%v", err)
		return 1
	}

	n, err := newNode(cfg)
	if err != nil {
		log.Printf("startup: %v", err)
		return 2
	}
	n.run()
	return 0
}

// node owns every long-lived component and background loop for one
// mediator process.
type node struct {
	cfg *config.Config

	signer    *identity.Signer
	selfID    string
	fileStore *store.Store
	audit     *auditdb.Mirror
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	chain      *chainclient.Client
	burnLedger *burn.Ledger
	load       *loadmonitor.Monitor
	cache      *intentcache.Cache
	index      *vectorindex.Index
	rot        *rotation.Rotation
	validators []rotation.Validator

	peers  *gossip.PeerTable
	claims *gossip.ClaimTable
	mesh   *gossip.Mesh
	server *gossip.Server

	capClient *capability.HTTPClient
	guardian  *guard.Guard

	evidenceFreezer *evidence.Freezer
	disputes        *dispute.Registry
	settlements     *settlement.Machine
	receipts        *receipt.Engine
	consensus       *consensuscheck.Service
	challenges      *challenge.Detector
	engine          *alignment.Engine

	loops    []*scheduler.Loop
	cronLoop *scheduler.CronLoop

	healthServer *http.Server
	meshServer   *http.Server
}

func newNode(cfg *config.Config) (*node, error) {
	signer, err := loadSigner(cfg)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	selfID := signer.PublicKeyHex()

	fileStore, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	audit, err := auditdb.New(cfg.AuditDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit mirror: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	chain := chainclient.New(cfg.ChainEndpoint, cfg.ChainRequestTimeout, signer)

	burnLedger := burn.New(burn.Config{
		FreeDailySubmissions:  cfg.FreeDailySubmissions,
		BaseFilingBurn:        cfg.BaseFilingBurn,
		EscalationBase:        cfg.BurnEscalationBase,
		EscalationExponent:    cfg.BurnEscalationExponent,
		SuccessBurnPercentage: cfg.SuccessBurnPercentage,
		LoadScalingEnabled:    cfg.LoadScalingEnabled,
		EnableSybilResistance: cfg.EnableSybilResistance,
		DailyFreeLimit:        cfg.DailyFreeLimit,
		ExcessDepositAmount:   cfg.ExcessDepositAmount,
		DepositRefundDays:     cfg.DepositRefundDays,
	})
	burnState := fileStore.LoadBurnState()
	burnLedger.Hydrate(burnState.Daily, burnState.History, burnState.Deposits)

	loadMon := loadmonitor.New(loadmonitor.Config{
		TargetIntentRate:    cfg.TargetIntentRate,
		MaxIntentRate:       cfg.MaxIntentRate,
		MaxLoadMultiplier:   cfg.MaxLoadMultiplier,
		LoadSmoothingFactor: cfg.LoadSmoothingFactor,
	})

	cache := intentcache.New(cfg.MaxIntentsCache)

	index := vectorindex.New()
	if err := index.LoadSnapshot(fileStore.VectorIndexSnapshotPath()); err != nil {
		log.Printf("vector index: snapshot not restored: %v", err)
	}

	validators, err := parseValidatorSet(cfg.ValidatorSet)
	if err != nil {
		return nil, fmt.Errorf("validator set: %w", err)
	}
	rot := rotation.New(rotation.Mode(cfg.ConsensusMode), cfg.MinEffectiveStake,
		time.Duration(cfg.AlignmentCycleIntervalMs)*time.Millisecond, time.Now())

	peers := gossip.NewPeerTable(cfg.HeartbeatInterval)
	for _, ep := range cfg.PeerEndpoints {
		peers.Upsert(model.Peer{Endpoint: ep})
	}
	claims := gossip.NewClaimTable(cfg.WorkClaimTTL)
	mesh := gossip.NewMesh(selfID, peers)

	guardian := guard.New(guard.Config{
		RateLimitAttempts: cfg.InjectionRateLimitAttempts,
		RateLimitWindow:   cfg.InjectionRateLimitWindow,
	})
	capClient := capability.NewHTTPClient(cfg.CapabilityEndpoint, cfg.CapabilityTimeout, cfg.CapabilityTokenCap, guardian)

	evidenceFreezer := evidence.New()
	evidenceFreezer.Hydrate(fileStore.ListFrozenItems())

	disputes := dispute.New(evidenceFreezer)
	disputes.Hydrate(fileStore.ListDisputes())

	settlements := settlement.New(settlement.Config{
		RequireHumanRatification: cfg.RequireHumanRatification,
		EnableDisputeSystem:      cfg.EnableDisputeSystem,
	}, fileStore, disputes, fileStore)
	settlements.OnStateChange(func(s *model.ProposedSettlement, from, to model.SettlementStatus) {
		if to == model.SettlementFinalized {
			m.SettlementsFinalized.Inc()
		}
		if to == model.SettlementReversed {
			m.SettlementsReversed.Inc()
		}
		if err := fileStore.SaveSettlement(*s); err != nil {
			log.Printf("persist settlement %s after %s->%s: %v", s.ID, from, to, err)
		}
	})

	receipts := receipt.New(receipt.Config{
		Strategy:    receipt.SegmentationStrategy(cfg.EffortSegmentationStrategy),
		TimeWindow:  time.Duration(cfg.EffortTimeWindowMinutes * float64(time.Minute)),
		ActivityGap: time.Duration(cfg.EffortActivityGapMinutes * float64(time.Minute)),
	}, capClient)

	consensus := consensuscheck.New(consensuscheck.Config{
		Enabled:                     cfg.EnableSemanticConsensus,
		HighValueThreshold:          cfg.HighValueThreshold,
		RequiredVerifiers:           cfg.RequiredVerifiers,
		RequiredConsensus:           cfg.RequiredConsensus,
		SemanticSimilarityThreshold: cfg.SemanticSimilarityThreshold,
		VerificationDeadline:        time.Duration(cfg.VerificationDeadlineHours * float64(time.Hour)),
	}, mesh, peers, capClient)

	challenges := challenge.New(challenge.Config{
		Enabled:                  cfg.EnableChallengeSubmission,
		MinConfidenceToChallenge: cfg.MinConfidenceToChallenge,
		ScanLimit:                100,
	}, chain, cache, capClient, signer, selfID)

	n := &node{
		cfg: cfg, signer: signer, selfID: selfID, fileStore: fileStore, audit: audit,
		registry: registry, metrics: m, chain: chain, burnLedger: burnLedger, load: loadMon,
		cache: cache, index: index, rot: rot, validators: validators,
		peers: peers, claims: claims, mesh: mesh,
		capClient: capClient, guardian: guardian,
		evidenceFreezer: evidenceFreezer, disputes: disputes, settlements: settlements,
		receipts: receipts, consensus: consensus, challenges: challenges,
	}

	n.engine = alignment.New(alignment.Config{
		TopNIntents:              cfg.TopNIntents,
		TopKCandidates:           cfg.TopKCandidates,
		MaxClaimsPerCycle:        cfg.MaxClaimsPerCycle,
		MinNegotiationConfidence: cfg.MinNegotiationConfidence,
		FreeDailySubmissions:     cfg.FreeDailySubmissions,
	}, cache, index, claims, mesh, chain, burnLedger, loadMon, rot, capClient, capClient, signer, n.onSettled)

	n.server = gossip.NewServer(peers, cfg.CORSAllowedOrigins, n.onCoordinationMessage, n.onConsensusRequest)

	return n, nil
}

// onSettled persists a freshly proposed settlement to the authoritative
// file store, mirrors it to the optional Postgres audit store, and
// updates the settlements-proposed counter. Ratification and finalization
// happen later, driven by declarations reaching pkg/settlement.Machine,
// not by the alignment engine itself.
func (n *node) onSettled(ctx context.Context, s model.ProposedSettlement) {
	n.metrics.SettlementsProposed.Inc()
	if err := n.fileStore.SaveSettlement(s); err != nil {
		log.Printf("persist settlement %s: %v", s.ID, err)
	}
	n.audit.RecordSettlement(ctx, s)
}

func (n *node) onCoordinationMessage(msg gossip.CoordinationMessage) {
	switch msg.Type {
	case gossip.MsgHeartbeat, gossip.MsgAnnounce:
		n.peers.Touch(msg.FromPeerID, time.Now())
	}
}

func (n *node) onConsensusRequest(s model.ProposedSettlement) (string, bool) {
	result, err := n.capClient.Paraphrase(context.Background(), s)
	if err != nil {
		return "", false
	}
	return result.Summary, result.Approved
}

// parseValidatorSet parses "mediatorId:effectiveStake" pairs from the
// operator-supplied rotation set, per the gap noted in DESIGN.md: the chain
// service exposes no dedicated validator-set endpoint.
func parseValidatorSet(entries []string) ([]rotation.Validator, error) {
	out := make([]rotation.Validator, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid validator set entry %q, expected mediatorId:effectiveStake", e)
		}
		stake, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid effective stake in %q: %w", e, err)
		}
		out = append(out, rotation.Validator{MediatorID: parts[0], EffectiveStake: stake})
	}
	return out, nil
}

func loadSigner(cfg *config.Config) (*identity.Signer, error) {
	if cfg.MediatorPrivateKey != "" {
		return identity.NewSignerFromHex(cfg.MediatorPublicKey, cfg.MediatorPrivateKey)
	}
	return identity.LoadOrGenerate(cfg.MediatorPublicKey, "", cfg.DataDir)
}

// run starts every background loop and the two HTTP servers, then blocks
// until a termination signal arrives and shuts everything down within
// maxShutdownDelay.
func (n *node) run() {
	ctx, cancel := context.WithCancel(context.Background())

	n.startLoops(ctx)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	healthMux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	n.healthServer = &http.Server{Addr: n.cfg.HealthAddr, Handler: healthMux}
	go func() {
		log.Printf("health/metrics listening on %s", n.cfg.HealthAddr)
		if err := n.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server: %v", err)
		}
	}()

	n.meshServer = &http.Server{Addr: n.cfg.ListenAddr, Handler: n.server.Handler()}
	go func() {
		log.Printf("coordination mesh listening on %s", n.cfg.ListenAddr)
		if err := n.meshServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("mesh server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	cancel()
	n.stopLoops()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), maxShutdownDelay)
	defer shutdownCancel()
	if err := n.healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown: %v", err)
	}
	if err := n.meshServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("mesh server shutdown: %v", err)
	}

	n.flush()
	if err := n.audit.Close(); err != nil {
		log.Printf("audit mirror close: %v", err)
	}
	log.Printf("stopped")
}

// startLoops launches the node's independent background tasks: the
// alignment cycle, load monitor, heartbeat, work-claim and peer sweeps,
// peer discovery (one loop per bootstrap endpoint), the challenge scan
// (when challenge submission is enabled) and the cron-driven deposit refund
// sweep (when Sybil resistance is enabled). No dispute freezer sweep or
// settlement watcher loop is started.
func (n *node) startLoops(ctx context.Context) {
	cycleInterval := time.Duration(n.cfg.AlignmentCycleIntervalMs) * time.Millisecond

	add := func(l *scheduler.Loop) {
		n.loops = append(n.loops, l)
		l.Start(ctx)
	}

	add(scheduler.NewLoop("AlignmentCycle", cycleInterval, func(ctx context.Context) {
		n.engine.RunOnce(ctx, n.selfID, n.validators)
	}, nil))

	add(scheduler.NewLoop("LoadMonitor", 30*time.Second, func(ctx context.Context) {
		n.load.Tick(time.Now())
	}, nil))

	add(scheduler.NewLoop("Heartbeat", n.cfg.HeartbeatInterval, func(ctx context.Context) {
		n.mesh.Broadcast(ctx, gossip.MsgHeartbeat, nil)
	}, nil))

	add(scheduler.NewLoop("ClaimSweep", n.cfg.WorkClaimTTL, func(ctx context.Context) {
		n.claims.SweepExpired(time.Now())
	}, nil))

	add(scheduler.NewLoop("PeerSweep", n.cfg.HeartbeatInterval, func(ctx context.Context) {
		n.peers.SweepExpired(time.Now())
	}, nil))

	for _, bootstrap := range n.cfg.PeerEndpoints {
		ep := bootstrap
		add(scheduler.NewLoop("PeerDiscovery", n.cfg.PeerDiscoveryInterval, func(ctx context.Context) {
			if err := n.mesh.DiscoverPeers(ctx, ep); err != nil {
				log.Printf("peer discovery via %s: %v", ep, err)
			}
		}, nil))
	}

	if n.cfg.EnableChallengeSubmission {
		add(scheduler.NewLoop("ChallengeScan", challengeScanInterval, func(ctx context.Context) {
			n.challenges.Scan(ctx)
		}, nil))
	}

	if n.cfg.EnableSybilResistance {
		cron, err := scheduler.NewCronLoop("0 3 * * *", func(ctx context.Context) {
			n.sweepDeposits(ctx)
		})
		if err != nil {
			log.Printf("deposit refund cron: %v", err)
		} else {
			n.cronLoop = cron
			cron.Start()
		}
	}
}

func (n *node) stopLoops() {
	for _, l := range n.loops {
		l.Stop(maxShutdownDelay)
	}
	if n.cronLoop != nil {
		n.cronLoop.Stop()
	}
}

// sweepDeposits refunds every deposit past its holding period, per §4.3's
// anti-Sybil bond lifecycle.
func (n *node) sweepDeposits(ctx context.Context) {
	_, _, deposits := n.burnLedger.Snapshot()
	for _, d := range deposits {
		if d.Status != model.DepositActive || time.Now().UnixMilli() < d.RefundDeadline {
			continue
		}
		if err := n.burnLedger.Refund(d.DepositID, time.Now().UnixMilli()); err != nil {
			log.Printf("refund deposit %s: %v", d.DepositID, err)
			continue
		}
		if err := n.chain.RecordRefund(ctx, &d); err != nil {
			log.Printf("record refund %s on chain: %v", d.DepositID, err)
		}
	}
}

// flush persists every in-memory shared region to the file store on a
// clean shutdown.
func (n *node) flush() {
	daily, history, deposits := n.burnLedger.Snapshot()
	if err := n.fileStore.SaveBurnState(store.BurnState{Daily: daily, History: history, Deposits: deposits}); err != nil {
		log.Printf("flush burn state: %v", err)
	}
	if err := n.index.SaveSnapshot(n.fileStore.VectorIndexSnapshotPath()); err != nil {
		log.Printf("flush vector index: %v", err)
	}
}
