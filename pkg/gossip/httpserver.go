package gossip

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// ConsensusHandler answers an inbound /api/coordination/consensus request
// with a paraphrase verdict, supplied by pkg/consensuscheck.
type ConsensusHandler func(settlement model.ProposedSettlement) (summary string, approved bool)

// MessageHandler processes one inbound coordination message.
type MessageHandler func(msg CoordinationMessage)

// Server is the inbound side of the peer-coordination mesh. It binds CORS
// to an explicit origin allow-list rather than a wildcard, per spec.md §9's
// instruction to adopt the stricter of the source's two HealthServer
// variants.
type Server struct {
	peers           *PeerTable
	onMessage       MessageHandler
	onConsensus     ConsensusHandler
	logger          *log.Logger
	allowedOrigins  []string
}

// NewServer constructs the coordination-mesh HTTP server.
func NewServer(peers *PeerTable, allowedOrigins []string, onMessage MessageHandler, onConsensus ConsensusHandler) *Server {
	return &Server{
		peers:          peers,
		onMessage:      onMessage,
		onConsensus:    onConsensus,
		logger:         logx.New("GossipServer"),
		allowedOrigins: allowedOrigins,
	}
}

// Handler returns the CORS-wrapped mux for the coordination endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/coordination/message", s.handleMessage)
	mux.HandleFunc("/api/coordination/peers", s.handlePeers)
	mux.HandleFunc("/api/coordination/consensus", s.handleConsensus)

	opts := cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}
	if len(opts.AllowedOrigins) == 0 {
		// rs/cors treats an empty origin list as "allow all"; an empty
		// allow-list here admits no cross-origin request instead.
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(opts).Handler(mux)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg CoordinationMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid message body", http.StatusBadRequest)
		return
	}
	if s.onMessage != nil {
		s.onMessage(msg)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Peers []model.Peer `json:"peers"`
	}{s.peers.All()})
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var settlement model.ProposedSettlement
	if err := json.NewDecoder(r.Body).Decode(&settlement); err != nil {
		http.Error(w, "invalid settlement body", http.StatusBadRequest)
		return
	}
	if s.onConsensus == nil {
		http.Error(w, "consensus verification not configured", http.StatusServiceUnavailable)
		return
	}
	summary, approved := s.onConsensus(settlement)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Summary  string `json:"summary"`
		Approved bool   `json:"approved"`
	}{summary, approved})
}

// Run returns an *http.Server for addr serving Handler(); it does not start
// it. The caller owns the lifecycle (ListenAndServe and Shutdown),
// mirroring main.go's graceful-shutdown pattern.
func (s *Server) Run(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}
