package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// MessageType enumerates the coordination-mesh message kinds of spec.md §4.4.
type MessageType string

const (
	MsgAnnounce           MessageType = "announce"
	MsgHeartbeat          MessageType = "heartbeat"
	MsgWorkClaim          MessageType = "work_claim"
	MsgWorkRelease        MessageType = "work_release"
	MsgSettlementBroadcast MessageType = "settlement_broadcast"
	MsgConsensusRequest   MessageType = "consensus_request"
	MsgConsensusResponse  MessageType = "consensus_response"
	MsgLoadReport         MessageType = "load_report"
)

// CoordinationMessage is the envelope every peer-mesh message travels in.
type CoordinationMessage struct {
	Type       MessageType     `json:"type"`
	FromPeerID string          `json:"fromPeerId"`
	SentAt     int64           `json:"sentAt"`
	Payload    json.RawMessage `json:"payload"`
}

// WorkClaimPayload is the body of a work_claim / work_release message.
type WorkClaimPayload struct {
	KeyA       string `json:"keyA"`
	KeyB       string `json:"keyB"`
	ClaimID    string `json:"claimId"`
	MediatorID string `json:"mediatorId"`
	ClaimedAt  int64  `json:"claimedAt,omitempty"`
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
}

// Mesh is this node's outbound side of the peer-coordination mesh: best
// effort, per-peer 5s timeout, failures ignored (fan-out isolation per
// spec.md §5's Promise.allSettled-style broadcast).
type Mesh struct {
	selfPeerID string
	peers      *PeerTable
	client     *http.Client
	logger     *log.Logger
}

// NewMesh constructs a Mesh bound to the given peer table.
func NewMesh(selfPeerID string, peers *PeerTable) *Mesh {
	return &Mesh{
		selfPeerID: selfPeerID,
		peers:      peers,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logx.New("Gossip"),
	}
}

// Broadcast fans a message out to every known peer concurrently, isolating
// per-peer failures (they are logged and ignored, never aggregated into an
// error the caller must handle).
func (m *Mesh) Broadcast(ctx context.Context, msgType MessageType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Printf("failed to marshal %s payload: %v", msgType, err)
		return
	}
	msg := CoordinationMessage{
		Type:       msgType,
		FromPeerID: m.selfPeerID,
		SentAt:     time.Now().UnixMilli(),
		Payload:    raw,
	}

	endpoints := m.peers.Endpoints()
	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			if err := m.send(ctx, endpoint, msg); err != nil {
				m.logger.Printf("broadcast %s to %s failed (ignored): %v", msgType, endpoint, err)
			}
		}(endpoint)
	}
	wg.Wait()
}

func (m *Mesh) send(ctx context.Context, endpoint string, msg CoordinationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/coordination/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	return nil
}

// DiscoverPeers polls one bootstrap endpoint's /api/coordination/peers and
// merges the result into the local peer table.
func (m *Mesh) DiscoverPeers(ctx context.Context, bootstrapEndpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bootstrapEndpoint+"/api/coordination/peers", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer discovery returned status %d", resp.StatusCode)
	}
	var result struct {
		Peers []model.Peer `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	for _, p := range result.Peers {
		if p.PeerID != m.selfPeerID {
			m.peers.Upsert(p)
		}
	}
	return nil
}

// RequestConsensus asks one peer to paraphrase/approve a settlement, for
// the Semantic Consensus component. Abstains (empty, ok=false) on timeout
// or error, per spec.md §4.9's "timed-out responses count as abstentions".
func (m *Mesh) RequestConsensus(ctx context.Context, endpoint string, settlement model.ProposedSettlement) (summary string, approved bool, ok bool) {
	body, err := json.Marshal(settlement)
	if err != nil {
		return "", false, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/coordination/consensus", bytes.NewReader(body))
	if err != nil {
		return "", false, false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return "", false, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false, false
	}
	var result struct {
		Summary  string `json:"summary"`
		Approved bool   `json:"approved"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, false
	}
	return result.Summary, result.Approved, true
}
