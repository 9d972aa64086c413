package gossip

import (
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// PeerTable is the shared region (d) peer-directory half. Populated by
// discovery and the configured bootstrap endpoints; inbound
// announce/heartbeat messages refresh LastSeen of peers already present
// and add no new ones. Expired by silence.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]*model.Peer
	hbInterval time.Duration
}

// NewPeerTable constructs an empty table with the configured heartbeat
// interval used to compute expiry (2x heartbeat interval).
func NewPeerTable(heartbeatInterval time.Duration) *PeerTable {
	return &PeerTable{peers: make(map[string]*model.Peer), hbInterval: heartbeatInterval}
}

// Upsert records or refreshes a peer's directory entry.
func (t *PeerTable) Upsert(peer model.Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := peer
	t.peers[peer.PeerID] = &stored
}

// Touch refreshes LastSeen for a known peer (heartbeat handling).
func (t *PeerTable) Touch(peerID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[peerID]; ok {
		p.LastSeen = now.UnixMilli()
	}
}

// All returns a snapshot of the known peers.
func (t *PeerTable) All() []model.Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// SweepExpired drops peers unseen for more than 2x the heartbeat interval.
func (t *PeerTable) SweepExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	hbMillis := t.hbInterval.Milliseconds()
	for id, p := range t.peers {
		if p.Expired(now.UnixMilli(), hbMillis) {
			delete(t.peers, id)
			removed++
		}
	}
	return removed
}

// Endpoints returns the endpoint URLs of every known peer, for broadcast
// fan-out.
func (t *PeerTable) Endpoints() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p.Endpoint)
	}
	return out
}
