package model

// WorkClaim is a best-effort distributed lock over a canonical intent pair,
// preventing (not guaranteeing against) redundant mediation effort.
type WorkClaim struct {
	ClaimID    string `json:"claimId"`
	MediatorID string `json:"mediatorId"`
	KeyA       string `json:"keyA"`
	KeyB       string `json:"keyB"`
	ClaimedAt  int64  `json:"claimedAt"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// Key returns the canonical (hashA,hashB) string used to index claims.
func (w *WorkClaim) Key() string {
	return w.KeyA + "|" + w.KeyB
}

// Expired reports whether the claim's TTL has passed as of nowMillis.
func (w *WorkClaim) Expired(nowMillis int64) bool {
	return nowMillis >= w.ExpiresAt
}

// Peer is a known mediator in the work-claim gossip mesh.
type Peer struct {
	PeerID       string   `json:"peerId"` // public key
	Endpoint     string   `json:"endpoint"`
	LastSeen     int64    `json:"lastSeen"`
	Reputation   float64  `json:"reputation"`
	Load         float64  `json:"load"` // 0..100
	Capabilities []string `json:"capabilities"`
}

// Expired reports whether the peer has been silent for more than
// 2x the heartbeat interval.
func (p *Peer) Expired(nowMillis int64, heartbeatIntervalMillis int64) bool {
	return nowMillis-p.LastSeen > 2*heartbeatIntervalMillis
}
