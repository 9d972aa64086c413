package model

// BurnType classifies why a burn was charged.
type BurnType string

const (
	BurnBaseFiling BurnType = "base_filing"
	BurnEscalated  BurnType = "escalated"
	BurnSuccess    BurnType = "success"
	BurnLoadScaled BurnType = "load_scaled"
)

// BurnRecord is one on-chain token expenditure charged against an author.
type BurnRecord struct {
	ID           string   `json:"id"`
	Type         BurnType `json:"type"`
	Author       string   `json:"author"`
	Amount       float64  `json:"amount"`
	IntentHash   string   `json:"intentHash,omitempty"`
	SettlementID string   `json:"settlementId,omitempty"`
	Multiplier   float64  `json:"multiplier"`
	Timestamp    int64    `json:"timestamp"`
	TxHash       string   `json:"txHash,omitempty"`
}

// UserDaily tracks one author's submission counters for one calendar UTC day.
type UserDaily struct {
	Author           string  `json:"author"`
	Date             string  `json:"date"` // YYYY-MM-DD
	SubmissionCount  int     `json:"submissionCount"`
	TotalBurned      float64 `json:"totalBurned"`
	LastSubmissionAt int64   `json:"lastSubmissionAt"`
}

// DepositStatus is the lifecycle of an anti-Sybil escrow deposit.
type DepositStatus string

const (
	DepositActive    DepositStatus = "active"
	DepositRefunded  DepositStatus = "refunded"
	DepositForfeited DepositStatus = "forfeited"
)

// Deposit is an escrowed anti-Sybil bond tied to one intent submission.
type Deposit struct {
	DepositID      string        `json:"depositId"`
	Author         string        `json:"author"`
	IntentHash     string        `json:"intentHash"`
	Amount         float64       `json:"amount"`
	SubmittedAt    int64         `json:"submittedAt"`
	RefundDeadline int64         `json:"refundDeadline"`
	Status         DepositStatus `json:"status"`
}
