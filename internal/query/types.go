package query

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are in whole units (nine decimals). Every response built from
// projections carries as_of_sequence for freshness.

// TroveResponse represents a projected trove.
type TroveResponse struct {
	Asset        string          `json:"asset"`
	Owner        string          `json:"owner"`
	Status       string          `json:"status"`
	Coll         decimal.Decimal `json:"coll"`
	Debt         decimal.Decimal `json:"debt"`
	Stake        decimal.Decimal `json:"stake"`
	NICR         decimal.Decimal `json:"nicr"`
	LastSequence int64           `json:"last_sequence"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// BalanceResponse is one ledger account balance.
type BalanceResponse struct {
	AccountPath  string          `json:"account_path"`
	Asset        string          `json:"asset"`
	Balance      decimal.Decimal `json:"balance"`
	LastSequence int64           `json:"last_sequence"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// LiquidationResponse is one liquidated trove.
type LiquidationResponse struct {
	Sequence          int64           `json:"sequence"`
	Asset             string          `json:"asset"`
	Owner             string          `json:"owner"`
	State             string          `json:"state"`
	ICR               decimal.Decimal `json:"icr"`
	Coll              decimal.Decimal `json:"coll"`
	Debt              decimal.Decimal `json:"debt"`
	DebtOffset        decimal.Decimal `json:"debt_offset"`
	DebtRedistributed decimal.Decimal `json:"debt_redistributed"`
	CollSurplus       decimal.Decimal `json:"coll_surplus"`
	Timestamp         time.Time       `json:"timestamp"`
}

// RedemptionResponse is one trove drawn by a redemption.
type RedemptionResponse struct {
	Sequence     int64           `json:"sequence"`
	Asset        string          `json:"asset"`
	Owner        string          `json:"owner"`
	DebtRedeemed decimal.Decimal `json:"debt_redeemed"`
	CollDrawn    decimal.Decimal `json:"coll_drawn"`
	Closed       bool            `json:"closed"`
	Timestamp    time.Time       `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string          `json:"journal_id"`
	BatchID       string          `json:"batch_id"`
	EventRef      string          `json:"event_ref"`
	Sequence      int64           `json:"sequence"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	JournalType   int32           `json:"journal_type"`
	Timestamp     int64           `json:"timestamp"`
}

// CommandResponse is a logged command with its outcome.
type CommandResponse struct {
	Sequence       int64     `json:"sequence"`
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Asset          *string   `json:"asset,omitempty"`
	RejectReason   *string   `json:"reject_reason,omitempty"`
	StateHash      string    `json:"state_hash"`
	Timestamp      time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	LastSequence     int64             `json:"last_sequence"`
	SequenceGaps     []int64           `json:"sequence_gaps,omitempty"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	Asset     string          `json:"asset"`
	Imbalance decimal.Decimal `json:"imbalance"`
}
