package ledger

import (
	"errors"
	"fmt"
	gomath "math"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCollDeposit JournalType = iota
	JournalTypeCollWithdraw
	JournalTypeDebtIssue
	JournalTypeDebtRepay
	JournalTypeBorrowFee
	JournalTypeRewardPull
	JournalTypeGasCompensation
	JournalTypeOffset
	JournalTypeRedistribution
	JournalTypeSurplus
	JournalTypeSurplusClaim
	JournalTypeRedemption
	JournalTypeRedemptionFee
	JournalTypeStabilityDeposit
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollDeposit:
		return "coll_deposit"
	case JournalTypeCollWithdraw:
		return "coll_withdraw"
	case JournalTypeDebtIssue:
		return "debt_issue"
	case JournalTypeDebtRepay:
		return "debt_repay"
	case JournalTypeBorrowFee:
		return "borrow_fee"
	case JournalTypeRewardPull:
		return "reward_pull"
	case JournalTypeGasCompensation:
		return "gas_compensation"
	case JournalTypeOffset:
		return "offset"
	case JournalTypeRedistribution:
		return "redistribution"
	case JournalTypeSurplus:
		return "surplus"
	case JournalTypeSurplusClaim:
		return "surplus_claim"
	case JournalTypeRedemption:
		return "redemption"
	case JournalTypeRedemptionFee:
		return "redemption_fee"
	case JournalTypeStabilityDeposit:
		return "stability_deposit"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Deterministic, derived from BatchID and position
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Asset         string      // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every entry
// balances on its own. Empty batches are valid: state-only commands such as
// price updates post nothing.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s crosses assets: %s -> %s",
				j.JournalID, j.CreditAccount.AccountPath(), j.DebitAccount.AccountPath())
		}
	}

	return nil
}

// MaxAmount is the largest amount a single journal or balance can carry.
const MaxAmount uint64 = gomath.MaxInt64

var ErrAmountOutOfRange = errors.New("ledger: amount exceeds ledger range")

func toAmount(v uint64) (int64, error) {
	if v > MaxAmount {
		return 0, fmt.Errorf("%w: %d", ErrAmountOutOfRange, v)
	}
	return int64(v), nil
}
