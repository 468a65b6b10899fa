package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every asset is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals, err := v.tracker.ComputeGlobalBalance()
	if err != nil {
		return err
	}

	assets := make([]string, 0, len(totals))
	for a := range totals {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		if totals[asset] != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", asset, totals[asset])
		}
	}

	return nil
}

// ValidateInternalNonNegative checks that no user or system account is
// overdrawn. Only external boundary accounts may carry negative balances.
func (v *InvariantValidator) ValidateInternalNonNegative(asset string) error {
	var violation error
	err := v.tracker.ForEach(asset, func(key AccountKey, balance int64) bool {
		if key.Scope != AccountScopeExternal && balance < 0 {
			violation = fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return violation
}
