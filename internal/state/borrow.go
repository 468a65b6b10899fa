package state

import (
	"fmt"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
)

// BorrowerOperations are the owner-facing trove adjustments. Each one applies
// pending rewards first and re-sorts the trove with the caller's hints.
type BorrowerOperations struct {
	tm      *TroveManager
	fees    *FeeDecayModel
	oracle  Oracle
	token   *DebtToken
	surplus *LedgerCollSurplusPool
}

func NewBorrowerOperations(tm *TroveManager, fees *FeeDecayModel, oracle Oracle, token *DebtToken, surplus *LedgerCollSurplusPool) *BorrowerOperations {
	return &BorrowerOperations{tm: tm, fees: fees, oracle: oracle, token: token, surplus: surplus}
}

// AdjustResult reports the trove after an operation.
type AdjustResult struct {
	Coll      uint64
	Debt      uint64
	ICR       uint64
	BorrowFee uint64
	Stake     uint64
}

func (b *BorrowerOperations) price() (uint64, error) {
	return b.oracle.GetPrice(b.tm.asset)
}

func (b *BorrowerOperations) requireICR(coll, debt, price uint64) (uint64, error) {
	icr := fpmath.CurrentICR(coll, debt, price)
	if icr < b.tm.params.MCR {
		return icr, fmt.Errorf("%w: icr %s < mcr %s", ErrBelowMinimumCollateralRatio,
			fpmath.FormatAmount(icr), fpmath.FormatAmount(b.tm.params.MCR))
	}
	return icr, nil
}

// requireLedgerRange rejects amounts the ledger cannot journal.
func requireLedgerRange(amounts ...uint64) error {
	for _, v := range amounts {
		if v > ledger.MaxAmount {
			return fmt.Errorf("%w: %d exceeds ledger range", ErrInvalidAmount, v)
		}
	}
	return nil
}

func (b *BorrowerOperations) requireMinDebt(debt uint64) error {
	if debt < b.tm.params.MinNetDebt {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinimumDebt,
			fpmath.FormatAmount(debt), fpmath.FormatAmount(b.tm.params.MinNetDebt))
	}
	return nil
}

// mint issues amount of new debt: the owner receives amount minus the
// borrowing fee and the fee goes to the fee account.
func (b *BorrowerOperations) mint(owner Identity, amount uint64) (uint64, error) {
	if err := b.tm.pools.IncreaseDebt(amount); err != nil {
		return 0, err
	}
	fee, err := b.fees.BorrowingFee(amount, b.tm.GetEntireSystemDebt())
	if err != nil {
		return 0, err
	}
	if err := b.token.Mint(walletKey(owner, ledger.DebtToken), amount-fee, ledger.JournalTypeDebtIssue); err != nil {
		return 0, err
	}
	fees := ledger.NewSystemAccountKey(ledger.SubTypeFees, ledger.DebtToken)
	if err := b.token.Mint(fees, fee, ledger.JournalTypeBorrowFee); err != nil {
		return 0, err
	}
	return fee, nil
}

func (b *BorrowerOperations) result(owner Identity, price, fee uint64) (*AdjustResult, error) {
	t, err := b.tm.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	return &AdjustResult{
		Coll:      t.Coll,
		Debt:      t.Debt,
		ICR:       fpmath.CurrentICR(t.Coll, t.Debt, price),
		BorrowFee: fee,
		Stake:     t.Stake,
	}, nil
}

// OpenTrove creates an active trove with coll collateral and debt recorded
// debt.
func (b *BorrowerOperations) OpenTrove(owner Identity, coll, debt uint64, upperHint, lowerHint Identity) (*AdjustResult, error) {
	if owner.IsZero() {
		return nil, ErrInvalidIdentity
	}
	if coll == 0 {
		return nil, fmt.Errorf("%w: collateral must be > 0", ErrInvalidAmount)
	}
	if err := requireLedgerRange(coll, debt); err != nil {
		return nil, err
	}
	status, err := b.tm.GetTroveStatus(owner)
	if err != nil {
		return nil, err
	}
	if status == StatusActive {
		return nil, fmt.Errorf("%w: %s on %s", ErrTroveAlreadyActive, owner, b.tm.asset)
	}
	if err := b.requireMinDebt(debt); err != nil {
		return nil, err
	}
	price, err := b.price()
	if err != nil {
		return nil, err
	}
	if _, err := b.requireICR(coll, debt, price); err != nil {
		return nil, err
	}

	if err := b.tm.activate(owner, coll, debt, upperHint, lowerHint); err != nil {
		return nil, err
	}
	if err := b.tm.pools.DepositColl(coll); err != nil {
		return nil, err
	}
	fee, err := b.mint(owner, debt)
	if err != nil {
		return nil, err
	}
	return b.result(owner, price, fee)
}

// AddColl deposits more collateral.
func (b *BorrowerOperations) AddColl(owner Identity, amount uint64, upperHint, lowerHint Identity) (*AdjustResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if err := requireLedgerRange(amount); err != nil {
		return nil, err
	}
	t, err := b.touch(owner)
	if err != nil {
		return nil, err
	}
	if err := requireLedgerRange(t.Coll + amount); err != nil {
		return nil, err
	}
	price, err := b.price()
	if err != nil {
		return nil, err
	}
	if err := b.tm.update(owner, t.Coll+amount, t.Debt, upperHint, lowerHint); err != nil {
		return nil, err
	}
	if err := b.tm.pools.DepositColl(amount); err != nil {
		return nil, err
	}
	return b.result(owner, price, 0)
}

// WithdrawColl releases collateral to the owner's wallet as long as the trove
// stays at or above MCR.
func (b *BorrowerOperations) WithdrawColl(owner Identity, amount uint64, upperHint, lowerHint Identity) (*AdjustResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	t, err := b.touch(owner)
	if err != nil {
		return nil, err
	}
	if amount > t.Coll {
		return nil, fmt.Errorf("%w: withdrawal %d exceeds collateral %d", ErrInvalidAmount, amount, t.Coll)
	}
	price, err := b.price()
	if err != nil {
		return nil, err
	}
	newColl := t.Coll - amount
	if _, err := b.requireICR(newColl, t.Debt, price); err != nil {
		return nil, err
	}
	if err := b.tm.update(owner, newColl, t.Debt, upperHint, lowerHint); err != nil {
		return nil, err
	}
	if err := b.tm.pools.SendColl(walletKey(owner, b.tm.asset), amount, ledger.JournalTypeCollWithdraw); err != nil {
		return nil, err
	}
	return b.result(owner, price, 0)
}

// WithdrawDebtToken borrows amount more against the trove.
func (b *BorrowerOperations) WithdrawDebtToken(owner Identity, amount uint64, upperHint, lowerHint Identity) (*AdjustResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	t, err := b.touch(owner)
	if err != nil {
		return nil, err
	}
	price, err := b.price()
	if err != nil {
		return nil, err
	}
	newDebt, err := fpmath.SafeAdd(t.Debt, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := requireLedgerRange(amount, newDebt); err != nil {
		return nil, err
	}
	if _, err := b.requireICR(t.Coll, newDebt, price); err != nil {
		return nil, err
	}
	if err := b.tm.update(owner, t.Coll, newDebt, upperHint, lowerHint); err != nil {
		return nil, err
	}
	fee, err := b.mint(owner, amount)
	if err != nil {
		return nil, err
	}
	return b.result(owner, price, fee)
}

// RepayDebtToken burns amount from the owner's wallet against the trove. The
// remaining debt must stay at or above MinNetDebt; use CloseTrove to repay
// everything.
func (b *BorrowerOperations) RepayDebtToken(owner Identity, amount uint64, upperHint, lowerHint Identity) (*AdjustResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	t, err := b.touch(owner)
	if err != nil {
		return nil, err
	}
	if amount > t.Debt {
		return nil, fmt.Errorf("%w: repayment %d exceeds debt %d", ErrInvalidAmount, amount, t.Debt)
	}
	if err := b.requireMinDebt(t.Debt - amount); err != nil {
		return nil, err
	}
	price, err := b.price()
	if err != nil {
		return nil, err
	}
	if err := b.token.Burn(walletKey(owner, ledger.DebtToken), amount, ledger.JournalTypeDebtRepay); err != nil {
		return nil, err
	}
	if err := b.tm.pools.DecreaseDebt(amount, ledger.JournalTypeDebtRepay); err != nil {
		return nil, err
	}
	if err := b.tm.update(owner, t.Coll, t.Debt-amount, upperHint, lowerHint); err != nil {
		return nil, err
	}
	return b.result(owner, price, 0)
}

// CloseTrove repays the entire debt from the owner's wallet and returns all
// collateral. The last active trove of an asset cannot be closed.
func (b *BorrowerOperations) CloseTrove(owner Identity) (*AdjustResult, error) {
	t, err := b.touch(owner)
	if err != nil {
		return nil, err
	}
	if err := b.tm.requireNotLast(owner); err != nil {
		return nil, err
	}
	if err := b.token.Burn(walletKey(owner, ledger.DebtToken), t.Debt, ledger.JournalTypeDebtRepay); err != nil {
		return nil, err
	}
	if err := b.tm.pools.DecreaseDebt(t.Debt, ledger.JournalTypeDebtRepay); err != nil {
		return nil, err
	}
	if err := b.tm.Close(owner, StatusClosedByOwner); err != nil {
		return nil, err
	}
	if err := b.tm.pools.SendColl(walletKey(owner, b.tm.asset), t.Coll, ledger.JournalTypeCollWithdraw); err != nil {
		return nil, err
	}
	return &AdjustResult{Coll: t.Coll, Debt: t.Debt}, nil
}

// ClaimCollateral releases the owner's collateral surplus.
func (b *BorrowerOperations) ClaimCollateral(owner Identity) (uint64, error) {
	return b.surplus.ClaimColl(owner, b.tm.asset)
}

// touch applies pending rewards and returns the refreshed trove.
func (b *BorrowerOperations) touch(owner Identity) (*Trove, error) {
	if err := b.tm.ApplyPendingRewards(owner); err != nil {
		return nil, err
	}
	return b.tm.GetTrove(owner)
}
