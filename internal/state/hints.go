package state

import (
	fpmath "TroveLedger/internal/math"
)

// RedemptionHints is a precomputed plan for a redemption call.
type RedemptionHints struct {
	FirstHint       Identity // first trove the redemption will hit
	PartialNICR     uint64   // NICR the last trove will end with, 0 if none
	TruncatedAmount uint64   // amount that can actually be redeemed
}

// GetRedemptionHints simulates RedeemCollateral without mutating state. The
// caller passes PartialNICR back as the stale-hint guard and can feed it to
// FindInsertPosition for upper and lower hints.
func (re *RedemptionEngine) GetRedemptionHints(amount, price, maxIterations uint64) (*RedemptionHints, error) {
	tm := re.tm
	first, err := re.firstRedeemable(price)
	if err != nil {
		return nil, err
	}
	hints := &RedemptionHints{FirstHint: first}
	size, err := tm.list.Size()
	if err != nil {
		return nil, err
	}

	remaining := amount
	cur := first
	for iter := uint64(0); !cur.IsZero() && remaining > 0 && (maxIterations == 0 || iter < maxIterations); iter++ {
		e, err := tm.GetEntireDebtAndColl(cur)
		if err != nil {
			return nil, err
		}
		if e.Debt > remaining {
			if e.Debt-remaining >= tm.params.MinNetDebt {
				newColl := e.Coll - fpmath.Min(e.Coll, fpmath.MulDivDown(remaining, fpmath.Precision, price))
				hints.PartialNICR = fpmath.NominalICR(newColl, e.Debt-remaining)
				remaining = 0
			}
			break
		}
		if size <= 1 {
			break
		}
		remaining -= e.Debt
		size--
		if cur, err = tm.list.Prev(cur); err != nil {
			return nil, err
		}
	}

	hints.TruncatedAmount = amount - remaining
	return hints, nil
}
