package state

import (
	"fmt"

	fpmath "TroveLedger/internal/math"
)

// CheckInvariants verifies the asset's bookkeeping: list order and size,
// pool balances against trove sums, total stakes, and pending rewards
// covered by the default pool.
func (tm *TroveManager) CheckInvariants() error {
	totals, err := tm.rewards.Totals()
	if err != nil {
		return err
	}

	var sumColl, sumDebt, sumStake, pendColl, pendDebt, active uint64
	var iterErr error
	err = tm.ForEachTrove(func(t *Trove) bool {
		if !t.IsActive() {
			if t.Coll != 0 || t.Debt != 0 || t.Stake != 0 {
				iterErr = fmt.Errorf("closed trove %s still holds coll=%d debt=%d stake=%d", t.Owner, t.Coll, t.Debt, t.Stake)
				return false
			}
			return true
		}
		e, err := tm.entire(t, totals)
		if err != nil {
			iterErr = err
			return false
		}
		active++
		sumColl += t.Coll
		sumDebt += t.Debt
		sumStake += t.Stake
		pendColl += e.PendingColl
		pendDebt += e.PendingDebt
		return true
	})
	if err != nil {
		return err
	}
	if iterErr != nil {
		return iterErr
	}

	if got := tm.pools.ActiveColl(); got != sumColl {
		return fmt.Errorf("%s: active pool collateral %d != sum of trove collateral %d", tm.asset, got, sumColl)
	}
	if got := tm.pools.ActiveDebt(); got != sumDebt {
		return fmt.Errorf("%s: active pool debt %d != sum of trove debt %d", tm.asset, got, sumDebt)
	}
	if sumStake != totals.TotalStakes {
		return fmt.Errorf("%s: total stakes %d != sum of stakes %d", tm.asset, totals.TotalStakes, sumStake)
	}
	if pendColl > tm.pools.DefaultColl() || pendDebt > tm.pools.DefaultDebt() {
		return fmt.Errorf("%s: pending rewards (coll=%d debt=%d) exceed default pool (coll=%d debt=%d)",
			tm.asset, pendColl, pendDebt, tm.pools.DefaultColl(), tm.pools.DefaultDebt())
	}

	size, err := tm.list.Size()
	if err != nil {
		return err
	}
	if size != active {
		return fmt.Errorf("%s: list size %d != active troves %d", tm.asset, size, active)
	}
	return tm.checkListOrder(size)
}

func (tm *TroveManager) checkListOrder(size uint64) error {
	var prev Identity
	prevICR := fpmath.MaxICR
	var count uint64
	err := tm.list.Walk(func(id Identity) (bool, error) {
		p, err := tm.list.Prev(id)
		if err != nil {
			return false, err
		}
		if p != prev {
			return false, fmt.Errorf("%s: %s has prev %s, expected %s", tm.asset, id, p, prev)
		}
		icr, err := tm.GetNominalICR(id)
		if err != nil {
			return false, err
		}
		if icr > prevICR {
			return false, fmt.Errorf("%s: list out of order at %s (%d > %d)", tm.asset, id, icr, prevICR)
		}
		prev, prevICR = id, icr
		count++
		return true, nil
	})
	if err != nil {
		return err
	}
	last, err := tm.list.Last()
	if err != nil {
		return err
	}
	if count != size || last != prev {
		return fmt.Errorf("%s: walked %d nodes ending at %s, size %d tail %s", tm.asset, count, prev, size, last)
	}
	return nil
}
