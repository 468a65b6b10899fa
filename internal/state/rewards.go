package state

import (
	"fmt"

	fpmath "TroveLedger/internal/math"

	"github.com/holiman/uint256"
)

var precision256 = uint256.NewInt(fpmath.Precision)

// RewardDistributor spreads liquidated debt and collateral over active
// troves lazily. Each liquidation bumps two per-unit-staked accumulators; a
// trove collects stake * (accumulator - snapshot) the next time it is touched.
type RewardDistributor struct {
	asset string
	db    kvDB
	pools *Pools
}

func NewRewardDistributor(db kvDB, asset string, pools *Pools) *RewardDistributor {
	return &RewardDistributor{asset: asset, db: db, pools: pools}
}

// Totals loads the asset's global totals, zeroed if none were stored yet.
func (r *RewardDistributor) Totals() (*AssetTotals, error) {
	t := newAssetTotals()
	if _, err := r.db.get(totalsKey(r.asset), t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *RewardDistributor) SaveTotals(t *AssetTotals) error {
	return r.db.put(totalsKey(r.asset), t)
}

func pendingReward(stake uint64, current, snapshot *uint256.Int) (uint64, error) {
	if stake == 0 || current.Cmp(snapshot) <= 0 {
		return 0, nil
	}
	delta := new(uint256.Int).Sub(current, snapshot)
	reward := new(uint256.Int).Mul(uint256.NewInt(stake), delta)
	reward.Div(reward, precision256)
	if !reward.IsUint64() {
		return 0, fpmath.ErrOverflow
	}
	return reward.Uint64(), nil
}

// PendingCollReward returns the collateral t would receive if touched now.
func (r *RewardDistributor) PendingCollReward(t *Trove, totals *AssetTotals) (uint64, error) {
	if !t.IsActive() {
		return 0, nil
	}
	return pendingReward(t.Stake, totals.LColl, t.Snapshot.CollPerUnitStaked)
}

// PendingDebtReward returns the debt t would receive if touched now.
func (r *RewardDistributor) PendingDebtReward(t *Trove, totals *AssetTotals) (uint64, error) {
	if !t.IsActive() {
		return 0, nil
	}
	return pendingReward(t.Stake, totals.LDebt, t.Snapshot.DebtPerUnitStaked)
}

// HasPendingRewards reports whether the accumulators moved since t's snapshot.
func (r *RewardDistributor) HasPendingRewards(t *Trove, totals *AssetTotals) bool {
	if !t.IsActive() {
		return false
	}
	return t.Snapshot.CollPerUnitStaked.Lt(totals.LColl) || t.Snapshot.DebtPerUnitStaked.Lt(totals.LDebt)
}

func (r *RewardDistributor) UpdateSnapshots(t *Trove, totals *AssetTotals) {
	t.Snapshot.CollPerUnitStaked = new(uint256.Int).Set(totals.LColl)
	t.Snapshot.DebtPerUnitStaked = new(uint256.Int).Set(totals.LDebt)
}

// ComputeNewStake scales coll by the stake/collateral ratio recorded at the
// last liquidation, so earlier troves are not diluted by redistributed
// collateral they already own.
func (r *RewardDistributor) ComputeNewStake(coll uint64, totals *AssetTotals) uint64 {
	if totals.TotalCollateralSnapshot == 0 {
		return coll
	}
	return fpmath.MulDivDown(coll, totals.TotalStakesSnapshot, totals.TotalCollateralSnapshot)
}

// UpdateStakeAndTotalStakes recomputes t's stake and adjusts the total.
func (r *RewardDistributor) UpdateStakeAndTotalStakes(t *Trove, totals *AssetTotals) {
	newStake := r.ComputeNewStake(t.Coll, totals)
	totals.TotalStakes = totals.TotalStakes - t.Stake + newStake
	t.Stake = newStake
}

// RemoveStake drops t's stake from the total.
func (r *RewardDistributor) RemoveStake(t *Trove, totals *AssetTotals) {
	totals.TotalStakes -= t.Stake
	t.Stake = 0
}

func accumulate(amount uint64, lastError *uint256.Int, stakes *uint256.Int) (perStake, remainder *uint256.Int) {
	num := new(uint256.Int).Mul(uint256.NewInt(amount), precision256)
	num.Add(num, lastError)
	perStake, remainder = new(uint256.Int), new(uint256.Int)
	perStake.DivMod(num, stakes, remainder)
	return perStake, remainder
}

// Redistribute spreads debt and coll over all remaining stakes and parks the
// amounts in the default pool. The liquidated trove's stake must already be
// removed.
func (r *RewardDistributor) Redistribute(debt, coll uint64) error {
	if debt == 0 && coll == 0 {
		return nil
	}
	totals, err := r.Totals()
	if err != nil {
		return err
	}
	if totals.TotalStakes == 0 {
		return fmt.Errorf("%w: cannot redistribute %d debt on %s", ErrLastTrove, debt, r.asset)
	}

	stakes := uint256.NewInt(totals.TotalStakes)
	collPerStake, collErr := accumulate(coll, totals.LastCollError, stakes)
	debtPerStake, debtErr := accumulate(debt, totals.LastDebtError, stakes)

	totals.LColl = new(uint256.Int).Add(totals.LColl, collPerStake)
	totals.LDebt = new(uint256.Int).Add(totals.LDebt, debtPerStake)
	totals.LastCollError = collErr
	totals.LastDebtError = debtErr

	if err := r.SaveTotals(totals); err != nil {
		return err
	}
	return r.pools.MoveToDefault(debt, coll)
}

// UpdateSystemSnapshots records total stakes and total system collateral
// after a liquidation; new stakes are scaled by their ratio.
func (r *RewardDistributor) UpdateSystemSnapshots() error {
	totals, err := r.Totals()
	if err != nil {
		return err
	}
	totals.TotalStakesSnapshot = totals.TotalStakes
	totals.TotalCollateralSnapshot = r.pools.ActiveColl() + r.pools.DefaultColl()
	return r.SaveTotals(totals)
}
