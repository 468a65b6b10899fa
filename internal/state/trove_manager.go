package state

import (
	"fmt"

	fpmath "TroveLedger/internal/math"

	"github.com/ethereum/go-ethereum/rlp"
)

// TroveManager owns the troves of one collateral asset: their records, the
// sorted list and the reward bookkeeping.
type TroveManager struct {
	asset   string
	params  AssetParams
	db      kvDB
	list    *SortedList
	rewards *RewardDistributor
	pools   *Pools
}

func NewTroveManager(db kvDB, params AssetParams, pools *Pools) *TroveManager {
	tm := &TroveManager{
		asset:  params.Asset,
		params: params,
		db:     db,
		pools:  pools,
	}
	tm.rewards = NewRewardDistributor(db, params.Asset, pools)
	tm.list = NewSortedList(db, params.Asset, tm)
	return tm
}

func (tm *TroveManager) Asset() string              { return tm.asset }
func (tm *TroveManager) Params() AssetParams         { return tm.params }
func (tm *TroveManager) List() *SortedList           { return tm.list }
func (tm *TroveManager) Rewards() *RewardDistributor { return tm.rewards }
func (tm *TroveManager) Pools() *Pools               { return tm.pools }

// GetTrove returns the stored trove, or a NonExistent one.
func (tm *TroveManager) GetTrove(owner Identity) (*Trove, error) {
	t := newTrove(owner, tm.asset)
	if _, err := tm.db.get(troveKey(tm.asset, owner), t); err != nil {
		return nil, err
	}
	return t, nil
}

func (tm *TroveManager) saveTrove(t *Trove) error {
	return tm.db.put(troveKey(tm.asset, t.Owner), t)
}

func (tm *TroveManager) activeTrove(owner Identity) (*Trove, error) {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, fmt.Errorf("%w: %s on %s is %s", ErrTroveNotActive, owner, tm.asset, t.Status)
	}
	return t, nil
}

func (tm *TroveManager) GetTroveStatus(owner Identity) (TroveStatus, error) {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return StatusNonExistent, err
	}
	return t.Status, nil
}

// GetTroveColl returns the recorded collateral, excluding pending rewards.
func (tm *TroveManager) GetTroveColl(owner Identity) (uint64, error) {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return 0, err
	}
	return t.Coll, nil
}

// GetTroveDebt returns the recorded debt, excluding pending rewards.
func (tm *TroveManager) GetTroveDebt(owner Identity) (uint64, error) {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return 0, err
	}
	return t.Debt, nil
}

func (tm *TroveManager) GetTroveStake(owner Identity) (uint64, error) {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return 0, err
	}
	return t.Stake, nil
}

// EntireDebtAndColl is a trove's position including unapplied rewards.
type EntireDebtAndColl struct {
	Debt        uint64
	Coll        uint64
	PendingDebt uint64
	PendingColl uint64
}

// GetEntireDebtAndColl returns recorded plus pending debt and collateral.
func (tm *TroveManager) GetEntireDebtAndColl(owner Identity) (EntireDebtAndColl, error) {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return EntireDebtAndColl{}, err
	}
	totals, err := tm.rewards.Totals()
	if err != nil {
		return EntireDebtAndColl{}, err
	}
	return tm.entire(t, totals)
}

func (tm *TroveManager) entire(t *Trove, totals *AssetTotals) (EntireDebtAndColl, error) {
	pc, err := tm.rewards.PendingCollReward(t, totals)
	if err != nil {
		return EntireDebtAndColl{}, err
	}
	pd, err := tm.rewards.PendingDebtReward(t, totals)
	if err != nil {
		return EntireDebtAndColl{}, err
	}
	return EntireDebtAndColl{
		Debt:        t.Debt + pd,
		Coll:        t.Coll + pc,
		PendingDebt: pd,
		PendingColl: pc,
	}, nil
}

func (tm *TroveManager) GetPendingCollateralReward(owner Identity) (uint64, error) {
	e, err := tm.GetEntireDebtAndColl(owner)
	return e.PendingColl, err
}

func (tm *TroveManager) GetPendingDebtReward(owner Identity) (uint64, error) {
	e, err := tm.GetEntireDebtAndColl(owner)
	return e.PendingDebt, err
}

func (tm *TroveManager) HasPendingRewards(owner Identity) (bool, error) {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return false, err
	}
	totals, err := tm.rewards.Totals()
	if err != nil {
		return false, err
	}
	return tm.rewards.HasPendingRewards(t, totals), nil
}

// GetNominalICR returns coll*Precision/debt including pending rewards.
func (tm *TroveManager) GetNominalICR(owner Identity) (uint64, error) {
	e, err := tm.GetEntireDebtAndColl(owner)
	if err != nil {
		return 0, err
	}
	return fpmath.NominalICR(e.Coll, e.Debt), nil
}

// NominalICR implements NICRSource.
func (tm *TroveManager) NominalICR(id Identity) (uint64, error) {
	return tm.GetNominalICR(id)
}

// GetCurrentICR returns coll*price/debt including pending rewards.
func (tm *TroveManager) GetCurrentICR(owner Identity, price uint64) (uint64, error) {
	e, err := tm.GetEntireDebtAndColl(owner)
	if err != nil {
		return 0, err
	}
	return fpmath.CurrentICR(e.Coll, e.Debt, price), nil
}

// ApplyPendingRewards folds pending rewards into the trove, moves them from
// the default to the active pool, refreshes the snapshot and recomputes the
// stake. Calling it twice without a liquidation in between changes nothing.
func (tm *TroveManager) ApplyPendingRewards(owner Identity) error {
	t, err := tm.activeTrove(owner)
	if err != nil {
		return err
	}
	totals, err := tm.rewards.Totals()
	if err != nil {
		return err
	}
	e, err := tm.entire(t, totals)
	if err != nil {
		return err
	}

	t.Coll = e.Coll
	t.Debt = e.Debt
	tm.rewards.UpdateSnapshots(t, totals)
	tm.rewards.UpdateStakeAndTotalStakes(t, totals)

	if err := tm.pools.MoveFromDefault(e.PendingDebt, e.PendingColl); err != nil {
		return err
	}
	if err := tm.rewards.SaveTotals(totals); err != nil {
		return err
	}
	return tm.saveTrove(t)
}

// activate stores a new trove as Active with fresh snapshots and stake, and
// links it into the list.
func (tm *TroveManager) activate(owner Identity, coll, debt uint64, upperHint, lowerHint Identity) error {
	t, err := tm.GetTrove(owner)
	if err != nil {
		return err
	}
	if t.IsActive() {
		return fmt.Errorf("%w: %s on %s", ErrTroveAlreadyActive, owner, tm.asset)
	}
	totals, err := tm.rewards.Totals()
	if err != nil {
		return err
	}

	t.Coll = coll
	t.Debt = debt
	t.Status = StatusActive
	t.Stake = 0
	tm.rewards.UpdateSnapshots(t, totals)
	tm.rewards.UpdateStakeAndTotalStakes(t, totals)

	if err := tm.rewards.SaveTotals(totals); err != nil {
		return err
	}
	if err := tm.saveTrove(t); err != nil {
		return err
	}
	return tm.list.Insert(owner, fpmath.NominalICR(coll, debt), upperHint, lowerHint)
}

// update writes new coll/debt for an active trove whose rewards were already
// applied, recomputes its stake and re-sorts it.
func (tm *TroveManager) update(owner Identity, coll, debt uint64, upperHint, lowerHint Identity) error {
	t, err := tm.activeTrove(owner)
	if err != nil {
		return err
	}
	totals, err := tm.rewards.Totals()
	if err != nil {
		return err
	}

	t.Coll = coll
	t.Debt = debt
	tm.rewards.UpdateStakeAndTotalStakes(t, totals)

	if err := tm.rewards.SaveTotals(totals); err != nil {
		return err
	}
	if err := tm.saveTrove(t); err != nil {
		return err
	}
	return tm.list.ReInsert(owner, fpmath.NominalICR(coll, debt), upperHint, lowerHint)
}

// requireNotLast refuses to take the only active trove out of the list.
func (tm *TroveManager) requireNotLast(owner Identity) error {
	size, err := tm.list.Size()
	if err != nil {
		return err
	}
	if size <= 1 {
		return fmt.Errorf("%w: cannot close %s on %s", ErrLastTrove, owner, tm.asset)
	}
	return nil
}

// Close zeroes the trove, removes its stake, marks it with status and
// unlinks it. The last active trove of an asset cannot be closed.
func (tm *TroveManager) Close(owner Identity, status TroveStatus) error {
	if status == StatusActive || status == StatusNonExistent {
		return fmt.Errorf("close %s: invalid closing status %s", owner, status)
	}
	t, err := tm.activeTrove(owner)
	if err != nil {
		return err
	}
	if err := tm.requireNotLast(owner); err != nil {
		return err
	}
	totals, err := tm.rewards.Totals()
	if err != nil {
		return err
	}

	tm.rewards.RemoveStake(t, totals)
	t.Coll = 0
	t.Debt = 0
	t.Status = status
	t.Snapshot = newTrove(owner, tm.asset).Snapshot

	if err := tm.rewards.SaveTotals(totals); err != nil {
		return err
	}
	if err := tm.saveTrove(t); err != nil {
		return err
	}
	return tm.list.Remove(owner)
}

func (tm *TroveManager) ActiveTroveCount() (uint64, error) {
	return tm.list.Size()
}

// GetEntireSystemColl is active plus default pool collateral.
func (tm *TroveManager) GetEntireSystemColl() uint64 {
	return tm.pools.ActiveColl() + tm.pools.DefaultColl()
}

// GetEntireSystemDebt is active plus default pool debt.
func (tm *TroveManager) GetEntireSystemDebt() uint64 {
	return tm.pools.ActiveDebt() + tm.pools.DefaultDebt()
}

// GetTCR returns the asset's total collateral ratio at price.
func (tm *TroveManager) GetTCR(price uint64) uint64 {
	return fpmath.CurrentICR(tm.GetEntireSystemColl(), tm.GetEntireSystemDebt(), price)
}

// ForEachTrove visits every stored trove of the asset, closed ones included.
func (tm *TroveManager) ForEachTrove(fn func(t *Trove) bool) error {
	var decodeErr error
	err := tm.db.kv.Iterate(trovePrefix(tm.asset), func(k, v []byte) bool {
		t := newTrove(ZeroIdentity, tm.asset)
		if err := rlp.DecodeBytes(v, t); err != nil {
			decodeErr = fmt.Errorf("decode %s: %w", k, err)
			return false
		}
		return fn(t)
	})
	if err != nil {
		return err
	}
	return decodeErr
}
