package state

import (
	"errors"
	"fmt"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
)

// LiquidationState classifies a candidate trove at the current price.
type LiquidationState uint8

const (
	// ICR >= MCR: rejected for single liquidation, skipped in a batch.
	StateSkippable LiquidationState = iota
	// Debt is reduced until the residual reaches PostLiquidationRatio; the
	// stability pool absorbs all of it and the trove stays active.
	StatePartialLiquidation
	// Full liquidation, the stability pool covers the entire debt.
	StateFullyOffsettable
	// Full liquidation, the pool covers part and the rest is redistributed.
	StatePartiallyOffsettable
	// Full liquidation with an empty pool.
	StateFullyRedistributable
)

func (s LiquidationState) String() string {
	switch s {
	case StateSkippable:
		return "skippable"
	case StatePartialLiquidation:
		return "partial"
	case StateFullyOffsettable:
		return "fully_offsettable"
	case StatePartiallyOffsettable:
		return "partially_offsettable"
	case StateFullyRedistributable:
		return "fully_redistributable"
	default:
		return "unknown"
	}
}

// TroveLiquidation is the outcome for one trove.
type TroveLiquidation struct {
	Owner             Identity
	State             LiquidationState
	ICR               uint64
	CollBefore        uint64 // including pending rewards
	DebtBefore        uint64 // including pending rewards
	GasCompensation   uint64
	DebtOffset        uint64
	CollToSP          uint64
	DebtRedistributed uint64
	CollRedistributed uint64
	CollSurplus       uint64
	ResidualColl      uint64 // partial only
	ResidualDebt      uint64 // partial only
}

// LiquidationResult aggregates one liquidation call.
type LiquidationResult struct {
	Asset             string
	Price             uint64
	Liquidated        []TroveLiquidation
	Skipped           []Identity
	GasCompensation   uint64
	DebtOffset        uint64
	CollToSP          uint64
	DebtRedistributed uint64
	CollRedistributed uint64
	CollSurplus       uint64
}

func (r *LiquidationResult) add(tl TroveLiquidation) {
	r.Liquidated = append(r.Liquidated, tl)
	r.GasCompensation += tl.GasCompensation
	r.DebtOffset += tl.DebtOffset
	r.CollToSP += tl.CollToSP
	r.DebtRedistributed += tl.DebtRedistributed
	r.CollRedistributed += tl.CollRedistributed
	r.CollSurplus += tl.CollSurplus
}

// LiquidationEngine liquidates undercollateralized troves of one asset.
type LiquidationEngine struct {
	tm      *TroveManager
	oracle  Oracle
	sp      StabilityPool
	surplus CollSurplusPool
}

func NewLiquidationEngine(tm *TroveManager, oracle Oracle, sp StabilityPool, surplus CollSurplusPool) *LiquidationEngine {
	return &LiquidationEngine{tm: tm, oracle: oracle, sp: sp, surplus: surplus}
}

// Liquidate liquidates a single trove. A trove at or above MCR fails with
// ErrNothingToLiquidate.
func (le *LiquidationEngine) Liquidate(owner, liquidator Identity) (*LiquidationResult, error) {
	return le.run(ownersOf([]Identity{owner}), liquidator, false)
}

// BatchLiquidate liquidates owners in order. Troves that are not active,
// not below MCR, or are the last trove are skipped.
func (le *LiquidationEngine) BatchLiquidate(owners []Identity, liquidator Identity) (*LiquidationResult, error) {
	return le.run(ownersOf(owners), liquidator, true)
}

// LiquidateTroves liquidates up to n troves from the tail of the list. The
// tail is re-read after every liquidation, so a trove that an earlier
// redistribution in the same call pushed below MCR is picked up too.
func (le *LiquidationEngine) LiquidateTroves(n uint64, liquidator Identity) (*LiquidationResult, error) {
	price, err := le.oracle.GetPrice(le.tm.asset)
	if err != nil {
		return nil, err
	}
	visited := make(map[Identity]struct{})
	next := func() (Identity, bool, error) {
		if uint64(len(visited)) >= n {
			return ZeroIdentity, false, nil
		}
		tail, err := le.tm.list.Last()
		if err != nil || tail.IsZero() {
			return ZeroIdentity, false, err
		}
		// A skipped or partially liquidated trove still at the tail ends the walk.
		if _, seen := visited[tail]; seen {
			return ZeroIdentity, false, nil
		}
		icr, err := le.tm.GetCurrentICR(tail, price)
		if err != nil {
			return ZeroIdentity, false, err
		}
		if icr >= le.tm.params.MCR {
			return ZeroIdentity, false, nil
		}
		visited[tail] = struct{}{}
		return tail, true, nil
	}
	return le.run(next, liquidator, true)
}

// ownerIter yields the next trove to liquidate; ok is false when done.
type ownerIter func() (owner Identity, ok bool, err error)

func ownersOf(owners []Identity) ownerIter {
	i := 0
	return func() (Identity, bool, error) {
		if i >= len(owners) {
			return ZeroIdentity, false, nil
		}
		i++
		return owners[i-1], true, nil
	}
}

func skippable(err error) bool {
	return errors.Is(err, ErrNothingToLiquidate) ||
		errors.Is(err, ErrTroveNotActive) ||
		errors.Is(err, ErrLastTrove)
}

func (le *LiquidationEngine) run(next ownerIter, liquidator Identity, batch bool) (*LiquidationResult, error) {
	price, err := le.oracle.GetPrice(le.tm.asset)
	if err != nil {
		return nil, err
	}
	res := &LiquidationResult{Asset: le.tm.asset, Price: price}
	spRemaining := le.sp.AvailableDebtToken()

	for {
		owner, ok, err := next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		tl, err := le.liquidateOne(owner, price, spRemaining)
		if err != nil {
			if batch && skippable(err) {
				res.Skipped = append(res.Skipped, owner)
				continue
			}
			return nil, err
		}
		spRemaining -= tl.DebtOffset
		res.add(*tl)
	}
	if len(res.Liquidated) == 0 {
		return nil, ErrNothingToLiquidate
	}

	// Single settlement for the whole call.
	if err := le.sp.Offset(le.tm.asset, res.DebtOffset, res.CollToSP); err != nil {
		return nil, err
	}
	if err := le.tm.pools.SendColl(walletKey(liquidator, le.tm.asset), res.GasCompensation, ledger.JournalTypeGasCompensation); err != nil {
		return nil, err
	}
	if err := le.tm.rewards.UpdateSystemSnapshots(); err != nil {
		return nil, err
	}
	return res, nil
}

// plan computes the split for a trove holding coll/debt at price without
// touching state.
func (le *LiquidationEngine) plan(coll, debt, price, spAvailable uint64) TroveLiquidation {
	p := le.tm.params
	tl := TroveLiquidation{CollBefore: coll, DebtBefore: debt, ICR: fpmath.CurrentICR(coll, debt, price)}

	// Partial: remove x debt and x*(1+penalty)/price collateral so that
	// (coll*price - x*(1+penalty)) / (debt - x) = R, i.e.
	// x = (R*debt - coll*price) / (R - 1 - penalty).
	value := fpmath.Mul(coll, price)
	target := fpmath.Mul(p.PostLiquidationRatio, debt)
	if target > value {
		x := fpmath.MulDivUp(target-value, fpmath.Precision, p.PostLiquidationRatio-fpmath.Precision-p.LiquidationPenalty)
		collLiq := fpmath.MulDivDown(x, fpmath.Precision+p.LiquidationPenalty, price)
		if x < debt && debt-x >= p.MinNetDebt && collLiq < coll && x <= spAvailable {
			gas := fpmath.Min(fpmath.Mul(collLiq, p.GasCompensationRate), p.MaxGasCompensation)
			tl.State = StatePartialLiquidation
			tl.GasCompensation = gas
			tl.DebtOffset = x
			tl.CollToSP = collLiq - gas
			tl.ResidualColl = coll - collLiq
			tl.ResidualDebt = debt - x
			return tl
		}
	}

	collLiq := fpmath.Min(coll, fpmath.MulDivDown(debt, fpmath.Precision+p.LiquidationPenalty, price))
	gas := fpmath.Min(fpmath.Mul(collLiq, p.GasCompensationRate), p.MaxGasCompensation)
	toLiquidate := collLiq - gas

	offset := fpmath.Min(debt, spAvailable)
	collToSP := fpmath.MulDivDown(toLiquidate, offset, debt)

	tl.GasCompensation = gas
	tl.CollSurplus = coll - collLiq
	tl.DebtOffset = offset
	tl.CollToSP = collToSP
	tl.DebtRedistributed = debt - offset
	tl.CollRedistributed = toLiquidate - collToSP

	switch {
	case offset == debt:
		tl.State = StateFullyOffsettable
	case offset > 0:
		tl.State = StatePartiallyOffsettable
	default:
		tl.State = StateFullyRedistributable
	}
	return tl
}

func (le *LiquidationEngine) liquidateOne(owner Identity, price, spAvailable uint64) (*TroveLiquidation, error) {
	t, err := le.tm.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, fmt.Errorf("%w: %s on %s", ErrTroveNotActive, owner, le.tm.asset)
	}
	e, err := le.tm.GetEntireDebtAndColl(owner)
	if err != nil {
		return nil, err
	}
	icr := fpmath.CurrentICR(e.Coll, e.Debt, price)
	if icr >= le.tm.params.MCR {
		return nil, fmt.Errorf("%w: %s icr %s >= mcr %s", ErrNothingToLiquidate, owner,
			fpmath.FormatAmount(icr), fpmath.FormatAmount(le.tm.params.MCR))
	}

	tl := le.plan(e.Coll, e.Debt, price, spAvailable)
	tl.Owner = owner

	if tl.State != StatePartialLiquidation {
		size, err := le.tm.list.Size()
		if err != nil {
			return nil, err
		}
		if size <= 1 {
			return nil, fmt.Errorf("%w: %s on %s", ErrLastTrove, owner, le.tm.asset)
		}
		if tl.DebtRedistributed > 0 || tl.CollRedistributed > 0 {
			totals, err := le.tm.rewards.Totals()
			if err != nil {
				return nil, err
			}
			if totals.TotalStakes <= t.Stake {
				return nil, fmt.Errorf("%w: no other stake on %s to absorb %s", ErrLastTrove, le.tm.asset, owner)
			}
		}
	}

	if err := le.tm.ApplyPendingRewards(owner); err != nil {
		return nil, err
	}

	if tl.State == StatePartialLiquidation {
		if err := le.tm.update(owner, tl.ResidualColl, tl.ResidualDebt, ZeroIdentity, ZeroIdentity); err != nil {
			return nil, err
		}
		return &tl, nil
	}

	if err := le.tm.Close(owner, StatusClosedByLiquidation); err != nil {
		return nil, err
	}
	if err := le.surplus.AccountSurplus(owner, le.tm.asset, tl.CollSurplus); err != nil {
		return nil, err
	}
	if err := le.tm.rewards.Redistribute(tl.DebtRedistributed, tl.CollRedistributed); err != nil {
		return nil, err
	}
	return &tl, nil
}
