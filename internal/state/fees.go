package state

import (
	fpmath "TroveLedger/internal/math"
)

const secondsPerMinute = 60

// FeeDecayModel maintains an asset's base rate. The rate decays by
// MinuteDecayFactor per elapsed minute and is bumped by every borrow and
// redemption in proportion to the share of system debt moved.
type FeeDecayModel struct {
	rewards *RewardDistributor
	params  AssetParams
	now     uint64
}

func NewFeeDecayModel(rewards *RewardDistributor, params AssetParams, now uint64) *FeeDecayModel {
	return &FeeDecayModel{rewards: rewards, params: params, now: now}
}

func minutesPassed(totals *AssetTotals, now uint64) uint64 {
	if now <= totals.LastFeeOperationTime {
		return 0
	}
	return (now - totals.LastFeeOperationTime) / secondsPerMinute
}

// DecayedBaseRate returns base_rate * factor^minutes at the model's clock.
func (f *FeeDecayModel) DecayedBaseRate() (uint64, error) {
	totals, err := f.rewards.Totals()
	if err != nil {
		return 0, err
	}
	return f.decayed(totals), nil
}

func (f *FeeDecayModel) decayed(totals *AssetTotals) uint64 {
	factor := fpmath.DecPow(fpmath.MinuteDecayFactor, minutesPassed(totals, f.now))
	return fpmath.Mul(totals.BaseRate, factor)
}

// BorrowingRate is floor + decayed base rate, capped at MaxBorrowingFee.
func (f *FeeDecayModel) BorrowingRate() (uint64, error) {
	base, err := f.DecayedBaseRate()
	if err != nil {
		return 0, err
	}
	return f.borrowingRate(base), nil
}

func (f *FeeDecayModel) borrowingRate(base uint64) uint64 {
	return fpmath.Min(f.params.BorrowingFeeFloor+base, f.params.MaxBorrowingFee)
}

// RedemptionRate is floor + decayed base rate, capped at 100%.
func (f *FeeDecayModel) RedemptionRate() (uint64, error) {
	base, err := f.DecayedBaseRate()
	if err != nil {
		return 0, err
	}
	return f.redemptionRate(base), nil
}

func (f *FeeDecayModel) redemptionRate(base uint64) uint64 {
	return fpmath.Min(f.params.RedemptionFeeFloor+base, MaxRedemptionFee)
}

// bump decays the stored rate, adds moved/totalDebt/Beta and stores the
// result. The fee operation time only advances by whole minutes so frequent
// operations cannot stall the decay.
func (f *FeeDecayModel) bump(totals *AssetTotals, moved, totalDebt uint64) uint64 {
	rate := f.decayed(totals)
	if totalDebt > 0 {
		rate += fpmath.MulDivDown(moved, fpmath.Precision, totalDebt) / Beta
	}
	if rate > fpmath.Precision {
		rate = fpmath.Precision
	}
	totals.BaseRate = rate
	if minutes := minutesPassed(totals, f.now); minutes > 0 {
		totals.LastFeeOperationTime += minutes * secondsPerMinute
	}
	if totals.LastFeeOperationTime == 0 {
		totals.LastFeeOperationTime = f.now
	}
	return rate
}

// BorrowingFee charges amount at the pre-operation rate, then raises the base
// rate by the borrowed share of totalDebt. totalDebt includes the new debt.
func (f *FeeDecayModel) BorrowingFee(amount, totalDebt uint64) (uint64, error) {
	totals, err := f.rewards.Totals()
	if err != nil {
		return 0, err
	}
	fee := fpmath.Mul(amount, f.borrowingRate(f.decayed(totals)))
	f.bump(totals, amount, totalDebt)
	if err := f.rewards.SaveTotals(totals); err != nil {
		return 0, err
	}
	return fee, nil
}

// RedemptionFee first raises the base rate by the redeemed share of
// totalDebt (measured before the redemption), then charges collDrawn at the
// new rate. The fee must leave some collateral for the redeemer.
func (f *FeeDecayModel) RedemptionFee(collDrawn, debtRedeemed, totalDebt uint64) (uint64, error) {
	totals, err := f.rewards.Totals()
	if err != nil {
		return 0, err
	}
	base := f.bump(totals, debtRedeemed, totalDebt)
	fee := fpmath.Mul(collDrawn, f.redemptionRate(base))
	if fee >= collDrawn {
		return 0, ErrFeeExceedsCollateral
	}
	if err := f.rewards.SaveTotals(totals); err != nil {
		return 0, err
	}
	return fee, nil
}
