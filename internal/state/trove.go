package state

import "github.com/holiman/uint256"

// TroveStatus tracks the lifecycle of a trove
type TroveStatus uint8

const (
	StatusNonExistent TroveStatus = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s TroveStatus) String() string {
	switch s {
	case StatusNonExistent:
		return "non_existent"
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closed_by_owner"
	case StatusClosedByLiquidation:
		return "closed_by_liquidation"
	case StatusClosedByRedemption:
		return "closed_by_redemption"
	default:
		return "unknown"
	}
}

// RewardSnapshot holds the accumulator values at the trove's last touch.
type RewardSnapshot struct {
	CollPerUnitStaked *uint256.Int
	DebtPerUnitStaked *uint256.Int
}

// Trove is one owner's position in one collateral asset. Closed troves stay
// in storage with their closing status.
type Trove struct {
	Owner    Identity
	Asset    string
	Coll     uint64
	Debt     uint64
	Status   TroveStatus
	Stake    uint64
	Snapshot RewardSnapshot
}

func newTrove(owner Identity, asset string) *Trove {
	return &Trove{
		Owner:  owner,
		Asset:  asset,
		Status: StatusNonExistent,
		Snapshot: RewardSnapshot{
			CollPerUnitStaked: new(uint256.Int),
			DebtPerUnitStaked: new(uint256.Int),
		},
	}
}

func (t *Trove) IsActive() bool {
	return t.Status == StatusActive
}

// AssetTotals are the per-asset globals shared by rewards and fees.
type AssetTotals struct {
	TotalStakes             uint64
	TotalStakesSnapshot     uint64
	TotalCollateralSnapshot uint64

	LColl         *uint256.Int // collateral reward per unit staked
	LDebt         *uint256.Int // debt reward per unit staked
	LastCollError *uint256.Int
	LastDebtError *uint256.Int

	BaseRate             uint64
	LastFeeOperationTime uint64 // unix seconds
}

func newAssetTotals() *AssetTotals {
	return &AssetTotals{
		LColl:         new(uint256.Int),
		LDebt:         new(uint256.Int),
		LastCollError: new(uint256.Int),
		LastDebtError: new(uint256.Int),
	}
}
