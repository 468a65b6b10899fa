package state

import "errors"

var (
	ErrNotOwner                    = errors.New("trove manager: caller is not the protocol owner")
	ErrNotAuthorized               = errors.New("trove manager: caller not authorized")
	ErrBelowMinimumCollateralRatio = errors.New("trove manager: collateral ratio below minimum")
	ErrBelowMinimumDebt            = errors.New("trove manager: net debt below minimum")
	ErrTroveNotActive              = errors.New("trove manager: trove not active")
	ErrTroveAlreadyActive          = errors.New("trove manager: trove already active")
	ErrListFull                    = errors.New("sorted troves: list is full")
	ErrStaleHint                   = errors.New("trove manager: hint no longer matches current ordering")
	ErrInvalidAsset                = errors.New("trove manager: asset not registered")
	ErrNothingToLiquidate          = errors.New("trove manager: nothing to liquidate")

	ErrInvalidAmount          = errors.New("trove manager: invalid amount")
	ErrInsufficientBalance    = errors.New("trove manager: insufficient balance")
	ErrLastTrove              = errors.New("trove manager: only one trove in the system")
	ErrNothingToRedeem        = errors.New("trove manager: unable to redeem any amount")
	ErrNothingToClaim         = errors.New("trove manager: no collateral available to claim")
	ErrPriceUnavailable       = errors.New("trove manager: no price for asset")
	ErrAssetAlreadyRegistered = errors.New("trove manager: asset already registered")
	ErrInvalidICR             = errors.New("sorted troves: ICR must be positive")
	ErrInvalidIdentity        = errors.New("trove manager: identity must be non-zero")
	ErrFeeExceedsCollateral   = errors.New("trove manager: fee would eat up all returned collateral")
	ErrInvalidParams          = errors.New("trove manager: invalid asset params")
)
