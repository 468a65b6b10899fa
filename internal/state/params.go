package state

import (
	"fmt"

	fpmath "TroveLedger/internal/math"
)

// Fee constants shared by every asset.
const (
	Beta                = 2
	MaxRedemptionFee    = fpmath.Precision // 100%
	DefaultMaxListSize  = 100_000
	DefaultGasCompCap   = 100 * fpmath.Precision
	DefaultMinNetDebt   = 500 * fpmath.Precision
	DefaultMCR          = 1_200_000_000
	DefaultResidualICR  = 1_300_000_000
	DefaultPenalty      = 100_000_000 // 10%
	DefaultGasCompRate  = 5_000_000   // 0.5%
	DefaultFeeFloor     = 5_000_000   // 0.5%
	DefaultMaxBorrowFee = 50_000_000  // 5%
)

// AssetParams are the per-collateral protocol parameters. Ratios and rates use
// Precision scale (1_200_000_000 = 1.2, 5_000_000 = 0.5%).
type AssetParams struct {
	Asset                string   `json:"asset" yaml:"asset"`
	Oracle               Identity `json:"oracle" yaml:"oracle"` // only source allowed to post prices
	MCR                  uint64   `json:"mcr" yaml:"mcr"`
	PostLiquidationRatio uint64   `json:"post_liquidation_ratio" yaml:"post_liquidation_ratio"` // residual ICR target of a partial liquidation
	LiquidationPenalty   uint64   `json:"liquidation_penalty" yaml:"liquidation_penalty"`
	GasCompensationRate  uint64   `json:"gas_compensation_rate" yaml:"gas_compensation_rate"`
	MaxGasCompensation   uint64   `json:"max_gas_compensation" yaml:"max_gas_compensation"` // collateral units
	MinNetDebt           uint64   `json:"min_net_debt" yaml:"min_net_debt"`
	MaxListSize          uint64   `json:"max_list_size" yaml:"max_list_size"`
	BorrowingFeeFloor    uint64   `json:"borrowing_fee_floor" yaml:"borrowing_fee_floor"`
	MaxBorrowingFee      uint64   `json:"max_borrowing_fee" yaml:"max_borrowing_fee"`
	RedemptionFeeFloor   uint64   `json:"redemption_fee_floor" yaml:"redemption_fee_floor"`
}

// DefaultAssetParams returns the standard parameter set for a new asset.
func DefaultAssetParams(asset string, oracle Identity) AssetParams {
	return AssetParams{
		Asset:                asset,
		Oracle:               oracle,
		MCR:                  DefaultMCR,
		PostLiquidationRatio: DefaultResidualICR,
		LiquidationPenalty:   DefaultPenalty,
		GasCompensationRate:  DefaultGasCompRate,
		MaxGasCompensation:   DefaultGasCompCap,
		MinNetDebt:           DefaultMinNetDebt,
		MaxListSize:          DefaultMaxListSize,
		BorrowingFeeFloor:    DefaultFeeFloor,
		MaxBorrowingFee:      DefaultMaxBorrowFee,
		RedemptionFeeFloor:   DefaultFeeFloor,
	}
}

// ValidateAssetParams checks that parameters are within valid ranges:
// mcr > 1, residual > 1 + penalty, residual > mcr, fee floors below caps.
func ValidateAssetParams(p *AssetParams) error {
	if p.Asset == "" {
		return fmt.Errorf("%w: asset symbol is empty", ErrInvalidParams)
	}
	if p.Oracle.IsZero() {
		return fmt.Errorf("%w: oracle identity is zero", ErrInvalidParams)
	}
	if p.MCR <= fpmath.Precision {
		return fmt.Errorf("%w: mcr must be > 1, got %s", ErrInvalidParams, fpmath.FormatAmount(p.MCR))
	}
	if p.LiquidationPenalty >= fpmath.Precision {
		return fmt.Errorf("%w: liquidation penalty must be < 100%%", ErrInvalidParams)
	}
	if p.PostLiquidationRatio <= fpmath.Precision+p.LiquidationPenalty {
		return fmt.Errorf("%w: post-liquidation ratio (%s) must exceed 1 + penalty (%s)", ErrInvalidParams,
			fpmath.FormatAmount(p.PostLiquidationRatio), fpmath.FormatAmount(fpmath.Precision+p.LiquidationPenalty))
	}
	if p.PostLiquidationRatio <= p.MCR {
		return fmt.Errorf("%w: post-liquidation ratio must exceed mcr", ErrInvalidParams)
	}
	if p.GasCompensationRate >= fpmath.Precision {
		return fmt.Errorf("%w: gas compensation rate must be < 100%%", ErrInvalidParams)
	}
	if p.MinNetDebt == 0 {
		return fmt.Errorf("%w: min net debt must be > 0", ErrInvalidParams)
	}
	if p.MaxListSize == 0 {
		return fmt.Errorf("%w: max list size must be > 0", ErrInvalidParams)
	}
	if p.BorrowingFeeFloor > p.MaxBorrowingFee || p.MaxBorrowingFee > fpmath.Precision {
		return fmt.Errorf("%w: borrowing fee floor must be <= max borrowing fee <= 100%%", ErrInvalidParams)
	}
	if p.RedemptionFeeFloor > MaxRedemptionFee {
		return fmt.Errorf("%w: redemption fee floor must be <= 100%%", ErrInvalidParams)
	}
	return nil
}
