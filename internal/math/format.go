package math

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const precisionExp int32 = -9

// ToDecimal converts a Precision-scaled amount to a decimal.
func ToDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), precisionExp)
}

// FormatAmount renders a Precision-scaled amount in human units, e.g.
// 1_500_000_000 -> "1.5".
func FormatAmount(v uint64) string {
	if v == MaxICR {
		return "inf"
	}
	return ToDecimal(v).String()
}

// ParseAmount parses a human-unit decimal string into Precision scale.
// Digits beyond nine decimal places are rejected rather than rounded.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(-precisionExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: more than 9 decimal places", s)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("parse amount %q: %w", s, ErrOverflow)
	}
	return bi.Uint64(), nil
}
